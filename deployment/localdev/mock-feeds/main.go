package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"
)

type seriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type indicator struct {
	Source      string        `json:"source"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Horizon     string        `json:"horizon,omitempty"`
	Points      []seriesPoint `json:"points"`
}

type feedRequest struct {
	OrganizationID string `json:"organization_id"`
	Category       string `json:"category"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// series builds a daily series ending today that jumps to last on the final point.
func series(base, last float64, days int) []seriesPoint {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	out := make([]seriesPoint, 0, days)
	for i := days - 1; i > 0; i-- {
		jitter := float64(i%3) * 0.1 * base
		out = append(out, seriesPoint{Timestamp: now.Add(-time.Duration(i) * 24 * time.Hour), Value: base + jitter})
	}
	return append(out, seriesPoint{Timestamp: now, Value: last})
}

var feeds = map[string][]indicator{
	"regulatory": {
		{Source: "federal-register", Name: "proposed_rules", Description: "Proposed rules touching the sector", Horizon: "6-18 months", Points: series(4, 14, 10)},
		{Source: "eu-official-journal", Name: "consultations", Description: "Open regulatory consultations", Horizon: "12 months", Points: series(2, 9, 10)},
	},
	"competitor": {
		{Source: "press-monitor", Name: "competitor_launches", Description: "Competitor product launches", Points: series(1, 6, 10)},
	},
	"technology": {
		{Source: "patent-watch", Name: "patent_filings", Description: "Patent filings in adjacent technology", Points: series(20, 21, 10)},
	},
	"market": {
		{Source: "pricing-index", Name: "price_volatility", Description: "Category price volatility", Points: series(1.2, 4.8, 10)},
	},
	"supply_chain": {
		{Source: "port-tracker", Name: "dwell_time_days", Description: "Container dwell time at key ports", Points: series(3, 11, 10)},
		{Source: "supplier-risk", Name: "supplier_alerts", Description: "Supplier financial distress alerts", Points: series(1, 5, 10)},
	},
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/indicators", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req feedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		items, ok := feeds[req.Category]
		if !ok {
			items = []indicator{}
		}
		writeJSON(w, map[string]any{"indicators": items})
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		learnings, _ := json.Marshal([]string{
			"Escalate to the incident commander within 15 minutes when customer-facing systems are affected",
			"Pre-assign communication owners for regulator and customer updates before the next exercise",
			"Allocate a standby logistics budget so procurement can act without a second approval round",
		})
		writeJSON(w, map[string]any{
			"choices": []map[string]any{
				{"index": 0, "message": chatMessage{Role: "assistant", Content: string(learnings)}},
			},
		})
	})

	addr := os.Getenv("MOCK_FEEDS_ADDR")
	if addr == "" {
		addr = ":8090"
	}

	logger := log.New(log.Writer(), "feeds-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:              addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Printf("listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
