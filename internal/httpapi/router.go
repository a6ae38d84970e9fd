package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/playbookhq/readiness-engine/internal/api"
	"github.com/playbookhq/readiness-engine/internal/engine"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/services"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

// Backend is the facade the dashboard routes read from.
type Backend interface {
	DetectSignals(ctx context.Context, orgID string) ([]models.WeakSignal, error)
	DetectPatterns(ctx context.Context, orgID string) ([]models.OraclePattern, error)
	UpdatePatternStatus(ctx context.Context, orgID, patternID string, st models.PatternStatus) error
	ExtractLearnings(ctx context.Context, executionID, scenarioID string) ([]models.PlaybookLearning, error)
	MarkLearningApplied(ctx context.Context, orgID, learningID string) error
	CalculateReadiness(ctx context.Context, orgID string) (models.ReadinessMetric, error)
	ReadinessHistory(ctx context.Context, orgID string, limit int) ([]models.ReadinessMetric, error)
	GetSystemStatus(ctx context.Context, orgID string) (models.SystemStatus, error)
	GetActivityFeed(ctx context.Context, orgID string, limit int) ([]models.ActivityFeedEvent, error)
	RunCycle(ctx context.Context, orgID string) (engine.CycleReport, error)
	ListSignals(ctx context.Context, orgID string, st models.SignalStatus, limit int) ([]models.WeakSignal, error)
	ListPatterns(ctx context.Context, orgID string, st models.PatternStatus, limit int) ([]models.OraclePattern, error)
	ListLearnings(ctx context.Context, orgID string, limit int) ([]models.PlaybookLearning, error)
}

// Pinger reports storage liveness for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter builds the dashboard HTTP API.
func NewRouter(backend Backend, pinger Pinger, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{backend: backend, pinger: pinger, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	router.Get("/healthz", h.health)

	router.Route("/v1/orgs/{org}", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/activity", h.activity)
		r.Post("/cycle", h.cycle)

		r.Get("/readiness/history", h.readinessHistory)
		r.Post("/readiness/recompute", h.recompute)

		r.Get("/signals", h.listSignals)
		r.Post("/signals/detect", h.detectSignals)

		r.Get("/patterns", h.listPatterns)
		r.Post("/patterns/detect", h.detectPatterns)
		r.Patch("/patterns/{id}/status", h.updatePatternStatus)

		r.Get("/learnings", h.listLearnings)
		r.Post("/learnings/{id}/applied", h.markLearningApplied)
	})
	router.Post("/v1/executions/{id}/learnings", h.extractLearnings)

	return router
}

type handler struct {
	backend Backend
	pinger  Pinger
	logger  *slog.Logger
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "readiness-engine"})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.backend.GetSystemStatus(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) activity(w http.ResponseWriter, r *http.Request) {
	events, err := h.backend.GetActivityFeed(r.Context(), chi.URLParam(r, "org"), parseLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeItems(w, events)
}

func (h *handler) cycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.backend.RunCycle(r.Context(), chi.URLParam(r, "org"))
	if err != nil && !report.Failed() {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CycleSummary(report))
}

func (h *handler) readinessHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.backend.ReadinessHistory(r.Context(), chi.URLParam(r, "org"), parseLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeItems(w, history)
}

func (h *handler) recompute(w http.ResponseWriter, r *http.Request) {
	metric, err := h.backend.CalculateReadiness(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, metric)
}

func (h *handler) listSignals(w http.ResponseWriter, r *http.Request) {
	st := models.SignalStatus(r.URL.Query().Get("status"))
	out, err := h.backend.ListSignals(r.Context(), chi.URLParam(r, "org"), st, parseLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeItems(w, out)
}

func (h *handler) detectSignals(w http.ResponseWriter, r *http.Request) {
	out, err := h.backend.DetectSignals(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeItems(w, out)
}

func (h *handler) listPatterns(w http.ResponseWriter, r *http.Request) {
	st := models.PatternStatus(r.URL.Query().Get("status"))
	out, err := h.backend.ListPatterns(r.Context(), chi.URLParam(r, "org"), st, parseLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeItems(w, out)
}

func (h *handler) detectPatterns(w http.ResponseWriter, r *http.Request) {
	out, err := h.backend.DetectPatterns(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeItems(w, out)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *handler) updatePatternStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.backend.UpdatePatternStatus(r.Context(), chi.URLParam(r, "org"), id, models.PatternStatus(req.Status)); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

func (h *handler) listLearnings(w http.ResponseWriter, r *http.Request) {
	out, err := h.backend.ListLearnings(r.Context(), chi.URLParam(r, "org"), parseLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeItems(w, out)
}

func (h *handler) markLearningApplied(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.backend.MarkLearningApplied(r.Context(), chi.URLParam(r, "org"), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "applied": true})
}

type extractRequest struct {
	ScenarioID string `json:"scenario_id"`
}

func (h *handler) extractLearnings(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	out, err := h.backend.ExtractLearnings(r.Context(), chi.URLParam(r, "id"), req.ScenarioID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeItems(w, out)
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case utils.IsAppError(err):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, services.ErrNotConfigured):
		code = http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code == http.StatusInternalServerError {
		h.logger.Error("dashboard request failed", slog.Any("error", err))
	}
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

func writeItems[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
