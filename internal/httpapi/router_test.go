package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/playbookhq/readiness-engine/internal/engine"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/services"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

type backendStub struct {
	lastOrg    string
	lastLimit  int
	lastStatus string
	statusErr  error
}

func (b *backendStub) DetectSignals(ctx context.Context, orgID string) ([]models.WeakSignal, error) {
	return nil, services.ErrNotConfigured
}

func (b *backendStub) DetectPatterns(ctx context.Context, orgID string) ([]models.OraclePattern, error) {
	return []models.OraclePattern{{ID: "p1", OrganizationID: orgID}}, nil
}

func (b *backendStub) UpdatePatternStatus(ctx context.Context, orgID, patternID string, st models.PatternStatus) error {
	b.lastStatus = string(st)
	if !st.Valid() {
		return utils.NewAppError("update pattern status", "unknown status", nil)
	}
	if patternID == "missing" {
		return models.ErrNotFound
	}
	return nil
}

func (b *backendStub) ExtractLearnings(ctx context.Context, executionID, scenarioID string) ([]models.PlaybookLearning, error) {
	return []models.PlaybookLearning{{ID: "l1", ExecutionInstanceID: executionID, ScenarioID: scenarioID}}, nil
}

func (b *backendStub) MarkLearningApplied(ctx context.Context, orgID, learningID string) error {
	return nil
}

func (b *backendStub) CalculateReadiness(ctx context.Context, orgID string) (models.ReadinessMetric, error) {
	return models.ReadinessMetric{OrganizationID: orgID, OverallScore: 70, MeasurementDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}, nil
}

func (b *backendStub) ReadinessHistory(ctx context.Context, orgID string, limit int) ([]models.ReadinessMetric, error) {
	b.lastLimit = limit
	return nil, nil
}

func (b *backendStub) GetSystemStatus(ctx context.Context, orgID string) (models.SystemStatus, error) {
	b.lastOrg = orgID
	if b.statusErr != nil {
		return models.SystemStatus{}, b.statusErr
	}
	return models.SystemStatus{OrganizationID: orgID, SystemStatus: models.HealthCritical}, nil
}

func (b *backendStub) GetActivityFeed(ctx context.Context, orgID string, limit int) ([]models.ActivityFeedEvent, error) {
	b.lastLimit = limit
	return []models.ActivityFeedEvent{{ID: "e1", OrganizationID: orgID}}, nil
}

func (b *backendStub) RunCycle(ctx context.Context, orgID string) (engine.CycleReport, error) {
	return engine.CycleReport{OrganizationID: orgID, Failures: map[string]error{}}, nil
}

func (b *backendStub) ListSignals(ctx context.Context, orgID string, st models.SignalStatus, limit int) ([]models.WeakSignal, error) {
	b.lastStatus = string(st)
	b.lastLimit = limit
	return nil, nil
}

func (b *backendStub) ListPatterns(ctx context.Context, orgID string, st models.PatternStatus, limit int) ([]models.OraclePattern, error) {
	return nil, nil
}

func (b *backendStub) ListLearnings(ctx context.Context, orgID string, limit int) ([]models.PlaybookLearning, error) {
	return nil, nil
}

type pingerStub struct{ err error }

func (p pingerStub) Ping(ctx context.Context) error { return p.err }

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	rec := serve(t, NewRouter(&backendStub{}, pingerStub{}, nil), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = serve(t, NewRouter(&backendStub{}, pingerStub{err: errors.New("db down")}, nil), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestStatusRoute(t *testing.T) {
	b := &backendStub{}
	rec := serve(t, NewRouter(b, nil, nil), http.MethodGet, "/v1/orgs/org-a/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["system_status"] != models.HealthCritical || b.lastOrg != "org-a" {
		t.Fatalf("unexpected body %v org=%q", body, b.lastOrg)
	}

	b.statusErr = errors.New("db down")
	rec = serve(t, NewRouter(b, nil, nil), http.MethodGet, "/v1/orgs/org-a/status", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestActivityAndListParams(t *testing.T) {
	b := &backendStub{}
	router := NewRouter(b, nil, nil)

	rec := serve(t, router, http.MethodGet, "/v1/orgs/org-a/activity?limit=7", "")
	if rec.Code != http.StatusOK || b.lastLimit != 7 {
		t.Fatalf("unexpected response %d limit=%d", rec.Code, b.lastLimit)
	}
	if decode(t, rec)["count"].(float64) != 1 {
		t.Fatalf("expected one item")
	}

	rec = serve(t, router, http.MethodGet, "/v1/orgs/org-a/signals?status=active&limit=abc", "")
	if rec.Code != http.StatusOK || b.lastStatus != "active" || b.lastLimit != 0 {
		t.Fatalf("unexpected list params status=%q limit=%d code=%d", b.lastStatus, b.lastLimit, rec.Code)
	}
	items, ok := decode(t, rec)["items"].([]any)
	if !ok || len(items) != 0 {
		t.Fatalf("empty lists must render as [], got %v", items)
	}
}

func TestRecomputeReturnsCreated(t *testing.T) {
	rec := serve(t, NewRouter(&backendStub{}, nil, nil), http.MethodPost, "/v1/orgs/org-a/readiness/recompute", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if decode(t, rec)["overall_score"].(float64) != 70 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestPatternStatusErrors(t *testing.T) {
	router := NewRouter(&backendStub{}, nil, nil)

	cases := []struct {
		path string
		body string
		code int
	}{
		{"/v1/orgs/org-a/patterns/p1/status", `{"status":"actioned"}`, http.StatusOK},
		{"/v1/orgs/org-a/patterns/p1/status", `{"status":"bogus"}`, http.StatusBadRequest},
		{"/v1/orgs/org-a/patterns/missing/status", `{"status":"dismissed"}`, http.StatusNotFound},
		{"/v1/orgs/org-a/patterns/p1/status", `{"unknown":true}`, http.StatusBadRequest},
		{"/v1/orgs/org-a/patterns/p1/status", ``, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := serve(t, router, http.MethodPatch, tc.path, tc.body)
		if rec.Code != tc.code {
			t.Fatalf("PATCH %s %q: expected %d, got %d (%s)", tc.path, tc.body, tc.code, rec.Code, rec.Body.String())
		}
	}
}

func TestUnconfiguredComponentReturnsNotImplemented(t *testing.T) {
	rec := serve(t, NewRouter(&backendStub{}, nil, nil), http.MethodPost, "/v1/orgs/org-a/signals/detect", "")
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestExtractLearningsAcceptsEmptyBody(t *testing.T) {
	router := NewRouter(&backendStub{}, nil, nil)
	rec := serve(t, router, http.MethodPost, "/v1/executions/exec-1/learnings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = serve(t, router, http.MethodPost, "/v1/executions/exec-1/learnings", `{"scenario_id":"scn-1"}`)
	items := decode(t, rec)["items"].([]any)
	if items[0].(map[string]any)["scenario_id"] != "scn-1" {
		t.Fatalf("scenario id not forwarded: %v", items)
	}
}

func TestCycleRoute(t *testing.T) {
	rec := serve(t, NewRouter(&backendStub{}, nil, nil), http.MethodPost, "/v1/orgs/org-a/cycle", "")
	if rec.Code != http.StatusOK || decode(t, rec)["organization_id"] != "org-a" {
		t.Fatalf("unexpected cycle response %d %s", rec.Code, rec.Body.String())
	}
}
