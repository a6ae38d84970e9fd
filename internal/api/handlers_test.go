package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/playbookhq/readiness-engine/internal/config"
	"github.com/playbookhq/readiness-engine/internal/engine"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

type backendStub struct {
	lastOrg     string
	lastLimit   int
	lastStatus  string
	scoreErr    error
	cycleReport engine.CycleReport
	cycleErr    error
}

func (b *backendStub) DetectSignals(ctx context.Context, orgID string) ([]models.WeakSignal, error) {
	b.lastOrg = orgID
	return []models.WeakSignal{{ID: "s1", OrganizationID: orgID, SignalType: models.SignalTypeMarket, Confidence: 61}}, nil
}

func (b *backendStub) DetectPatterns(ctx context.Context, orgID string) ([]models.OraclePattern, error) {
	return nil, nil
}

func (b *backendStub) UpdatePatternStatus(ctx context.Context, orgID, patternID string, st models.PatternStatus) error {
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
	if b.scoreErr != nil {
		return models.ReadinessMetric{}, b.scoreErr
	}
	return models.ReadinessMetric{
		OrganizationID:  orgID,
		OverallScore:    77,
		Trend:           models.TrendUp,
		MeasurementDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (b *backendStub) ReadinessHistory(ctx context.Context, orgID string, limit int) ([]models.ReadinessMetric, error) {
	b.lastLimit = limit
	return nil, nil
}

func (b *backendStub) GetSystemStatus(ctx context.Context, orgID string) (models.SystemStatus, error) {
	return models.SystemStatus{OrganizationID: orgID, SystemStatus: models.HealthCritical}, nil
}

func (b *backendStub) GetActivityFeed(ctx context.Context, orgID string, limit int) ([]models.ActivityFeedEvent, error) {
	b.lastLimit = limit
	return []models.ActivityFeedEvent{{ID: "e1"}, {ID: "e2"}}, nil
}

func (b *backendStub) RunCycle(ctx context.Context, orgID string) (engine.CycleReport, error) {
	return b.cycleReport, b.cycleErr
}

func (b *backendStub) ListSignals(ctx context.Context, orgID string, st models.SignalStatus, limit int) ([]models.WeakSignal, error) {
	b.lastStatus = string(st)
	return nil, nil
}

func (b *backendStub) ListPatterns(ctx context.Context, orgID string, st models.PatternStatus, limit int) ([]models.OraclePattern, error) {
	b.lastStatus = string(st)
	return nil, nil
}

func (b *backendStub) ListLearnings(ctx context.Context, orgID string, limit int) ([]models.PlaybookLearning, error) {
	return nil, nil
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	return s
}

func TestHandlersRequireOrganization(t *testing.T) {
	h := NewHandlers(&backendStub{})
	_, err := h.DetectSignals(context.Background(), mustStruct(t, map[string]any{}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestDetectSignalsResponseShape(t *testing.T) {
	b := &backendStub{}
	h := NewHandlers(b)
	out, err := h.DetectSignals(context.Background(), mustStruct(t, map[string]any{"organization_id": "org-a"}))
	if err != nil {
		t.Fatalf("detect signals: %v", err)
	}
	if b.lastOrg != "org-a" {
		t.Fatalf("org not forwarded: %q", b.lastOrg)
	}
	if out.Fields["count"].GetNumberValue() != 1 {
		t.Fatalf("unexpected count %v", out.Fields["count"])
	}
	items := out.Fields["items"].GetListValue().GetValues()
	if len(items) != 1 || items[0].GetStructValue().Fields["signal_type"].GetStringValue() != "market" {
		t.Fatalf("unexpected items %v", items)
	}
}

func TestUpdatePatternStatusErrorCodes(t *testing.T) {
	h := NewHandlers(&backendStub{})
	ctx := context.Background()

	_, err := h.UpdatePatternStatus(ctx, mustStruct(t, map[string]any{"organization_id": "org-a", "pattern_id": "p1", "status": "bogus"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	_, err = h.UpdatePatternStatus(ctx, mustStruct(t, map[string]any{"organization_id": "org-a", "pattern_id": "missing", "status": "actioned"}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCalculateReadinessInternalError(t *testing.T) {
	h := NewHandlers(&backendStub{scoreErr: errors.New("db down")})
	_, err := h.CalculateReadiness(context.Background(), mustStruct(t, map[string]any{"organization_id": "org-a"}))
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestRunCycleReturnsPartialReport(t *testing.T) {
	metric := models.ReadinessMetric{OverallScore: 55, Trend: models.TrendDown}
	h := NewHandlers(&backendStub{
		cycleReport: engine.CycleReport{OrganizationID: "org-a", Metric: &metric, Failures: map[string]error{engine.StageSignals: errors.New("feed down")}},
		cycleErr:    errors.New("signals: feed down"),
	})
	out, err := h.RunCycle(context.Background(), mustStruct(t, map[string]any{"organization_id": "org-a"}))
	if err != nil {
		t.Fatalf("partial cycle should not fail the call: %v", err)
	}
	if out.Fields["overall_score"].GetNumberValue() != 55 {
		t.Fatalf("unexpected summary %v", out)
	}
	if out.Fields["failures"].GetStructValue().Fields["signals"].GetStringValue() != "feed down" {
		t.Fatalf("expected signals failure in summary, got %v", out.Fields["failures"])
	}
}

func TestServerRoundTrip(t *testing.T) {
	b := &backendStub{}
	srv, err := NewServer(config.ServerConfig{Address: "127.0.0.1:0", GracefulTimeout: time.Second}, NewHandlers(b), nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), srv.GracefulTimeout())
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := NewClient(conn).Call(ctx, MethodCalculateReadiness, map[string]any{"organization_id": "org-a"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out.Fields["overall_score"].GetNumberValue() != 77 || out.Fields["measurement_date"].GetStringValue() != "2026-03-01T00:00:00Z" {
		t.Fatalf("unexpected response %v", out)
	}

	feed, err := NewClient(conn).Call(ctx, MethodGetActivityFeed, map[string]any{"organization_id": "org-a", "limit": 5})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if feed.Fields["count"].GetNumberValue() != 2 || b.lastLimit != 5 {
		t.Fatalf("unexpected feed %v limit=%d", feed, b.lastLimit)
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health check: %v %v", resp, err)
	}
}
