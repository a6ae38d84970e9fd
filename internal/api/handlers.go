package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/playbookhq/readiness-engine/internal/engine"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/services"
)

// Backend is the facade the gRPC handlers delegate to.
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

// Handlers implements ReadinessEngineServer on top of a Backend.
type Handlers struct {
	backend Backend
}

// NewHandlers constructs the gRPC handlers.
func NewHandlers(backend Backend) *Handlers {
	return &Handlers{backend: backend}
}

func (h *Handlers) DetectSignals(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := requiredField(req, "organization_id")
	if err != nil {
		return nil, err
	}
	out, err := h.backend.DetectSignals(ctx, org)
	if err != nil {
		return nil, services.GRPCError(err)
	}
	return listResponse(out)
}

func (h *Handlers) DetectPatterns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := requiredField(req, "organization_id")
	if err != nil {
		return nil, err
	}
	out, err := h.backend.DetectPatterns(ctx, org)
	if err != nil {
		return nil, services.GRPCError(err)
	}
	return listResponse(out)
}

func (h *Handlers) UpdatePatternStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := requiredField(req, "organization_id")
	if err != nil {
		return nil, err
	}
	patternID, err := requiredField(req, "pattern_id")
	if err != nil {
		return nil, err
	}
	st := models.PatternStatus(stringField(req, "status"))
	if err := h.backend.UpdatePatternStatus(ctx, org, patternID, st); err != nil {
		return nil, services.GRPCError(err)
	}
	return toStruct(map[string]any{"pattern_id": patternID, "status": string(st)})
}

func (h *Handlers) ExtractLearnings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	executionID, err := requiredField(req, "execution_id")
	if err != nil {
		return nil, err
	}
	out, err := h.backend.ExtractLearnings(ctx, executionID, stringField(req, "scenario_id"))
	if err != nil {
		return nil, services.GRPCError(err)
	}
	return listResponse(out)
}

func (h *Handlers) MarkLearningApplied(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := requiredField(req, "organization_id")
	if err != nil {
		return nil, err
	}
	learningID, err := requiredField(req, "learning_id")
	if err != nil {
		return nil, err
	}
	if err := h.backend.MarkLearningApplied(ctx, org, learningID); err != nil {
		return nil, services.GRPCError(err)
	}
	return toStruct(map[string]any{"learning_id": learningID, "applied": true})
}

func (h *Handlers) CalculateReadiness(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := requiredField(req, "organization_id")
	if err != nil {
		return nil, err
	}
	metric, err := h.backend.CalculateReadiness(ctx, org)
	if err != nil {
		return nil, services.GRPCError(err)
	}
	return toStruct(metric)
}

func (h *Handlers) ListReadinessHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := requiredField(req, "organization_id")
	if err != nil {
		return nil, err
	}
	out, err := h.backend.ReadinessHistory(ctx, org, intField(req, "limit"))
	if err != nil {
		return nil, services.GRPCError(err)
	}
	return listResponse(out)
}

func (h *Handlers) GetSystemStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := requiredField(req, "organization_id")
	if err != nil {
		return nil, err
	}
	st, err := h.backend.GetSystemStatus(ctx, org)
	if err != nil {
		return nil, services.GRPCError(err)
	}
	return toStruct(st)
}

func (h *Handlers) GetActivityFeed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := requiredField(req, "organization_id")
	if err != nil {
		return nil, err
	}
	out, err := h.backend.GetActivityFeed(ctx, org, intField(req, "limit"))
	if err != nil {
		return nil, services.GRPCError(err)
	}
	return listResponse(out)
}

func (h *Handlers) RunCycle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := requiredField(req, "organization_id")
	if err != nil {
		return nil, err
	}
	report, err := h.backend.RunCycle(ctx, org)
	if err != nil && !report.Failed() {
		return nil, services.GRPCError(err)
	}
	return toStruct(CycleSummary(report))
}

func (h *Handlers) ListSignals(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := requiredField(req, "organization_id")
	if err != nil {
		return nil, err
	}
	out, err := h.backend.ListSignals(ctx, org, models.SignalStatus(stringField(req, "status")), intField(req, "limit"))
	if err != nil {
		return nil, services.GRPCError(err)
	}
	return listResponse(out)
}

func (h *Handlers) ListPatterns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := requiredField(req, "organization_id")
	if err != nil {
		return nil, err
	}
	out, err := h.backend.ListPatterns(ctx, org, models.PatternStatus(stringField(req, "status")), intField(req, "limit"))
	if err != nil {
		return nil, services.GRPCError(err)
	}
	return listResponse(out)
}

func (h *Handlers) ListLearnings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := requiredField(req, "organization_id")
	if err != nil {
		return nil, err
	}
	out, err := h.backend.ListLearnings(ctx, org, intField(req, "limit"))
	if err != nil {
		return nil, services.GRPCError(err)
	}
	return listResponse(out)
}

// CycleSummary flattens a cycle report into a JSON-friendly document.
func CycleSummary(r engine.CycleReport) map[string]any {
	failures := map[string]any{}
	for stage, err := range r.Failures {
		failures[stage] = err.Error()
	}
	summary := map[string]any{
		"organization_id": r.OrganizationID,
		"expired":         r.Expired,
		"signals":         len(r.Signals),
		"patterns":        len(r.Patterns),
		"failures":        failures,
		"duration_ms":     r.Duration.Milliseconds(),
	}
	if r.Metric != nil {
		summary["overall_score"] = r.Metric.OverallScore
		summary["trend"] = string(r.Metric.Trend)
	}
	return summary
}

func requiredField(req *structpb.Struct, name string) (string, error) {
	v := strings.TrimSpace(stringField(req, name))
	if v == "" {
		return "", status.Error(codes.InvalidArgument, name+" is required")
	}
	return v, nil
}

func stringField(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	return req.GetFields()[name].GetStringValue()
}

func intField(req *structpb.Struct, name string) int {
	if req == nil {
		return 0
	}
	return int(req.GetFields()[name].GetNumberValue())
}

func listResponse[T any](items []T) (*structpb.Struct, error) {
	if items == nil {
		items = []T{}
	}
	return toStruct(map[string]any{"items": items, "count": len(items)})
}

// toStruct converts v through its JSON form so timestamps render as RFC 3339 strings and field
// names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}
