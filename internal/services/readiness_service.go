package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/playbookhq/readiness-engine/internal/engine"
	"github.com/playbookhq/readiness-engine/internal/metrics"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

// SignalDetector detects and expires weak signals.
type SignalDetector interface {
	DetectSignals(ctx context.Context, orgID string) ([]models.WeakSignal, error)
}

// PatternCorrelator detects patterns and records operator decisions on them.
type PatternCorrelator interface {
	DetectPatterns(ctx context.Context, orgID string) ([]models.OraclePattern, error)
	UpdatePatternStatus(ctx context.Context, orgID, patternID string, st models.PatternStatus) error
}

// LearningExtractor extracts and tracks playbook learnings.
type LearningExtractor interface {
	ExtractLearnings(ctx context.Context, executionID, scenarioID string) ([]models.PlaybookLearning, error)
	MarkApplied(ctx context.Context, orgID, learningID string) error
}

// ReadinessScorer computes and lists readiness measurements.
type ReadinessScorer interface {
	CalculateReadinessScore(ctx context.Context, orgID string) (models.ReadinessMetric, error)
	History(ctx context.Context, orgID string, limit int) ([]models.ReadinessMetric, error)
}

// ActivityFeed reads the activity feed.
type ActivityFeed interface {
	GetActivityFeed(ctx context.Context, orgID string, limit int) ([]models.ActivityFeedEvent, error)
}

// StatusAggregator builds the dashboard header view.
type StatusAggregator interface {
	GetSystemStatus(ctx context.Context, orgID string) (models.SystemStatus, error)
}

// CycleRunner runs a full organization cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, orgID string) (engine.CycleReport, error)
}

// Catalog lists stored entities for dashboards.
type Catalog interface {
	ListSignals(ctx context.Context, orgID string, st models.SignalStatus, limit int) ([]models.WeakSignal, error)
	ListPatterns(ctx context.Context, orgID string, st models.PatternStatus, limit int) ([]models.OraclePattern, error)
	ListLearnings(ctx context.Context, orgID string, limit int) ([]models.PlaybookLearning, error)
}

// Dependencies groups the collaborators of ReadinessService. Nil members make the matching
// operations fail with FailedPrecondition.
type Dependencies struct {
	Detector   SignalDetector
	Correlator PatternCorrelator
	Extractor  LearningExtractor
	Scorer     ReadinessScorer
	Activity   ActivityFeed
	Status     StatusAggregator
	Pipeline   CycleRunner
	Catalog    Catalog
}

// ErrNotConfigured reports an operation whose collaborator was not wired.
var ErrNotConfigured = errors.New("component not configured")

// ReadinessService is the transport-neutral facade behind the gRPC and HTTP APIs. Every operation
// is traced, timed and counted.
type ReadinessService struct {
	deps      Dependencies
	logger    *slog.Logger
	tracer    trace.Tracer
	latencies *utils.LatencyTracker
}

// NewReadinessService constructs the facade.
func NewReadinessService(logger *slog.Logger, deps Dependencies) *ReadinessService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadinessService{
		deps:      deps,
		logger:    logger,
		tracer:    otel.Tracer("readiness-engine/services"),
		latencies: utils.NewLatencyTracker(1024),
	}
}

// DetectSignals runs signal detection for orgID.
func (s *ReadinessService) DetectSignals(ctx context.Context, orgID string) ([]models.WeakSignal, error) {
	if s.deps.Detector == nil {
		return nil, ErrNotConfigured
	}
	return track(ctx, s, "detect_signals", orgID, func(ctx context.Context) ([]models.WeakSignal, error) {
		return s.deps.Detector.DetectSignals(ctx, orgID)
	})
}

// DetectPatterns runs pattern correlation for orgID.
func (s *ReadinessService) DetectPatterns(ctx context.Context, orgID string) ([]models.OraclePattern, error) {
	if s.deps.Correlator == nil {
		return nil, ErrNotConfigured
	}
	return track(ctx, s, "detect_patterns", orgID, func(ctx context.Context) ([]models.OraclePattern, error) {
		return s.deps.Correlator.DetectPatterns(ctx, orgID)
	})
}

// UpdatePatternStatus marks a pattern actioned or dismissed.
func (s *ReadinessService) UpdatePatternStatus(ctx context.Context, orgID, patternID string, st models.PatternStatus) error {
	if s.deps.Correlator == nil {
		return ErrNotConfigured
	}
	_, err := track(ctx, s, "update_pattern_status", orgID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.deps.Correlator.UpdatePatternStatus(ctx, orgID, patternID, st)
	})
	return err
}

// ExtractLearnings extracts learnings from a completed execution.
func (s *ReadinessService) ExtractLearnings(ctx context.Context, executionID, scenarioID string) ([]models.PlaybookLearning, error) {
	if s.deps.Extractor == nil {
		return nil, ErrNotConfigured
	}
	return track(ctx, s, "extract_learnings", "", func(ctx context.Context) ([]models.PlaybookLearning, error) {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("execution_id", executionID))
		return s.deps.Extractor.ExtractLearnings(ctx, executionID, scenarioID)
	})
}

// MarkLearningApplied records that a learning was applied to a playbook.
func (s *ReadinessService) MarkLearningApplied(ctx context.Context, orgID, learningID string) error {
	if s.deps.Extractor == nil {
		return ErrNotConfigured
	}
	_, err := track(ctx, s, "mark_learning_applied", orgID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.deps.Extractor.MarkApplied(ctx, orgID, learningID)
	})
	return err
}

// CalculateReadiness computes and stores a readiness measurement.
func (s *ReadinessService) CalculateReadiness(ctx context.Context, orgID string) (models.ReadinessMetric, error) {
	if s.deps.Scorer == nil {
		return models.ReadinessMetric{}, ErrNotConfigured
	}
	return track(ctx, s, "calculate_readiness", orgID, func(ctx context.Context) (models.ReadinessMetric, error) {
		return s.deps.Scorer.CalculateReadinessScore(ctx, orgID)
	})
}

// ReadinessHistory lists recent measurements, newest first.
func (s *ReadinessService) ReadinessHistory(ctx context.Context, orgID string, limit int) ([]models.ReadinessMetric, error) {
	if s.deps.Scorer == nil {
		return nil, ErrNotConfigured
	}
	return track(ctx, s, "readiness_history", orgID, func(ctx context.Context) ([]models.ReadinessMetric, error) {
		return s.deps.Scorer.History(ctx, orgID, limit)
	})
}

// GetSystemStatus returns the dashboard header view.
func (s *ReadinessService) GetSystemStatus(ctx context.Context, orgID string) (models.SystemStatus, error) {
	if s.deps.Status == nil {
		return models.SystemStatus{}, ErrNotConfigured
	}
	return track(ctx, s, "get_system_status", orgID, func(ctx context.Context) (models.SystemStatus, error) {
		return s.deps.Status.GetSystemStatus(ctx, orgID)
	})
}

// GetActivityFeed returns recent activity, newest first.
func (s *ReadinessService) GetActivityFeed(ctx context.Context, orgID string, limit int) ([]models.ActivityFeedEvent, error) {
	if s.deps.Activity == nil {
		return nil, ErrNotConfigured
	}
	return track(ctx, s, "get_activity_feed", orgID, func(ctx context.Context) ([]models.ActivityFeedEvent, error) {
		return s.deps.Activity.GetActivityFeed(ctx, orgID, limit)
	})
}

// RunCycle runs detection, correlation and scoring for orgID.
func (s *ReadinessService) RunCycle(ctx context.Context, orgID string) (engine.CycleReport, error) {
	if s.deps.Pipeline == nil {
		return engine.CycleReport{}, ErrNotConfigured
	}
	return track(ctx, s, "run_cycle", orgID, func(ctx context.Context) (engine.CycleReport, error) {
		return s.deps.Pipeline.RunCycle(ctx, orgID)
	})
}

// ListSignals lists stored signals; an empty status matches all.
func (s *ReadinessService) ListSignals(ctx context.Context, orgID string, st models.SignalStatus, limit int) ([]models.WeakSignal, error) {
	if s.deps.Catalog == nil {
		return nil, ErrNotConfigured
	}
	if err := requireOrg("list signals", orgID); err != nil {
		return nil, err
	}
	switch st {
	case "", models.SignalStatusActive, models.SignalStatusResolved, models.SignalStatusExpired:
	default:
		return nil, utils.NewAppError("list signals", "unknown status "+string(st), nil)
	}
	return track(ctx, s, "list_signals", orgID, func(ctx context.Context) ([]models.WeakSignal, error) {
		return s.deps.Catalog.ListSignals(ctx, orgID, st, limit)
	})
}

// ListPatterns lists stored patterns; an empty status matches all.
func (s *ReadinessService) ListPatterns(ctx context.Context, orgID string, st models.PatternStatus, limit int) ([]models.OraclePattern, error) {
	if s.deps.Catalog == nil {
		return nil, ErrNotConfigured
	}
	if err := requireOrg("list patterns", orgID); err != nil {
		return nil, err
	}
	if st != "" && !st.Valid() {
		return nil, utils.NewAppError("list patterns", "unknown status "+string(st), nil)
	}
	return track(ctx, s, "list_patterns", orgID, func(ctx context.Context) ([]models.OraclePattern, error) {
		return s.deps.Catalog.ListPatterns(ctx, orgID, st, limit)
	})
}

// ListLearnings lists stored learnings.
func (s *ReadinessService) ListLearnings(ctx context.Context, orgID string, limit int) ([]models.PlaybookLearning, error) {
	if s.deps.Catalog == nil {
		return nil, ErrNotConfigured
	}
	if err := requireOrg("list learnings", orgID); err != nil {
		return nil, err
	}
	return track(ctx, s, "list_learnings", orgID, func(ctx context.Context) ([]models.PlaybookLearning, error) {
		return s.deps.Catalog.ListLearnings(ctx, orgID, limit)
	})
}

// LatencyP95 returns the current p95 operation latency.
func (s *ReadinessService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func track[T any](ctx context.Context, s *ReadinessService, op, orgID string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("organization_id", orgID)))
	defer span.End()

	start := time.Now()
	out, err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		outcome := metrics.OutcomeError
		if utils.IsAppError(err) {
			outcome = metrics.OutcomeSkipped
		}
		metrics.ObserveOperation(op, duration, outcome)
		s.logger.Error("operation failed", slog.String("operation", op), slog.String("organization_id", orgID), slog.Any("error", err))
		return out, err
	}

	metrics.ObserveOperation(op, duration, metrics.OutcomeSuccess)
	s.latencies.Observe(duration)
	if total := s.latencies.Total(); total%20 == 0 {
		s.logger.Info("operation latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", s.latencies.Count()))
	}
	return out, nil
}

func requireOrg(op, orgID string) error {
	if strings.TrimSpace(orgID) == "" {
		return utils.NewAppError(op, "organization id is required", nil)
	}
	return nil
}

// GRPCError maps domain errors onto gRPC status codes.
func GRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case utils.IsAppError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, models.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrNotConfigured):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
