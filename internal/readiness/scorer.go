package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/playbookhq/readiness-engine/internal/activity"
	"github.com/playbookhq/readiness-engine/internal/cache"
	"github.com/playbookhq/readiness-engine/internal/metrics"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

// EventReadinessCalculated is the activity event type emitted per stored measurement.
const EventReadinessCalculated = "readiness_calculated"

// History page sizes.
const (
	DefaultHistoryLimit = 30
	MaxHistoryLimit     = 365
)

// Store provides the counts a readiness computation needs and persists the time series.
type Store interface {
	PlaybookCounts(ctx context.Context, orgID string) (total, ready int, err error)
	CountActiveScenarios(ctx context.Context, orgID string) (int, error)
	CountActiveSignals(ctx context.Context, orgID string) (int, error)
	ExecutionStats(ctx context.Context, orgID string, since time.Time) (models.ExecutionStats, error)
	LearningStats(ctx context.Context, orgID string, since time.Time) (total, applied int, err error)
	// LatestReadinessMetric returns nil without error when the organization has no measurement.
	LatestReadinessMetric(ctx context.Context, orgID string) (*models.ReadinessMetric, error)
	InsertReadinessMetric(ctx context.Context, metric models.ReadinessMetric) error
	// ListReadinessMetrics returns up to limit measurements, newest first.
	ListReadinessMetrics(ctx context.Context, orgID string, limit int) ([]models.ReadinessMetric, error)
}

// Locker serializes work per key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Config tunes a Scorer.
type Config struct {
	TrailingDays   int
	CoverageTarget int
}

// Scorer computes and appends readiness measurements.
type Scorer struct {
	store    Store
	recorder activity.Recorder
	locker   Locker
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewScorer constructs a Scorer. A nil locker serializes within this process only.
func NewScorer(store Store, recorder activity.Recorder, locker Locker, cfg Config, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = cache.NewRunLock(nil, 0)
	}
	if cfg.TrailingDays <= 0 {
		cfg.TrailingDays = 30
	}
	if cfg.CoverageTarget <= 0 {
		cfg.CoverageTarget = 20
	}
	return &Scorer{
		store:    store,
		recorder: recorder,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// CalculateReadinessScore computes a new measurement for orgID, stores it and returns it. Runs for
// the same organization are serialized so each measurement's trend compares against its true
// predecessor.
func (s *Scorer) CalculateReadinessScore(ctx context.Context, orgID string) (models.ReadinessMetric, error) {
	if strings.TrimSpace(orgID) == "" {
		return models.ReadinessMetric{}, utils.NewAppError("calculate readiness", "organization id is required", nil)
	}

	release, err := s.locker.Acquire(ctx, cache.LockKey("readiness", orgID))
	if err != nil {
		return models.ReadinessMetric{}, fmt.Errorf("acquire readiness lock: %w", err)
	}
	defer release()

	now := s.now().UTC()
	in, err := s.gather(ctx, orgID, utils.TrailingWindowStart(now, s.cfg.TrailingDays))
	if err != nil {
		return models.ReadinessMetric{}, err
	}
	prev, err := s.store.LatestReadinessMetric(ctx, orgID)
	if err != nil {
		return models.ReadinessMetric{}, fmt.Errorf("load previous readiness: %w", err)
	}

	scores := Compute(in, s.cfg.CoverageTarget)
	measured := now
	if prev != nil && !measured.After(prev.MeasurementDate) {
		measured = prev.MeasurementDate.Add(time.Microsecond)
	}

	metric := models.ReadinessMetric{
		ID:                  uuid.NewString(),
		OrganizationID:      orgID,
		OverallScore:        scores.Overall,
		ForesightScore:      scores.Foresight,
		VelocityScore:       scores.Velocity,
		AgilityScore:        scores.Agility,
		LearningScore:       scores.Learning,
		AdaptabilityScore:   scores.Adaptability,
		ActiveScenarios:     in.ActiveScenarios,
		WeakSignalsDetected: in.ActiveSignals,
		PlaybooksReady:      in.PlaybooksReady,
		PlaybooksTotal:      in.PlaybooksTotal,
		AverageResponseTime: in.Executions.AverageMinutes,
		Trend:               TrendFor(prev, scores.Overall),
		MeasurementDate:     measured,
	}
	if err := s.store.InsertReadinessMetric(ctx, metric); err != nil {
		return models.ReadinessMetric{}, fmt.Errorf("insert readiness metric: %w", err)
	}
	metrics.ReadinessScored(metric.OverallScore)

	if _, err := s.recorder.LogActivity(ctx, orgID, models.ActivityFeedEvent{
		EventType:         EventReadinessCalculated,
		Title:             fmt.Sprintf("Readiness score %d (%s)", metric.OverallScore, metric.Trend),
		Description:       describe(metric),
		Severity:          severityFor(metric.OverallScore),
		RelatedEntityType: models.EntityReadinessMetric,
		RelatedEntityID:   metric.ID,
	}); err != nil {
		return metric, fmt.Errorf("log readiness activity: %w", err)
	}

	s.logger.Debug("readiness calculated",
		slog.String("organization_id", orgID),
		slog.Int("overall", metric.OverallScore),
		slog.String("trend", string(metric.Trend)),
	)
	return metric, nil
}

// History returns the newest measurements of orgID.
func (s *Scorer) History(ctx context.Context, orgID string, limit int) ([]models.ReadinessMetric, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, utils.NewAppError("readiness history", "organization id is required", nil)
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	out, err := s.store.ListReadinessMetrics(ctx, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list readiness metrics: %w", err)
	}
	return out, nil
}

func (s *Scorer) gather(ctx context.Context, orgID string, since time.Time) (Inputs, error) {
	var (
		in  Inputs
		err error
	)
	if in.PlaybooksTotal, in.PlaybooksReady, err = s.store.PlaybookCounts(ctx, orgID); err != nil {
		return Inputs{}, fmt.Errorf("count playbooks: %w", err)
	}
	if in.ActiveScenarios, err = s.store.CountActiveScenarios(ctx, orgID); err != nil {
		return Inputs{}, fmt.Errorf("count scenarios: %w", err)
	}
	if in.ActiveSignals, err = s.store.CountActiveSignals(ctx, orgID); err != nil {
		return Inputs{}, fmt.Errorf("count signals: %w", err)
	}
	if in.Executions, err = s.store.ExecutionStats(ctx, orgID, since); err != nil {
		return Inputs{}, fmt.Errorf("execution stats: %w", err)
	}
	if in.LearningsTotal, in.LearningsApplied, err = s.store.LearningStats(ctx, orgID, since); err != nil {
		return Inputs{}, fmt.Errorf("learning stats: %w", err)
	}
	return in, nil
}

func describe(m models.ReadinessMetric) string {
	return fmt.Sprintf("foresight %d, velocity %d, agility %d, learning %d, adaptability %d",
		m.ForesightScore, m.VelocityScore, m.AgilityScore, m.LearningScore, m.AdaptabilityScore)
}

func severityFor(score int) models.Severity {
	switch HealthFor(score) {
	case models.HealthCritical:
		return models.SeverityCritical
	case models.HealthDegraded:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}
