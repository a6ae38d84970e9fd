package signals

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/playbookhq/readiness-engine/internal/activity"
	"github.com/playbookhq/readiness-engine/internal/metrics"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

// EventWeakSignalDetected is the activity event type emitted per new signal.
const EventWeakSignalDetected = "weak_signal_detected"

// IndicatorSource returns the current indicator series for one category.
type IndicatorSource interface {
	FetchIndicators(ctx context.Context, orgID string, category models.SignalType) ([]models.Indicator, error)
}

// Store persists weak signals.
type Store interface {
	// SignalExists reports whether a signal with the same type and source was detected in [from, to).
	SignalExists(ctx context.Context, orgID string, signalType models.SignalType, source string, from, to time.Time) (bool, error)
	InsertSignal(ctx context.Context, signal models.WeakSignal) error
	// ExpireSignals marks active signals detected before cutoff as expired and returns how many changed.
	ExpireSignals(ctx context.Context, orgID string, cutoff time.Time) (int, error)
}

// Config tunes a Detector.
type Config struct {
	Categories   []models.SignalType
	DedupeWindow time.Duration
	MaxAge       time.Duration
}

// Detector scans indicator feeds per category and persists new weak signals.
type Detector struct {
	source   IndicatorSource
	trigger  Trigger
	store    Store
	recorder activity.Recorder
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewDetector constructs a Detector. Unknown categories in cfg are dropped.
func NewDetector(source IndicatorSource, trigger Trigger, store Store, recorder activity.Recorder, cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if trigger == nil {
		trigger = Triggers{ZScoreTrigger{}, SpikeTrigger{}}
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = time.Hour
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}
	categories := make([]models.SignalType, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		if c.Valid() {
			categories = append(categories, c)
		} else {
			logger.Warn("ignoring unknown signal category", slog.String("category", string(c)))
		}
	}
	if len(categories) == 0 {
		categories = append(categories, models.AllSignalTypes...)
	}
	cfg.Categories = categories

	return &Detector{
		source:   source,
		trigger:  trigger,
		store:    store,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// DetectSignals evaluates every configured category for orgID and returns the signals it created.
// A category whose feed or trigger fails is skipped; a storage failure stops the scan and is
// returned together with the signals persisted so far.
func (d *Detector) DetectSignals(ctx context.Context, orgID string) ([]models.WeakSignal, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, utils.NewAppError("detect signals", "organization id is required", nil)
	}

	var created []models.WeakSignal
	for _, category := range d.cfg.Categories {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		candidates, ok := d.evaluate(ctx, orgID, category)
		if !ok {
			continue
		}

		for _, candidate := range candidates {
			signal, inserted, err := d.persist(ctx, orgID, category, candidate)
			if inserted {
				created = append(created, signal)
			}
			if err != nil {
				return created, err
			}
		}
	}

	return created, nil
}

// ExpireStale marks active signals older than the configured maximum age as expired.
func (d *Detector) ExpireStale(ctx context.Context, orgID string) (int, error) {
	if strings.TrimSpace(orgID) == "" {
		return 0, utils.NewAppError("expire signals", "organization id is required", nil)
	}
	n, err := d.store.ExpireSignals(ctx, orgID, d.now().UTC().Add(-d.cfg.MaxAge))
	if err != nil {
		return 0, fmt.Errorf("expire signals: %w", err)
	}
	return n, nil
}

// evaluate fetches and triggers one category. It reports false when the category must be skipped.
func (d *Detector) evaluate(ctx context.Context, orgID string, category models.SignalType) (candidates []Candidate, ok bool) {
	logger := d.logger.With(slog.String("organization_id", orgID), slog.String("category", string(category)))
	defer func() {
		if r := recover(); r != nil {
			metrics.CategoryFailed(string(category))
			logger.Error("signal category panicked", slog.Any("panic", r))
			candidates, ok = nil, false
		}
	}()

	indicators, err := d.source.FetchIndicators(ctx, orgID, category)
	if err != nil {
		metrics.CategoryFailed(string(category))
		logger.Warn("indicator fetch failed", slog.Any("error", err))
		return nil, false
	}
	if len(indicators) == 0 {
		return nil, true
	}

	candidates, err = d.trigger.Evaluate(category, indicators)
	if err != nil {
		metrics.CategoryFailed(string(category))
		logger.Warn("trigger evaluation failed", slog.Any("error", err), slog.Int("candidates", len(candidates)))
	}
	return candidates, true
}

func (d *Detector) persist(ctx context.Context, orgID string, category models.SignalType, c Candidate) (models.WeakSignal, bool, error) {
	if strings.TrimSpace(c.Source) == "" {
		return models.WeakSignal{}, false, nil
	}

	now := d.now().UTC()
	bucket := now.Truncate(d.cfg.DedupeWindow)
	exists, err := d.store.SignalExists(ctx, orgID, category, c.Source, bucket, bucket.Add(d.cfg.DedupeWindow))
	if err != nil {
		return models.WeakSignal{}, false, fmt.Errorf("check duplicate signal: %w", err)
	}
	if exists {
		d.logger.Debug("duplicate weak signal suppressed",
			slog.String("organization_id", orgID),
			slog.String("category", string(category)),
			slog.String("source", c.Source),
		)
		return models.WeakSignal{}, false, nil
	}

	impact := c.Impact
	if impact == "" {
		impact = models.ImpactMedium
	}
	signal := models.WeakSignal{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		SignalType:     category,
		Description:    c.Description,
		Confidence:     ClampConfidence(c.Confidence),
		Timeline:       c.Timeline,
		Impact:         impact,
		Source:         c.Source,
		Status:         models.SignalStatusActive,
		DetectedAt:     now,
	}
	if signal.Description == "" {
		signal.Description = fmt.Sprintf("%s indicator %s deviates from its baseline", category, c.Source)
	}

	if err := d.store.InsertSignal(ctx, signal); err != nil {
		return models.WeakSignal{}, false, fmt.Errorf("insert weak signal: %w", err)
	}
	metrics.SignalDetected(string(category))

	severity := models.SeverityWarning
	if signal.Impact == models.ImpactCritical {
		severity = models.SeverityCritical
	}
	if _, err := d.recorder.LogActivity(ctx, orgID, models.ActivityFeedEvent{
		EventType:         EventWeakSignalDetected,
		Title:             fmt.Sprintf("Weak signal detected: %s", category),
		Description:       signal.Description,
		Severity:          severity,
		RelatedEntityType: models.EntityWeakSignal,
		RelatedEntityID:   signal.ID,
	}); err != nil {
		return signal, true, fmt.Errorf("log weak signal activity: %w", err)
	}
	return signal, true, nil
}

// ClampConfidence rounds a raw confidence into [0,100].
func ClampConfidence(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return int(r)
}
