package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/playbookhq/readiness-engine/internal/activity"
	"github.com/playbookhq/readiness-engine/internal/metrics"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

// Activity event types emitted by the correlator.
const (
	EventPatternDetected      = "oracle_pattern_detected"
	EventPatternStatusChanged = "oracle_pattern_status_changed"
)

// Store abstracts persistence for signals and mined patterns.
type Store interface {
	// ListActiveSignals returns up to limit active signals, newest first.
	ListActiveSignals(ctx context.Context, orgID string, limit int) ([]models.WeakSignal, error)
	// PatternExists reports whether a detected pattern of patternType was recorded at or after since.
	PatternExists(ctx context.Context, orgID, patternType string, since time.Time) (bool, error)
	InsertPattern(ctx context.Context, pattern models.OraclePattern) error
	UpdatePatternStatus(ctx context.Context, orgID, patternID string, status models.PatternStatus) error
}

// Config tunes a Correlator.
type Config struct {
	SignalWindow int
	DedupeWindow time.Duration
	// MaxEvidence, when positive, caps every archetype's evidence list.
	MaxEvidence int
	Confidence  ConfidenceFunc
}

// Correlator turns corroborating active weak signals into oracle patterns.
type Correlator struct {
	store      Store
	recorder   activity.Recorder
	archetypes []Archetype
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewCorrelator constructs a Correlator. A nil archetype slice selects the built-in pack.
func NewCorrelator(store Store, recorder activity.Recorder, archetypes []Archetype, cfg Config, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if archetypes == nil {
		archetypes = DefaultArchetypes()
	}
	if cfg.SignalWindow <= 0 {
		cfg.SignalWindow = 50
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 24 * time.Hour
	}
	if cfg.Confidence == nil {
		cfg.Confidence = DefaultConfidence
	}
	return &Correlator{
		store:      store,
		recorder:   recorder,
		archetypes: archetypes,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// DetectPatterns correlates the most recent active signals of orgID against every archetype and
// persists one pattern per qualifying archetype.
func (c *Correlator) DetectPatterns(ctx context.Context, orgID string) ([]models.OraclePattern, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, utils.NewAppError("detect patterns", "organization id is required", nil)
	}

	signals, err := c.store.ListActiveSignals(ctx, orgID, c.cfg.SignalWindow)
	if err != nil {
		return nil, fmt.Errorf("list active signals: %w", err)
	}
	if len(signals) < 2 {
		return nil, nil
	}

	now := c.now().UTC()
	var created []models.OraclePattern
	for _, archetype := range c.archetypes {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		matched := matchSignals(archetype, signals)
		if !qualifies(archetype, matched) {
			continue
		}

		exists, err := c.store.PatternExists(ctx, orgID, archetype.ID, now.Add(-c.cfg.DedupeWindow))
		if err != nil {
			return created, fmt.Errorf("check recent pattern: %w", err)
		}
		if exists {
			c.logger.Debug("pattern recently detected, skipping",
				slog.String("organization_id", orgID),
				slog.String("pattern_type", archetype.ID),
			)
			continue
		}

		pattern := c.buildPattern(orgID, archetype, matched, now)
		if err := c.store.InsertPattern(ctx, pattern); err != nil {
			return created, fmt.Errorf("insert oracle pattern: %w", err)
		}
		created = append(created, pattern)
		metrics.PatternDetected(pattern.PatternType)

		if _, err := c.recorder.LogActivity(ctx, orgID, models.ActivityFeedEvent{
			EventType:         EventPatternDetected,
			Title:             fmt.Sprintf("Oracle pattern detected: %s", pattern.PatternType),
			Description:       pattern.Description,
			Severity:          severityForImpact(pattern.Impact),
			RelatedEntityType: models.EntityOraclePattern,
			RelatedEntityID:   pattern.ID,
		}); err != nil {
			return created, fmt.Errorf("log pattern activity: %w", err)
		}
	}

	return created, nil
}

// UpdatePatternStatus records an operator decision on a detected pattern.
func (c *Correlator) UpdatePatternStatus(ctx context.Context, orgID, patternID string, status models.PatternStatus) error {
	if strings.TrimSpace(orgID) == "" || strings.TrimSpace(patternID) == "" {
		return utils.NewAppError("update pattern status", "organization id and pattern id are required", nil)
	}
	if !status.Valid() {
		return utils.NewAppError("update pattern status", fmt.Sprintf("unknown status %q", status), nil)
	}
	if err := c.store.UpdatePatternStatus(ctx, orgID, patternID, status); err != nil {
		return fmt.Errorf("update pattern status: %w", err)
	}
	if _, err := c.recorder.LogActivity(ctx, orgID, models.ActivityFeedEvent{
		EventType:         EventPatternStatusChanged,
		Title:             fmt.Sprintf("Oracle pattern marked %s", status),
		Severity:          models.SeverityInfo,
		RelatedEntityType: models.EntityOraclePattern,
		RelatedEntityID:   patternID,
	}); err != nil {
		return fmt.Errorf("log pattern status activity: %w", err)
	}
	return nil
}

func (c *Correlator) buildPattern(orgID string, a Archetype, matched []models.WeakSignal, now time.Time) models.OraclePattern {
	evidence := append([]models.WeakSignal(nil), matched...)
	sort.SliceStable(evidence, func(i, j int) bool {
		if evidence[i].Confidence != evidence[j].Confidence {
			return evidence[i].Confidence > evidence[j].Confidence
		}
		if !evidence[i].DetectedAt.Equal(evidence[j].DetectedAt) {
			return evidence[i].DetectedAt.After(evidence[j].DetectedAt)
		}
		return evidence[i].ID < evidence[j].ID
	})
	limit := a.MaxEvidence
	if c.cfg.MaxEvidence > 0 && c.cfg.MaxEvidence < limit {
		limit = c.cfg.MaxEvidence
	}
	if len(evidence) > limit {
		evidence = evidence[:limit]
	}
	ids := make([]string, 0, len(evidence))
	for _, s := range evidence {
		ids = append(ids, s.ID)
	}

	return models.OraclePattern{
		ID:              uuid.NewString(),
		OrganizationID:  orgID,
		PatternType:     a.ID,
		Description:     describePattern(a, matched),
		Confidence:      c.cfg.Confidence(matched),
		Impact:          a.Impact,
		Timeline:        a.Timeline,
		Recommendations: append([]string(nil), a.Recommendations...),
		EvidenceSignals: ids,
		Status:          models.PatternStatusDetected,
		DetectedAt:      now,
	}
}

func matchSignals(a Archetype, signals []models.WeakSignal) []models.WeakSignal {
	var out []models.WeakSignal
	for _, s := range signals {
		if s.Status != models.SignalStatusActive {
			continue
		}
		if !a.matches(s.SignalType) || s.Confidence < a.MinConfidence {
			continue
		}
		out = append(out, s)
	}
	return out
}

func qualifies(a Archetype, matched []models.WeakSignal) bool {
	if len(matched) < a.MinSignals {
		return false
	}
	return len(distinctTypes(matched)) >= a.MinDistinctTypes
}

// distinctTypes lists matched signal types in first-seen order.
func distinctTypes(matched []models.WeakSignal) []string {
	seen := make(map[models.SignalType]struct{})
	var out []string
	for _, s := range matched {
		if _, ok := seen[s.SignalType]; ok {
			continue
		}
		seen[s.SignalType] = struct{}{}
		out = append(out, string(s.SignalType))
	}
	return out
}

func describePattern(a Archetype, matched []models.WeakSignal) string {
	desc := strings.TrimSpace(a.Description)
	if desc == "" {
		desc = strings.ReplaceAll(a.ID, "_", " ")
	}
	return fmt.Sprintf("%s Corroborated by %d active signals (%s).", desc, len(matched), strings.Join(distinctTypes(matched), ", "))
}

func severityForImpact(impact models.Impact) models.Severity {
	switch impact {
	case models.ImpactCritical:
		return models.SeverityCritical
	case models.ImpactHigh:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}
