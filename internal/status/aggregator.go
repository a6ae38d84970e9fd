package status

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/readiness"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

// Store exposes the read-only counts behind the system status view.
type Store interface {
	LatestReadinessMetric(ctx context.Context, orgID string) (*models.ReadinessMetric, error)
	PlaybookCounts(ctx context.Context, orgID string) (total, ready int, err error)
	CountActiveSignals(ctx context.Context, orgID string) (int, error)
	CountActivePatterns(ctx context.Context, orgID string) (int, error)
}

// Aggregator assembles the dashboard status of an organization. It never writes.
type Aggregator struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAggregator constructs an Aggregator.
func NewAggregator(store Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, logger: logger, now: time.Now}
}

// GetSystemStatus combines the latest readiness measurement with live counts. An organization
// without measurements reports a zero score and the read time as LastUpdated.
func (a *Aggregator) GetSystemStatus(ctx context.Context, orgID string) (models.SystemStatus, error) {
	if strings.TrimSpace(orgID) == "" {
		return models.SystemStatus{}, utils.NewAppError("get system status", "organization id is required", nil)
	}

	latest, err := a.store.LatestReadinessMetric(ctx, orgID)
	if err != nil {
		return models.SystemStatus{}, fmt.Errorf("load latest readiness: %w", err)
	}
	_, ready, err := a.store.PlaybookCounts(ctx, orgID)
	if err != nil {
		return models.SystemStatus{}, fmt.Errorf("count playbooks: %w", err)
	}
	signals, err := a.store.CountActiveSignals(ctx, orgID)
	if err != nil {
		return models.SystemStatus{}, fmt.Errorf("count signals: %w", err)
	}
	patterns, err := a.store.CountActivePatterns(ctx, orgID)
	if err != nil {
		return models.SystemStatus{}, fmt.Errorf("count patterns: %w", err)
	}

	out := models.SystemStatus{
		OrganizationID:       orgID,
		WeakSignalsDetected:  signals,
		OraclePatternsActive: patterns,
		PlaybooksReady:       ready,
		LastUpdated:          a.now().UTC(),
	}
	if latest != nil {
		out.ReadinessScore = latest.OverallScore
		out.ActiveScenarios = latest.ActiveScenarios
		out.LastUpdated = latest.MeasurementDate
	} else {
		a.logger.Debug("no readiness measurement yet", slog.String("organization_id", orgID))
	}
	out.SystemStatus = readiness.HealthFor(out.ReadinessScore)
	return out, nil
}
