package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/playbookhq/readiness-engine/internal/activity"
	"github.com/playbookhq/readiness-engine/internal/learning"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/patterns"
	"github.com/playbookhq/readiness-engine/internal/readiness"
	"github.com/playbookhq/readiness-engine/internal/signals"
	"github.com/playbookhq/readiness-engine/internal/status"
)

// Store is the full persistence surface of the engine. Every read and write is scoped to one
// organization except GetExecution, whose id is globally unique.
type Store interface {
	activity.Store
	signals.Store
	patterns.Store
	learning.Store
	readiness.Store
	status.Store

	// ListSignals returns up to limit signals of orgID, newest first; an empty status matches all.
	ListSignals(ctx context.Context, orgID string, st models.SignalStatus, limit int) ([]models.WeakSignal, error)
	// ListPatterns returns up to limit patterns of orgID, newest first; an empty status matches all.
	ListPatterns(ctx context.Context, orgID string, st models.PatternStatus, limit int) ([]models.OraclePattern, error)
	// ListLearnings returns up to limit learnings of orgID, newest first.
	ListLearnings(ctx context.Context, orgID string, limit int) ([]models.PlaybookLearning, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and optionally applies migrations.
func Open(ctx context.Context, driver, dsn string, migrate bool) (Store, error) {
	switch driver {
	case "postgres":
		pg, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return pg, nil
	case "sqlite":
		lite, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := lite.Migrate(ctx); err != nil {
				lite.Close()
				return nil, err
			}
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

const (
	statusActive    = string(models.SignalStatusActive)
	statusExpired   = string(models.SignalStatusExpired)
	statusDetected  = string(models.PatternStatusDetected)
	statusReady     = "ready"
	statusScenario  = "active"
	statusCompleted = "completed"
)

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// executionSample is one completed execution's duration inputs.
type executionSample struct {
	actual    *float64
	started   time.Time
	completed *time.Time
}

func aggregateExecutions(samples []executionSample) models.ExecutionStats {
	stats := models.ExecutionStats{Completed: len(samples)}
	total := 0.0
	for _, s := range samples {
		var minutes float64
		switch {
		case s.actual != nil:
			minutes = *s.actual
		case s.completed != nil && !s.started.IsZero():
			minutes = s.completed.Sub(s.started).Minutes()
		default:
			continue
		}
		// Clock skew or a bad row; such an execution counts as untimed.
		if minutes < 0 {
			continue
		}
		total += minutes
		stats.Timed++
	}
	if stats.Timed > 0 {
		stats.AverageMinutes = total / float64(stats.Timed)
	}
	return stats
}
