package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/playbookhq/readiness-engine/internal/engine"
)

// CycleRunner runs one organization cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, orgID string) (engine.CycleReport, error)
}

// Config controls the sweep.
type Config struct {
	Interval      time.Duration
	Organizations []string
	Concurrency   int
}

// Summary describes one sweep over all organizations.
type Summary struct {
	Organizations int
	Failed        []string
	Duration      time.Duration
}

// Scheduler sweeps the configured organizations on a fixed interval.
type Scheduler struct {
	runner CycleRunner
	cfg    Config
	logger *slog.Logger
}

// New constructs a Scheduler.
func New(runner CycleRunner, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scheduler{runner: runner, cfg: cfg, logger: logger}
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.cfg.Organizations) == 0 {
		return errors.New("scheduler has no organizations configured")
	}
	s.logger.Info("scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("organizations", len(s.cfg.Organizations)),
		slog.Int("concurrency", s.cfg.Concurrency),
	)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs one cycle per organization with bounded concurrency. A failing organization does
// not cancel the others.
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	start := time.Now()
	var (
		mu     sync.Mutex
		failed []string
	)

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, org := range s.cfg.Organizations {
		if ctx.Err() != nil {
			break
		}
		org := org
		g.Go(func() error {
			if _, err := s.runner.RunCycle(ctx, org); err != nil {
				mu.Lock()
				failed = append(failed, org)
				mu.Unlock()
				s.logger.Warn("organization cycle failed", slog.String("organization_id", org), slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Organizations: len(s.cfg.Organizations), Failed: failed, Duration: time.Since(start)}
	s.logger.Info("sweep complete",
		slog.Int("organizations", summary.Organizations),
		slog.Int("failed", len(summary.Failed)),
		slog.Duration("duration", summary.Duration),
	)
	return summary
}
