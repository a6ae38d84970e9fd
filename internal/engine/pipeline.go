package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playbookhq/readiness-engine/internal/metrics"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

// SignalDetector is the detection stage.
type SignalDetector interface {
	ExpireStale(ctx context.Context, orgID string) (int, error)
	DetectSignals(ctx context.Context, orgID string) ([]models.WeakSignal, error)
}

// PatternDetector is the correlation stage.
type PatternDetector interface {
	DetectPatterns(ctx context.Context, orgID string) ([]models.OraclePattern, error)
}

// ReadinessCalculator is the scoring stage.
type ReadinessCalculator interface {
	CalculateReadinessScore(ctx context.Context, orgID string) (models.ReadinessMetric, error)
}

// Stage names as reported in CycleReport.Failures.
const (
	StageExpire   = "expire"
	StageSignals  = "signals"
	StagePatterns = "patterns"
	StageScore    = "score"
)

// CycleReport summarizes one organization cycle.
type CycleReport struct {
	OrganizationID string
	Expired        int
	Signals        []models.WeakSignal
	Patterns       []models.OraclePattern
	Metric         *models.ReadinessMetric
	Failures       map[string]error
	Duration       time.Duration
}

// Failed reports whether any stage failed.
func (r CycleReport) Failed() bool { return len(r.Failures) > 0 }

// Pipeline runs the detection, correlation and scoring stages for one organization.
type Pipeline struct {
	logger    *slog.Logger
	detector  SignalDetector
	patterns  PatternDetector
	scorer    ReadinessCalculator
	latencies *utils.LatencyTracker
}

// NewPipeline constructs a pipeline. Nil stages are skipped.
func NewPipeline(logger *slog.Logger, detector SignalDetector, patterns PatternDetector, scorer ReadinessCalculator) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:    logger,
		detector:  detector,
		patterns:  patterns,
		scorer:    scorer,
		latencies: utils.NewLatencyTracker(256),
	}
}

// RunCycle executes expire, detect signals, detect patterns and score in order. A failing stage
// is logged and recorded in the report; later stages still run so a flaky feed never blocks the
// readiness measurement. The returned error joins every stage failure.
func (p *Pipeline) RunCycle(ctx context.Context, orgID string) (CycleReport, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return CycleReport{}, utils.NewAppError("run cycle", "organization id is required", nil)
	}

	start := time.Now()
	report := CycleReport{OrganizationID: orgID, Failures: map[string]error{}}
	logger := p.logger.With(slog.String("organization_id", orgID))

	fail := func(stage string, err error) {
		report.Failures[stage] = err
		logger.Warn("cycle stage failed", slog.String("stage", stage), slog.Any("error", err))
	}

	if p.detector != nil {
		expired, err := p.detector.ExpireStale(ctx, orgID)
		report.Expired = expired
		if err != nil {
			fail(StageExpire, err)
		}

		detected, err := p.detector.DetectSignals(ctx, orgID)
		report.Signals = detected
		if err != nil {
			fail(StageSignals, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return p.finish(report, start), err
	}

	if p.patterns != nil {
		found, err := p.patterns.DetectPatterns(ctx, orgID)
		report.Patterns = found
		if err != nil {
			fail(StagePatterns, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return p.finish(report, start), err
	}

	if p.scorer != nil {
		metric, err := p.scorer.CalculateReadinessScore(ctx, orgID)
		if err != nil {
			fail(StageScore, err)
		} else {
			report.Metric = &metric
		}
	}

	report = p.finish(report, start)
	logger.Info("cycle complete",
		slog.Int("expired", report.Expired),
		slog.Int("signals", len(report.Signals)),
		slog.Int("patterns", len(report.Patterns)),
		slog.Int("failures", len(report.Failures)),
		slog.Duration("duration", report.Duration),
	)
	return report, report.err()
}

func (p *Pipeline) finish(report CycleReport, start time.Time) CycleReport {
	report.Duration = time.Since(start)
	p.latencies.Observe(report.Duration)
	outcome := metrics.OutcomeSuccess
	if report.Failed() {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveOperation("run_cycle", report.Duration, outcome)
	if count := p.latencies.Count(); count >= 20 && count%20 == 0 {
		p.logger.Info("cycle latency", slog.Duration("p95", p.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return report
}

func (r CycleReport) err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	var errs []error
	for _, stage := range []string{StageExpire, StageSignals, StagePatterns, StageScore} {
		if err, ok := r.Failures[stage]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", stage, err))
		}
	}
	return errors.Join(errs...)
}
