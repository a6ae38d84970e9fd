package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/playbookhq/readiness-engine/internal/models"
)

type fakeDetector struct {
	expired   int
	expireErr error
	signals   []models.WeakSignal
	detectErr error
	calls     []string
}

func (f *fakeDetector) ExpireStale(ctx context.Context, orgID string) (int, error) {
	f.calls = append(f.calls, "expire")
	return f.expired, f.expireErr
}

func (f *fakeDetector) DetectSignals(ctx context.Context, orgID string) ([]models.WeakSignal, error) {
	f.calls = append(f.calls, "signals")
	return f.signals, f.detectErr
}

type fakePatterns struct {
	patterns []models.OraclePattern
	err      error
	called   bool
}

func (f *fakePatterns) DetectPatterns(ctx context.Context, orgID string) ([]models.OraclePattern, error) {
	f.called = true
	return f.patterns, f.err
}

type fakeScorer struct {
	err    error
	called bool
}

func (f *fakeScorer) CalculateReadinessScore(ctx context.Context, orgID string) (models.ReadinessMetric, error) {
	f.called = true
	if f.err != nil {
		return models.ReadinessMetric{}, f.err
	}
	return models.ReadinessMetric{OrganizationID: orgID, OverallScore: 64}, nil
}

func TestRunCycleRunsStagesInOrder(t *testing.T) {
	det := &fakeDetector{expired: 2, signals: []models.WeakSignal{{ID: "s1"}, {ID: "s2"}}}
	pat := &fakePatterns{patterns: []models.OraclePattern{{ID: "p1"}}}
	sc := &fakeScorer{}
	p := NewPipeline(nil, det, pat, sc)

	report, err := p.RunCycle(context.Background(), "org-a")
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(det.calls) != 2 || det.calls[0] != "expire" || det.calls[1] != "signals" {
		t.Fatalf("unexpected detector calls %v", det.calls)
	}
	if report.Expired != 2 || len(report.Signals) != 2 || len(report.Patterns) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Metric == nil || report.Metric.OverallScore != 64 {
		t.Fatalf("expected metric in report, got %+v", report.Metric)
	}
	if report.Failed() {
		t.Fatalf("expected no failures, got %v", report.Failures)
	}
}

func TestRunCycleContinuesAfterStageFailure(t *testing.T) {
	boom := errors.New("feed down")
	det := &fakeDetector{detectErr: boom, signals: []models.WeakSignal{{ID: "partial"}}}
	pat := &fakePatterns{}
	sc := &fakeScorer{}
	p := NewPipeline(nil, det, pat, sc)

	report, err := p.RunCycle(context.Background(), "org-a")
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined stage error, got %v", err)
	}
	if !pat.called || !sc.called {
		t.Fatalf("later stages must still run: patterns=%v score=%v", pat.called, sc.called)
	}
	if _, ok := report.Failures[StageSignals]; !ok || len(report.Failures) != 1 {
		t.Fatalf("unexpected failures %v", report.Failures)
	}
	if len(report.Signals) != 1 {
		t.Fatalf("partial signals should be kept, got %d", len(report.Signals))
	}
	if report.Metric == nil {
		t.Fatalf("expected metric despite signal failure")
	}
}

func TestRunCycleStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pat := &fakePatterns{}
	p := NewPipeline(nil, &fakeDetector{}, pat, &fakeScorer{})

	if _, err := p.RunCycle(ctx, "org-a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if pat.called {
		t.Fatalf("patterns stage should not run after cancellation")
	}
}

func TestRunCycleRequiresOrganization(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil)
	if _, err := p.RunCycle(context.Background(), "  "); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRunCycleSkipsNilStages(t *testing.T) {
	sc := &fakeScorer{}
	p := NewPipeline(nil, nil, nil, sc)
	report, err := p.RunCycle(context.Background(), "org-a")
	if err != nil || !sc.called || report.Metric == nil {
		t.Fatalf("expected score-only cycle, err=%v called=%v", err, sc.called)
	}
}
