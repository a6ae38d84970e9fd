package readiness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/playbookhq/readiness-engine/internal/models"
)

type fakeStore struct {
	mu           sync.Mutex
	total, ready int
	signals      int
	scenarios    int
	execs        models.ExecutionStats
	learnTotal   int
	learnApplied int
	metrics      []models.ReadinessMetric
	countErr     error
	since        time.Time
}

func (s *fakeStore) PlaybookCounts(context.Context, string) (int, int, error) {
	return s.total, s.ready, s.countErr
}

func (s *fakeStore) CountActiveScenarios(context.Context, string) (int, error) {
	return s.scenarios, nil
}

func (s *fakeStore) CountActiveSignals(context.Context, string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signals, nil
}

func (s *fakeStore) ExecutionStats(_ context.Context, _ string, since time.Time) (models.ExecutionStats, error) {
	s.since = since
	return s.execs, nil
}

func (s *fakeStore) LearningStats(context.Context, string, time.Time) (int, int, error) {
	return s.learnTotal, s.learnApplied, nil
}

func (s *fakeStore) LatestReadinessMetric(_ context.Context, orgID string) (*models.ReadinessMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.metrics) - 1; i >= 0; i-- {
		if s.metrics[i].OrganizationID == orgID {
			m := s.metrics[i]
			return &m, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) InsertReadinessMetric(_ context.Context, m models.ReadinessMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
	return nil
}

func (s *fakeStore) ListReadinessMetrics(_ context.Context, orgID string, limit int) ([]models.ReadinessMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReadinessMetric
	for i := len(s.metrics) - 1; i >= 0 && len(out) < limit; i-- {
		if s.metrics[i].OrganizationID == orgID {
			out = append(out, s.metrics[i])
		}
	}
	return out, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []models.ActivityFeedEvent
}

func (r *fakeRecorder) LogActivity(_ context.Context, orgID string, event models.ActivityFeedEvent) (models.ActivityFeedEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.OrganizationID = orgID
	r.events = append(r.events, event)
	return event, nil
}

var fixedNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestScorer(store *fakeStore, rec *fakeRecorder) *Scorer {
	s := NewScorer(store, rec, nil, Config{}, nil)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestCalculateReadinessScoreNewOrganization(t *testing.T) {
	store := &fakeStore{}
	rec := &fakeRecorder{}
	metric, err := newTestScorer(store, rec).CalculateReadinessScore(context.Background(), "org-new")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if metric.OverallScore != 32 || metric.Trend != models.TrendStable {
		t.Fatalf("unexpected metric: %+v", metric)
	}
	if metric.AgilityScore != 0 || metric.VelocityScore != 60 {
		t.Fatalf("unexpected defaults: %+v", metric)
	}
	if len(store.metrics) != 1 {
		t.Fatalf("expected one stored row")
	}
	if len(rec.events) != 1 || rec.events[0].Severity != models.SeverityCritical {
		t.Fatalf("expected one critical readiness event, got %+v", rec.events)
	}
	if want := fixedNow.Add(-30 * 24 * time.Hour); !store.since.Equal(want) {
		t.Fatalf("trailing window start = %v, want %v", store.since, want)
	}
}

func TestCalculateReadinessScoreTrendAndMonotonicDates(t *testing.T) {
	store := &fakeStore{total: 10, ready: 5}
	scorer := newTestScorer(store, &fakeRecorder{})
	ctx := context.Background()

	first, err := scorer.CalculateReadinessScore(ctx, "org-1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	store.ready = 10
	second, err := scorer.CalculateReadinessScore(ctx, "org-1")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Trend != models.TrendUp {
		t.Fatalf("expected upward trend, got %s (%d -> %d)", second.Trend, first.OverallScore, second.OverallScore)
	}
	if !second.MeasurementDate.After(first.MeasurementDate) {
		t.Fatalf("measurement dates must strictly increase: %v then %v", first.MeasurementDate, second.MeasurementDate)
	}

	third, _ := scorer.CalculateReadinessScore(ctx, "org-1")
	if third.Trend != models.TrendStable {
		t.Fatalf("unchanged inputs should be stable, got %s", third.Trend)
	}
	if len(store.metrics) != 3 {
		t.Fatalf("each run must append a row, got %d", len(store.metrics))
	}
}

func TestCalculateReadinessScoreSerializesPerOrganization(t *testing.T) {
	store := &fakeStore{total: 4, ready: 2}
	scorer := newTestScorer(store, &fakeRecorder{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := scorer.CalculateReadinessScore(context.Background(), "org-1"); err != nil {
				t.Errorf("calculate: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(store.metrics) != 8 {
		t.Fatalf("expected 8 rows, got %d", len(store.metrics))
	}
	for i := 1; i < len(store.metrics); i++ {
		if !store.metrics[i].MeasurementDate.After(store.metrics[i-1].MeasurementDate) {
			t.Fatalf("row %d does not follow its predecessor", i)
		}
	}
}

func TestCalculateReadinessScorePropagatesStorageErrors(t *testing.T) {
	store := &fakeStore{countErr: errors.New("timeout")}
	if _, err := newTestScorer(store, &fakeRecorder{}).CalculateReadinessScore(context.Background(), "org-1"); err == nil {
		t.Fatalf("expected error")
	}
	if len(store.metrics) != 0 {
		t.Fatalf("nothing should be stored on failure")
	}
}

func TestHistoryClampsLimit(t *testing.T) {
	store := &fakeStore{}
	scorer := newTestScorer(store, &fakeRecorder{})
	for i := 0; i < 3; i++ {
		if _, err := scorer.CalculateReadinessScore(context.Background(), "org-1"); err != nil {
			t.Fatalf("calculate: %v", err)
		}
	}
	history, err := scorer.History(context.Background(), "org-1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || !history[0].MeasurementDate.After(history[1].MeasurementDate) {
		t.Fatalf("expected newest-first page of 2, got %+v", history)
	}
}
