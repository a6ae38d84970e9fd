package signals

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/playbookhq/readiness-engine/internal/models"
)

type fakeSource struct {
	byCategory map[models.SignalType][]models.Indicator
	failures   map[models.SignalType]error
	panics     map[models.SignalType]bool
}

func (f *fakeSource) FetchIndicators(_ context.Context, _ string, category models.SignalType) ([]models.Indicator, error) {
	if f.panics[category] {
		panic("feed decoder exploded")
	}
	if err := f.failures[category]; err != nil {
		return nil, err
	}
	return f.byCategory[category], nil
}

type fakeStore struct {
	mu         sync.Mutex
	signals    []models.WeakSignal
	insertErr  error
	expireFrom time.Time
}

func (s *fakeStore) SignalExists(_ context.Context, orgID string, signalType models.SignalType, source string, from, to time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range s.signals {
		if sig.OrganizationID == orgID && sig.SignalType == signalType && sig.Source == source &&
			!sig.DetectedAt.Before(from) && sig.DetectedAt.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) InsertSignal(_ context.Context, signal models.WeakSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil && len(s.signals) > 0 {
		return s.insertErr
	}
	s.signals = append(s.signals, signal)
	return nil
}

func (s *fakeStore) ExpireSignals(_ context.Context, _ string, cutoff time.Time) (int, error) {
	s.expireFrom = cutoff
	return 3, nil
}

type fakeRecorder struct {
	events []models.ActivityFeedEvent
}

func (r *fakeRecorder) LogActivity(_ context.Context, orgID string, event models.ActivityFeedEvent) (models.ActivityFeedEvent, error) {
	event.OrganizationID = orgID
	r.events = append(r.events, event)
	return event, nil
}

func candidateTrigger(candidates map[models.SignalType][]Candidate) Trigger {
	return TriggerFunc(func(category models.SignalType, _ []models.Indicator) ([]Candidate, error) {
		return candidates[category], nil
	})
}

func anyIndicators() map[models.SignalType][]models.Indicator {
	out := make(map[models.SignalType][]models.Indicator)
	for _, c := range models.AllSignalTypes {
		out[c] = []models.Indicator{{Source: "feed-" + string(c)}}
	}
	return out
}

func newTestDetector(source IndicatorSource, trigger Trigger, store Store, rec *fakeRecorder, now time.Time) *Detector {
	d := NewDetector(source, trigger, store, rec, Config{}, nil)
	d.now = func() time.Time { return now }
	return d
}

func TestDetectSignalsSuppressesDuplicatesWithinWindow(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 15, 0, 0, time.UTC)
	store := &fakeStore{}
	rec := &fakeRecorder{}
	trigger := candidateTrigger(map[models.SignalType][]Candidate{
		models.SignalTypeRegulatory: {{Source: "eu-ai-act", Confidence: 72, Impact: models.ImpactHigh}},
	})
	d := newTestDetector(&fakeSource{byCategory: anyIndicators()}, trigger, store, rec, now)

	first, err := d.DetectSignals(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(first))
	}

	d.now = func() time.Time { return now.Add(30 * time.Minute) }
	second, err := d.DetectSignals(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected duplicate to be suppressed, got %d", len(second))
	}

	d.now = func() time.Time { return now.Add(2 * time.Hour) }
	third, _ := d.DetectSignals(context.Background(), "org-1")
	if len(third) != 1 {
		t.Fatalf("expected a new bucket to allow the signal again, got %d", len(third))
	}
	if len(rec.events) != 2 {
		t.Fatalf("expected one activity event per created signal, got %d", len(rec.events))
	}
}

func TestDetectSignalsSkipsFailingCategories(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{
		byCategory: anyIndicators(),
		failures:   map[models.SignalType]error{models.SignalTypeRegulatory: errors.New("feed timeout")},
		panics:     map[models.SignalType]bool{models.SignalTypeMarket: true},
	}
	all := make(map[models.SignalType][]Candidate)
	for _, c := range models.AllSignalTypes {
		all[c] = []Candidate{{Source: "src-" + string(c), Confidence: 55}}
	}
	d := newTestDetector(source, candidateTrigger(all), &fakeStore{}, &fakeRecorder{}, now)

	created, err := d.DetectSignals(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 signals from healthy categories, got %d", len(created))
	}
	for _, s := range created {
		if s.SignalType == models.SignalTypeRegulatory || s.SignalType == models.SignalTypeMarket {
			t.Fatalf("unexpected signal from failed category %s", s.SignalType)
		}
		if s.Status != models.SignalStatusActive {
			t.Fatalf("new signals must be active, got %s", s.Status)
		}
	}
}

func TestDetectSignalsClampsConfidenceAndMapsSeverity(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	rec := &fakeRecorder{}
	trigger := candidateTrigger(map[models.SignalType][]Candidate{
		models.SignalTypeCompetitor: {
			{Source: "rival-pricing", Confidence: 250, Impact: models.ImpactCritical},
			{Source: "rival-hiring", Confidence: -12},
		},
	})
	d := newTestDetector(&fakeSource{byCategory: anyIndicators()}, trigger, &fakeStore{}, rec, now)

	created, err := d.DetectSignals(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(created))
	}
	if created[0].Confidence != 100 || created[1].Confidence != 0 {
		t.Fatalf("confidence not clamped: %d, %d", created[0].Confidence, created[1].Confidence)
	}
	if created[1].Impact != models.ImpactMedium {
		t.Fatalf("expected default medium impact, got %q", created[1].Impact)
	}
	if rec.events[0].Severity != models.SeverityCritical || rec.events[1].Severity != models.SeverityWarning {
		t.Fatalf("unexpected severities: %s, %s", rec.events[0].Severity, rec.events[1].Severity)
	}
	if rec.events[0].RelatedEntityID != created[0].ID {
		t.Fatalf("activity event must reference the signal")
	}
}

func TestDetectSignalsPropagatesStorageFailureWithPartialResults(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{insertErr: errors.New("connection reset")}
	trigger := candidateTrigger(map[models.SignalType][]Candidate{
		models.SignalTypeRegulatory: {{Source: "a", Confidence: 50}, {Source: "b", Confidence: 50}},
	})
	d := newTestDetector(&fakeSource{byCategory: anyIndicators()}, trigger, store, &fakeRecorder{}, now)

	created, err := d.DetectSignals(context.Background(), "org-1")
	if err == nil {
		t.Fatalf("expected storage error")
	}
	if len(created) != 1 {
		t.Fatalf("expected the signal persisted before the failure, got %d", len(created))
	}
}

func TestDetectSignalsRequiresOrganization(t *testing.T) {
	d := newTestDetector(&fakeSource{}, nil, &fakeStore{}, &fakeRecorder{}, time.Now())
	if _, err := d.DetectSignals(context.Background(), " "); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestExpireStaleUsesMaxAge(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	d := newTestDetector(&fakeSource{}, nil, store, &fakeRecorder{}, now)

	n, err := d.ExpireStale(context.Background(), "org-1")
	if err != nil || n != 3 {
		t.Fatalf("expire = %d, %v", n, err)
	}
	if want := now.Add(-30 * 24 * time.Hour); !store.expireFrom.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", store.expireFrom, want)
	}
}
