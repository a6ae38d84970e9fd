package activity

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

type memStore struct {
	mu     sync.Mutex
	events []models.ActivityFeedEvent
	err    error
	limit  int
}

func (m *memStore) InsertActivity(_ context.Context, event models.ActivityFeedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memStore) ListActivity(_ context.Context, orgID string, limit int) ([]models.ActivityFeedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = limit
	var out []models.ActivityFeedEvent
	for _, e := range m.events {
		if e.OrganizationID == orgID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) PublishActivity(context.Context, models.ActivityFeedEvent) error {
	p.calls++
	return errors.New("broker unavailable")
}

func TestLogActivityDefaultsAndStamps(t *testing.T) {
	store := &memStore{}
	pub := &failingPublisher{}
	logger := NewLogger(store, pub, nil)

	event, err := logger.LogActivity(context.Background(), "org-1", models.ActivityFeedEvent{
		EventType: "weak_signal_detected",
		Title:     "Weak signal detected",
	})
	if err != nil {
		t.Fatalf("log activity: %v", err)
	}
	if event.ID == "" || event.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", event)
	}
	if event.Severity != models.SeverityInfo {
		t.Fatalf("expected default info severity, got %q", event.Severity)
	}
	if event.OrganizationID != "org-1" {
		t.Fatalf("unexpected org %q", event.OrganizationID)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected event persisted despite publish failure")
	}
	if pub.calls != 1 {
		t.Fatalf("expected one publish attempt, got %d", pub.calls)
	}
}

func TestLogActivityValidation(t *testing.T) {
	logger := NewLogger(&memStore{}, nil, nil)
	cases := []struct {
		name  string
		org   string
		event models.ActivityFeedEvent
	}{
		{"missing org", "", models.ActivityFeedEvent{EventType: "x", Title: "y"}},
		{"missing type", "org", models.ActivityFeedEvent{Title: "y"}},
		{"missing title", "org", models.ActivityFeedEvent{EventType: "x"}},
		{"bad severity", "org", models.ActivityFeedEvent{EventType: "x", Title: "y", Severity: "fatal"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := logger.LogActivity(context.Background(), tc.org, tc.event)
			if !utils.IsAppError(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLogActivityPropagatesStorageFailure(t *testing.T) {
	logger := NewLogger(&memStore{err: errors.New("disk full")}, nil, nil)
	_, err := logger.LogActivity(context.Background(), "org", models.ActivityFeedEvent{EventType: "x", Title: "y"})
	if err == nil || utils.IsAppError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestGetActivityFeedClampsLimit(t *testing.T) {
	store := &memStore{}
	logger := NewLogger(store, nil, nil)
	ctx := context.Background()

	if _, err := logger.GetActivityFeed(ctx, "org", 0); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if store.limit != DefaultFeedLimit {
		t.Fatalf("expected default limit, got %d", store.limit)
	}
	if _, err := logger.GetActivityFeed(ctx, "org", 10_000); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if store.limit != MaxFeedLimit {
		t.Fatalf("expected capped limit, got %d", store.limit)
	}
}

func TestGetActivityFeedIsTenantScoped(t *testing.T) {
	store := &memStore{}
	logger := NewLogger(store, nil, nil)
	ctx := context.Background()
	for _, org := range []string{"org-a", "org-b", "org-a"} {
		if _, err := logger.LogActivity(ctx, org, models.ActivityFeedEvent{EventType: "x", Title: "y"}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	events, err := logger.GetActivityFeed(ctx, "org-a", 10)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for org-a, got %d", len(events))
	}
	for _, e := range events {
		if e.OrganizationID != "org-a" {
			t.Fatalf("leaked event from %s", e.OrganizationID)
		}
	}
}
