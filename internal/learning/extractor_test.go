package learning

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/playbookhq/readiness-engine/internal/models"
)

type fakeStore struct {
	executions map[string]models.ExecutionInstance
	learnings  []models.PlaybookLearning
	insertErr  error
	getErr     error
	applied    map[string]time.Time
}

func (s *fakeStore) GetExecution(_ context.Context, id string) (models.ExecutionInstance, error) {
	if s.getErr != nil {
		return models.ExecutionInstance{}, s.getErr
	}
	exec, ok := s.executions[id]
	if !ok {
		return models.ExecutionInstance{}, models.ErrNotFound
	}
	return exec, nil
}

func (s *fakeStore) LearningsExist(_ context.Context, id string) (bool, error) {
	for _, l := range s.learnings {
		if l.ExecutionInstanceID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) InsertLearning(_ context.Context, l models.PlaybookLearning) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.learnings = append(s.learnings, l)
	return nil
}

func (s *fakeStore) MarkLearningApplied(_ context.Context, _, id string, at time.Time) error {
	if s.applied == nil {
		s.applied = make(map[string]time.Time)
	}
	s.applied[id] = at
	return nil
}

type fakeRecorder struct {
	events []models.ActivityFeedEvent
}

func (r *fakeRecorder) LogActivity(_ context.Context, orgID string, event models.ActivityFeedEvent) (models.ActivityFeedEvent, error) {
	event.OrganizationID = orgID
	r.events = append(r.events, event)
	return event, nil
}

type countingGenerator struct {
	calls  int
	prompt string
	reply  string
	err    error
	block  bool
}

func (g *countingGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	g.calls++
	g.prompt = prompt
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.reply, g.err
}

func execution(lessons, outcome string) models.ExecutionInstance {
	started := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	completed := started.Add(42 * time.Minute)
	return models.ExecutionInstance{
		ID:             "exec-1",
		OrganizationID: "org-1",
		ScenarioID:     "scn-1",
		Status:         "completed",
		Outcome:        outcome,
		LessonsLearned: lessons,
		StartedAt:      started,
		CompletedAt:    &completed,
	}
}

func TestExtractLearningsHappyPath(t *testing.T) {
	store := &fakeStore{executions: map[string]models.ExecutionInstance{
		"exec-1": execution("Legal was looped in too late; the status page update lagged.", "failed"),
	}}
	gen := &countingGenerator{reply: `["Escalate to legal leadership within the first hour", "Notify stakeholders through the status channel", "Pre-approve budget for surge staff"]`}
	rec := &fakeRecorder{}
	ex := NewExtractor(store, gen, rec, time.Second, nil)

	learnings, err := ex.ExtractLearnings(context.Background(), "exec-1", "scn-1")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(learnings) != 3 {
		t.Fatalf("expected 3 learnings, got %d", len(learnings))
	}
	want := []models.LearningCategory{models.CategoryEscalation, models.CategoryCommunication, models.CategoryResourceAllocation}
	for i, l := range learnings {
		if l.Category != want[i] {
			t.Fatalf("learning %d category = %s, want %s", i, l.Category, want[i])
		}
		if l.Confidence != DefaultConfidence {
			t.Fatalf("unexpected confidence %v", l.Confidence)
		}
		if l.Impact != models.ImpactHigh {
			t.Fatalf("failed outcome should yield high impact, got %s", l.Impact)
		}
		if l.OrganizationID != "org-1" || l.ScenarioID != "scn-1" || l.ExecutionInstanceID != "exec-1" {
			t.Fatalf("unexpected references: %+v", l)
		}
		if l.AppliedAt != nil {
			t.Fatalf("new learnings must not be applied")
		}
	}
	if !strings.Contains(gen.prompt, "42 minutes") || !strings.Contains(gen.prompt, "Outcome: failed") {
		t.Fatalf("prompt missing execution context: %q", gen.prompt)
	}
	if len(rec.events) != 1 || rec.events[0].EventType != EventLearningsExtracted {
		t.Fatalf("expected one learnings_extracted event, got %+v", rec.events)
	}
}

func TestExtractLearningsSkipsWithoutLessons(t *testing.T) {
	store := &fakeStore{executions: map[string]models.ExecutionInstance{"exec-1": execution("   ", "success")}}
	gen := &countingGenerator{reply: `["x"]`}
	ex := NewExtractor(store, gen, &fakeRecorder{}, time.Second, nil)

	for _, id := range []string{"exec-1", "missing"} {
		learnings, err := ex.ExtractLearnings(context.Background(), id, "")
		if err != nil || len(learnings) != 0 {
			t.Fatalf("%s: expected empty result, got %v, %v", id, learnings, err)
		}
	}
	if gen.calls != 0 {
		t.Fatalf("generator must not be called, got %d calls", gen.calls)
	}
}

func TestExtractLearningsGeneratorFailureIsSilent(t *testing.T) {
	cases := map[string]*countingGenerator{
		"error":     {err: errors.New("503")},
		"malformed": {reply: "I could not find anything useful."},
		"timeout":   {block: true},
	}
	for name, gen := range cases {
		t.Run(name, func(t *testing.T) {
			store := &fakeStore{executions: map[string]models.ExecutionInstance{"exec-1": execution("Runbook was outdated", "success")}}
			rec := &fakeRecorder{}
			ex := NewExtractor(store, gen, rec, 20*time.Millisecond, nil)

			learnings, err := ex.ExtractLearnings(context.Background(), "exec-1", "scn-1")
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if len(learnings) != 0 || len(store.learnings) != 0 || len(rec.events) != 0 {
				t.Fatalf("expected nothing persisted")
			}
		})
	}
}

func TestExtractLearningsOncePerExecution(t *testing.T) {
	store := &fakeStore{executions: map[string]models.ExecutionInstance{"exec-1": execution("Slow approvals", "success")}}
	gen := &countingGenerator{reply: `["Pre-approve spend limits"]`}
	ex := NewExtractor(store, gen, &fakeRecorder{}, time.Second, nil)

	first, _ := ex.ExtractLearnings(context.Background(), "exec-1", "")
	if len(first) != 1 || first[0].Impact != models.ImpactMedium {
		t.Fatalf("unexpected first run: %+v", first)
	}
	second, err := ex.ExtractLearnings(context.Background(), "exec-1", "")
	if err != nil || len(second) != 0 {
		t.Fatalf("expected no duplicates, got %v, %v", second, err)
	}
	if gen.calls != 1 {
		t.Fatalf("generator should not be called again, got %d", gen.calls)
	}
}

func TestExtractLearningsPropagatesStorageErrors(t *testing.T) {
	store := &fakeStore{getErr: errors.New("connection refused")}
	ex := NewExtractor(store, &countingGenerator{}, &fakeRecorder{}, time.Second, nil)
	if _, err := ex.ExtractLearnings(context.Background(), "exec-1", ""); err == nil {
		t.Fatalf("expected storage error")
	}

	store = &fakeStore{
		executions: map[string]models.ExecutionInstance{"exec-1": execution("Late paging", "success")},
		insertErr:  errors.New("disk full"),
	}
	ex = NewExtractor(store, &countingGenerator{reply: `["Page earlier"]`}, &fakeRecorder{}, time.Second, nil)
	if _, err := ex.ExtractLearnings(context.Background(), "exec-1", ""); err == nil {
		t.Fatalf("expected insert error")
	}
}

func TestBuildPromptPrefersActualExecutionTime(t *testing.T) {
	exec := execution("x", "")
	minutes := 17.0
	exec.ActualExecutionTime = &minutes
	if prompt := BuildPrompt(exec); !strings.Contains(prompt, "17 minutes") {
		t.Fatalf("expected actual execution time in prompt: %q", prompt)
	}
}

func TestMarkApplied(t *testing.T) {
	store := &fakeStore{}
	ex := NewExtractor(store, nil, &fakeRecorder{}, time.Second, nil)
	if err := ex.MarkApplied(context.Background(), "org-1", "l-1"); err != nil {
		t.Fatalf("mark applied: %v", err)
	}
	if _, ok := store.applied["l-1"]; !ok {
		t.Fatalf("applied timestamp not recorded")
	}
}

func TestExtractLearningsEnforcesTimeoutOnBlockingGenerator(t *testing.T) {
	store := &fakeStore{executions: map[string]models.ExecutionInstance{"exec-1": execution("Approvals stalled", "success")}}
	release := make(chan struct{})
	defer close(release)
	gen := GeneratorFunc(func(context.Context, string) (string, error) {
		<-release
		return `["Pre-approve spend limits"]`, nil
	})
	ex := NewExtractor(store, gen, &fakeRecorder{}, 20*time.Millisecond, nil)

	start := time.Now()
	learnings, err := ex.ExtractLearnings(context.Background(), "exec-1", "scn-1")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("extraction waited %v for a generator that ignores its context", elapsed)
	}
	if err != nil || len(learnings) != 0 || len(store.learnings) != 0 {
		t.Fatalf("expected empty result after timeout, got %v, %v", learnings, err)
	}
}
