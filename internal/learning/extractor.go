package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/playbookhq/readiness-engine/internal/activity"
	"github.com/playbookhq/readiness-engine/internal/metrics"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

// EventLearningsExtracted is the activity event type emitted per non-empty batch.
const EventLearningsExtracted = "learnings_extracted"

// DefaultConfidence is assigned to every generated learning.
const DefaultConfidence = 0.85

// Generator produces free text from a prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Complete implements Generator.
func (f GeneratorFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Store reads executions and persists learnings.
type Store interface {
	// GetExecution returns models.ErrNotFound when the execution does not exist.
	GetExecution(ctx context.Context, executionID string) (models.ExecutionInstance, error)
	LearningsExist(ctx context.Context, executionID string) (bool, error)
	InsertLearning(ctx context.Context, learning models.PlaybookLearning) error
	// MarkLearningApplied stamps appliedAt on a learning of orgID.
	MarkLearningApplied(ctx context.Context, orgID, learningID string, appliedAt time.Time) error
}

// Extractor turns the free-text lessons of a completed execution into structured learnings.
type Extractor struct {
	store     Store
	generator Generator
	recorder  activity.Recorder
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewExtractor constructs an Extractor. timeout bounds each generator call.
func NewExtractor(store Store, generator Generator, recorder activity.Recorder, timeout time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Extractor{
		store:     store,
		generator: generator,
		recorder:  recorder,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// ExtractLearnings creates up to three learnings for executionID. Missing data and generator
// failures produce an empty result without error; storage failures are returned.
func (e *Extractor) ExtractLearnings(ctx context.Context, executionID, scenarioID string) ([]models.PlaybookLearning, error) {
	if strings.TrimSpace(executionID) == "" {
		return nil, utils.NewAppError("extract learnings", "execution id is required", nil)
	}
	logger := e.logger.With(slog.String("execution_id", executionID))

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logger.Info("execution not found, nothing to extract")
			return nil, nil
		}
		return nil, fmt.Errorf("load execution: %w", err)
	}
	if strings.TrimSpace(exec.LessonsLearned) == "" {
		return nil, nil
	}
	if scenarioID == "" {
		scenarioID = exec.ScenarioID
	} else if exec.ScenarioID != "" && scenarioID != exec.ScenarioID {
		logger.Warn("scenario id differs from execution record",
			slog.String("requested", scenarioID),
			slog.String("recorded", exec.ScenarioID),
		)
	}

	exists, err := e.store.LearningsExist(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("check existing learnings: %w", err)
	}
	if exists {
		logger.Debug("learnings already extracted")
		return nil, nil
	}

	statements := e.generate(ctx, logger, BuildPrompt(exec))
	if len(statements) == 0 {
		return nil, nil
	}

	impact := models.ImpactMedium
	if isFailure(exec) {
		impact = models.ImpactHigh
	}
	extractedAt := e.now().UTC()

	learnings := make([]models.PlaybookLearning, 0, len(statements))
	for _, statement := range statements {
		learning := models.PlaybookLearning{
			ID:                  uuid.NewString(),
			OrganizationID:      exec.OrganizationID,
			ScenarioID:          scenarioID,
			ExecutionInstanceID: executionID,
			Learning:            statement,
			Category:            Classify(statement),
			Impact:              impact,
			Confidence:          DefaultConfidence,
			ExtractedAt:         extractedAt,
		}
		if err := e.store.InsertLearning(ctx, learning); err != nil {
			return learnings, fmt.Errorf("insert learning: %w", err)
		}
		metrics.LearningExtracted(string(learning.Category))
		learnings = append(learnings, learning)
	}

	if _, err := e.recorder.LogActivity(ctx, exec.OrganizationID, models.ActivityFeedEvent{
		EventType:         EventLearningsExtracted,
		Title:             fmt.Sprintf("%d learnings extracted", len(learnings)),
		Description:       learnings[0].Learning,
		Severity:          models.SeverityInfo,
		RelatedEntityType: models.EntityExecutionInstance,
		RelatedEntityID:   executionID,
	}); err != nil {
		return learnings, fmt.Errorf("log learnings activity: %w", err)
	}
	return learnings, nil
}

// MarkApplied records that an operator incorporated a learning into a playbook.
func (e *Extractor) MarkApplied(ctx context.Context, orgID, learningID string) error {
	if strings.TrimSpace(orgID) == "" || strings.TrimSpace(learningID) == "" {
		return utils.NewAppError("mark learning applied", "organization id and learning id are required", nil)
	}
	if err := e.store.MarkLearningApplied(ctx, orgID, learningID, e.now().UTC()); err != nil {
		return fmt.Errorf("mark learning applied: %w", err)
	}
	return nil
}

func (e *Extractor) generate(ctx context.Context, logger *slog.Logger, prompt string) []string {
	if e.generator == nil {
		logger.Warn("no text generator configured, skipping extraction")
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type completion struct {
		raw string
		err error
	}
	// Buffered so a generator that ignores ctx can finish after we stop waiting.
	done := make(chan completion, 1)
	go func() {
		raw, err := e.generator.Complete(callCtx, prompt)
		done <- completion{raw: raw, err: err}
	}()

	var raw string
	select {
	case <-callCtx.Done():
		logger.Warn("text generation abandoned", slog.Duration("timeout", e.timeout), slog.Any("error", callCtx.Err()))
		return nil
	case res := <-done:
		if res.err != nil {
			logger.Warn("text generation failed", slog.Any("error", res.err))
			return nil
		}
		raw = res.raw
	}
	statements := ParseLearnings(raw)
	if len(statements) == 0 {
		logger.Warn("text generation reply held no learnings", slog.Int("reply_bytes", len(raw)))
	}
	return statements
}

// BuildPrompt renders the generator prompt for a completed execution.
func BuildPrompt(exec models.ExecutionInstance) string {
	var b strings.Builder
	b.WriteString("Analyse this completed playbook execution and extract 2-3 specific, actionable organizational learnings.\n")
	b.WriteString("Each learning should concern communication, timing, resource allocation or escalation where possible.\n\n")
	fmt.Fprintf(&b, "Lessons learned: %s\n", strings.TrimSpace(exec.LessonsLearned))
	if outcome := strings.TrimSpace(exec.Outcome); outcome != "" {
		fmt.Fprintf(&b, "Outcome: %s\n", outcome)
	}
	if minutes, ok := elapsedMinutes(exec); ok {
		fmt.Fprintf(&b, "Execution time: %.0f minutes\n", minutes)
	}
	b.WriteString("\nRespond with a JSON array of strings only, for example [\"learning one\", \"learning two\"].")
	return b.String()
}

func elapsedMinutes(exec models.ExecutionInstance) (float64, bool) {
	if exec.ActualExecutionTime != nil {
		return *exec.ActualExecutionTime, true
	}
	if exec.CompletedAt != nil && !exec.StartedAt.IsZero() {
		return utils.DurationMinutes(exec.StartedAt, *exec.CompletedAt), true
	}
	return 0, false
}

func isFailure(exec models.ExecutionInstance) bool {
	for _, v := range []string{exec.Outcome, exec.Status} {
		v = strings.ToLower(v)
		if strings.Contains(v, "fail") || strings.Contains(v, "unsuccess") {
			return true
		}
	}
	return false
}
