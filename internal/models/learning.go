package models

import "time"

// LearningCategory classifies a learning statement.
type LearningCategory string

const (
	CategoryCommunication      LearningCategory = "communication"
	CategoryTiming             LearningCategory = "timing"
	CategoryResourceAllocation LearningCategory = "resource_allocation"
	CategoryEscalation         LearningCategory = "escalation"
	CategoryOther              LearningCategory = "other"
)

// PlaybookLearning is a structured lesson extracted from a completed execution.
// AppliedAt is set later when an operator incorporates the learning.
type PlaybookLearning struct {
	ID                  string           `json:"id"`
	OrganizationID      string           `json:"organization_id"`
	ScenarioID          string           `json:"scenario_id"`
	ExecutionInstanceID string           `json:"execution_instance_id"`
	Learning            string           `json:"learning"`
	Category            LearningCategory `json:"category"`
	Impact              Impact           `json:"impact"`
	Confidence          float64          `json:"confidence"`
	ExtractedAt         time.Time        `json:"extracted_at"`
	AppliedAt           *time.Time       `json:"applied_at,omitempty"`
}

// ExecutionInstance is one completed real-world response to a scenario. It is produced by an
// external workflow and consumed read-only.
type ExecutionInstance struct {
	ID                  string     `json:"id"`
	OrganizationID      string     `json:"organization_id"`
	ScenarioID          string     `json:"scenario_id"`
	Status              string     `json:"status"`
	Outcome             string     `json:"outcome"`
	LessonsLearned      string     `json:"lessons_learned"`
	ActualExecutionTime *float64   `json:"actual_execution_time,omitempty"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}
