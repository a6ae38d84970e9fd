package models

import (
	"errors"
	"time"
)

// Severity of an activity feed event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Related entity types referenced from activity events.
const (
	EntityWeakSignal        = "weak_signal"
	EntityOraclePattern     = "oracle_pattern"
	EntityReadinessMetric   = "readiness_metric"
	EntityExecutionInstance = "execution_instance"
)

// ActivityFeedEvent is an append-only record of something the pipeline produced.
type ActivityFeedEvent struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organization_id"`
	EventType         string    `json:"event_type"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Severity          Severity  `json:"severity"`
	RelatedEntityType string    `json:"related_entity_type,omitempty"`
	RelatedEntityID   string    `json:"related_entity_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ErrNotFound is returned by stores when a tenant-scoped lookup matches nothing.
var ErrNotFound = errors.New("not found")
