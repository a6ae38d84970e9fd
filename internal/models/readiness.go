package models

import "time"

// Trend compares a readiness measurement against its predecessor.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// ReadinessMetric is one immutable row of an organization's readiness time series.
type ReadinessMetric struct {
	ID                  string    `json:"id"`
	OrganizationID      string    `json:"organization_id"`
	OverallScore        int       `json:"overall_score"`
	ForesightScore      int       `json:"foresight_score"`
	VelocityScore       int       `json:"velocity_score"`
	AgilityScore        int       `json:"agility_score"`
	LearningScore       int       `json:"learning_score"`
	AdaptabilityScore   int       `json:"adaptability_score"`
	ActiveScenarios     int       `json:"active_scenarios"`
	WeakSignalsDetected int       `json:"weak_signals_detected"`
	PlaybooksReady      int       `json:"playbooks_ready"`
	PlaybooksTotal      int       `json:"playbooks_total"`
	AverageResponseTime float64   `json:"average_response_time"`
	Trend               Trend     `json:"trend"`
	MeasurementDate     time.Time `json:"measurement_date"`
}

// Health levels reported by the system status view.
const (
	HealthOperational = "operational"
	HealthDegraded    = "degraded"
	HealthCritical    = "critical"
)

// SystemStatus is the read-time projection served to operational dashboards.
type SystemStatus struct {
	OrganizationID       string    `json:"organization_id"`
	ReadinessScore       int       `json:"readiness_score"`
	ActiveScenarios      int       `json:"active_scenarios"`
	WeakSignalsDetected  int       `json:"weak_signals_detected"`
	OraclePatternsActive int       `json:"oracle_patterns_active"`
	PlaybooksReady       int       `json:"playbooks_ready"`
	SystemStatus         string    `json:"system_status"`
	LastUpdated          time.Time `json:"last_updated"`
}

// ExecutionStats summarises completed executions in a trailing window.
type ExecutionStats struct {
	Completed      int
	Timed          int
	AverageMinutes float64
}
