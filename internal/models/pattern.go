package models

import "time"

// PatternStatus is the lifecycle state of an oracle pattern.
type PatternStatus string

const (
	PatternStatusDetected  PatternStatus = "detected"
	PatternStatusActioned  PatternStatus = "actioned"
	PatternStatusDismissed PatternStatus = "dismissed"
)

// Valid reports whether s is a known pattern status.
func (s PatternStatus) Valid() bool {
	switch s {
	case PatternStatusDetected, PatternStatusActioned, PatternStatusDismissed:
		return true
	}
	return false
}

// OraclePattern is a hypothesis derived by correlating at least two active weak signals.
// EvidenceSignals references signals of the same organization; it is a lookup, not ownership.
type OraclePattern struct {
	ID              string        `json:"id"`
	OrganizationID  string        `json:"organization_id"`
	PatternType     string        `json:"pattern_type"`
	Description     string        `json:"description"`
	Confidence      int           `json:"confidence"`
	Impact          Impact        `json:"impact"`
	Timeline        string        `json:"timeline"`
	Recommendations []string      `json:"recommendations"`
	EvidenceSignals []string      `json:"evidence_signals"`
	Status          PatternStatus `json:"status"`
	DetectedAt      time.Time     `json:"detected_at"`
}
