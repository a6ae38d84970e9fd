package models

import "time"

// SignalType enumerates the indicator categories a weak signal can originate from.
type SignalType string

const (
	SignalTypeRegulatory  SignalType = "regulatory"
	SignalTypeCompetitor  SignalType = "competitor"
	SignalTypeTechnology  SignalType = "technology"
	SignalTypeMarket      SignalType = "market"
	SignalTypeSupplyChain SignalType = "supply_chain"
)

// AllSignalTypes lists every category in evaluation order.
var AllSignalTypes = []SignalType{
	SignalTypeRegulatory,
	SignalTypeCompetitor,
	SignalTypeTechnology,
	SignalTypeMarket,
	SignalTypeSupplyChain,
}

// Valid reports whether t is a known signal type.
func (t SignalType) Valid() bool {
	for _, known := range AllSignalTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Impact captures the expected business impact of a signal, pattern or learning.
type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

// SignalStatus is the lifecycle state of a weak signal.
type SignalStatus string

const (
	SignalStatusActive   SignalStatus = "active"
	SignalStatusResolved SignalStatus = "resolved"
	SignalStatusExpired  SignalStatus = "expired"
)

// WeakSignal is an early, low-confidence indicator of a possible future risk or opportunity.
// Only Status changes after creation.
type WeakSignal struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	SignalType     SignalType   `json:"signal_type"`
	Description    string       `json:"description"`
	Confidence     int          `json:"confidence"`
	Timeline       string       `json:"timeline"`
	Impact         Impact       `json:"impact"`
	Source         string       `json:"source"`
	Status         SignalStatus `json:"status"`
	DetectedAt     time.Time    `json:"detected_at"`
}
