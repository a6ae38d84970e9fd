package patterns

import (
	"math"

	"github.com/playbookhq/readiness-engine/internal/models"
)

// ConfidenceFunc scores a qualifying set of matched signals on a 0-100 scale.
type ConfidenceFunc func(matched []models.WeakSignal) int

const weakEvidenceThreshold = 40

// DefaultConfidence averages signal confidence, boosts it for corroboration by more signals
// and more distinct signal types, and discounts it by the share of weak evidence. Adding
// another equally confident signal never lowers the result.
func DefaultConfidence(matched []models.WeakSignal) int {
	if len(matched) == 0 {
		return 0
	}

	sum := 0
	weak := 0
	types := make(map[models.SignalType]struct{})
	for _, s := range matched {
		sum += s.Confidence
		if s.Confidence < weakEvidenceThreshold {
			weak++
		}
		types[s.SignalType] = struct{}{}
	}
	n := float64(len(matched))
	mean := float64(sum) / n

	corroboration := 1 + math.Min(0.25, 0.05*(n-2)) + math.Min(0.10, 0.05*float64(len(types)-1))
	if corroboration < 1 {
		corroboration = 1
	}
	penalty := 1 - 0.3*(float64(weak)/n)

	score := math.Round(mean * corroboration * penalty)
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return int(score)
	}
}
