package signals

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/playbookhq/readiness-engine/internal/models"
)

// Candidate is a trigger's proposal for a new weak signal. Confidence is raw and may fall
// outside [0,100]; the detector clamps it.
type Candidate struct {
	Source      string
	Description string
	Timeline    string
	Impact      models.Impact
	Confidence  float64
}

// Trigger decides which indicators of a category deviate enough to become weak signals.
type Trigger interface {
	Evaluate(category models.SignalType, indicators []models.Indicator) ([]Candidate, error)
}

// TriggerFunc adapts a function to the Trigger interface.
type TriggerFunc func(category models.SignalType, indicators []models.Indicator) ([]Candidate, error)

// Evaluate implements Trigger.
func (f TriggerFunc) Evaluate(category models.SignalType, indicators []models.Indicator) ([]Candidate, error) {
	return f(category, indicators)
}

// Triggers runs several triggers and merges their candidates. A failing trigger does not
// prevent the others from contributing; its error is joined into the result.
type Triggers []Trigger

// Evaluate implements Trigger.
func (ts Triggers) Evaluate(category models.SignalType, indicators []models.Indicator) ([]Candidate, error) {
	var (
		out  []Candidate
		errs []error
	)
	for i, t := range ts {
		candidates, err := t.Evaluate(category, indicators)
		if err != nil {
			errs = append(errs, fmt.Errorf("trigger %d: %w", i, err))
		}
		out = append(out, candidates...)
	}
	return out, errors.Join(errs...)
}

const minSeriesLength = 4

// ZScoreTrigger fires when the latest value of a series sits Threshold standard deviations
// above the mean of the preceding points.
type ZScoreTrigger struct {
	Threshold float64
}

// Evaluate implements Trigger.
func (z ZScoreTrigger) Evaluate(category models.SignalType, indicators []models.Indicator) ([]Candidate, error) {
	threshold := z.Threshold
	if threshold <= 0 {
		threshold = 2.0
	}

	var out []Candidate
	for _, ind := range indicators {
		latest, baseline, ok := splitSeries(ind)
		if !ok {
			continue
		}

		mean := 0.0
		for _, v := range baseline {
			mean += v
		}
		mean /= float64(len(baseline))

		variance := 0.0
		for _, v := range baseline {
			variance += math.Pow(v-mean, 2)
		}
		variance /= float64(len(baseline))
		stdDev := math.Sqrt(variance)
		if stdDev == 0 {
			stdDev = 0.01
		}

		score := (latest - mean) / stdDev
		if score < threshold {
			continue
		}
		out = append(out, Candidate{
			Source:      ind.Source,
			Description: describe(category, ind, fmt.Sprintf("rose to %.2f against a baseline of %.2f", latest, mean)),
			Timeline:    timeline(category, ind),
			Impact:      impactFor(score, threshold),
			Confidence:  50 + 10*(score-threshold),
		})
	}
	return out, nil
}

// SpikeTrigger fires when the latest value deviates from the series median by Threshold
// mean absolute deviations. It tolerates noisy, heavy-tailed volume series better than z-scores.
type SpikeTrigger struct {
	Threshold float64
}

// Evaluate implements Trigger.
func (s SpikeTrigger) Evaluate(category models.SignalType, indicators []models.Indicator) ([]Candidate, error) {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = 3.0
	}

	var out []Candidate
	for _, ind := range indicators {
		latest, baseline, ok := splitSeries(ind)
		if !ok {
			continue
		}
		median := percentile(baseline, 0.5)
		mad := meanAbsoluteDeviation(baseline, median)
		if mad == 0 {
			mad = 1
		}
		score := math.Abs(latest-median) / mad
		if score < threshold {
			continue
		}
		direction := "spiked"
		if latest < median {
			direction = "collapsed"
		}
		out = append(out, Candidate{
			Source:      ind.Source,
			Description: describe(category, ind, fmt.Sprintf("%s to %.2f from a median of %.2f", direction, latest, median)),
			Timeline:    timeline(category, ind),
			Impact:      impactFor(score, threshold),
			Confidence:  45 + 8*(score-threshold),
		})
	}
	return out, nil
}

// splitSeries orders points by time and separates the latest value from its baseline.
func splitSeries(ind models.Indicator) (float64, []float64, bool) {
	if ind.Source == "" || len(ind.Points) < minSeriesLength {
		return 0, nil, false
	}
	points := append([]models.IndicatorPoint(nil), ind.Points...)
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })

	baseline := make([]float64, 0, len(points)-1)
	for _, p := range points[:len(points)-1] {
		baseline = append(baseline, p.Value)
	}
	return points[len(points)-1].Value, baseline, true
}

func impactFor(score, threshold float64) models.Impact {
	switch {
	case score >= 3*threshold:
		return models.ImpactCritical
	case score >= 2*threshold:
		return models.ImpactHigh
	case score >= 1.5*threshold:
		return models.ImpactMedium
	default:
		return models.ImpactLow
	}
}

var defaultTimelines = map[models.SignalType]string{
	models.SignalTypeRegulatory:  "6-18 months",
	models.SignalTypeCompetitor:  "3-6 months",
	models.SignalTypeTechnology:  "12-24 months",
	models.SignalTypeMarket:      "3-9 months",
	models.SignalTypeSupplyChain: "1-3 months",
}

func timeline(category models.SignalType, ind models.Indicator) string {
	if ind.Horizon != "" {
		return ind.Horizon
	}
	if t, ok := defaultTimelines[category]; ok {
		return t
	}
	return "unknown"
}

func describe(category models.SignalType, ind models.Indicator, movement string) string {
	name := ind.Name
	if name == "" {
		name = ind.Source
	}
	desc := fmt.Sprintf("%s indicator %q %s", category, name, movement)
	if ind.Description != "" {
		desc += ": " + ind.Description
	}
	return desc
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func meanAbsoluteDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}
