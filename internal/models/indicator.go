package models

import "time"

// Indicator is one observation series from an external intelligence feed.
type Indicator struct {
	Source      string           `json:"source"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Horizon     string           `json:"horizon,omitempty"`
	Points      []IndicatorPoint `json:"points"`
}

// IndicatorPoint is a single timestamped observation.
type IndicatorPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Latest returns the most recent point, or false when the series is empty.
func (i Indicator) Latest() (IndicatorPoint, bool) {
	if len(i.Points) == 0 {
		return IndicatorPoint{}, false
	}
	latest := i.Points[0]
	for _, p := range i.Points[1:] {
		if p.Timestamp.After(latest.Timestamp) {
			latest = p
		}
	}
	return latest, true
}
