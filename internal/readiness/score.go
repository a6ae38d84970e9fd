package readiness

import (
	"math"

	"github.com/playbookhq/readiness-engine/internal/models"
)

// Component weights of the overall score.
const (
	weightForesight    = 0.20
	weightVelocity     = 0.25
	weightAgility      = 0.25
	weightLearning     = 0.15
	weightAdaptability = 0.15
)

// Neutral values used when an organization has no data for a dimension yet.
const (
	neutralVelocity = 60
	neutralLearning = 60
)

// Inputs are the raw counts a readiness computation is derived from.
type Inputs struct {
	ActiveSignals    int
	ActiveScenarios  int
	PlaybooksTotal   int
	PlaybooksReady   int
	Executions       models.ExecutionStats
	LearningsTotal   int
	LearningsApplied int
}

// Scores holds the component and overall scores, each in [0,100].
type Scores struct {
	Overall      int
	Foresight    int
	Velocity     int
	Agility      int
	Learning     int
	Adaptability int
}

// Compute derives every score from in. coverageTarget is the playbook count treated as full coverage.
func Compute(in Inputs, coverageTarget int) Scores {
	s := Scores{
		Foresight:    ForesightScore(in.ActiveSignals, in.PlaybooksTotal, coverageTarget),
		Velocity:     VelocityScore(in.Executions),
		Agility:      AgilityScore(in.PlaybooksReady, in.PlaybooksTotal),
		Learning:     LearningScore(in.LearningsTotal, in.LearningsApplied),
		Adaptability: AdaptabilityScore(in.Executions.Completed),
	}
	s.Overall = clamp(math.Round(
		weightForesight*float64(s.Foresight) +
			weightVelocity*float64(s.Velocity) +
			weightAgility*float64(s.Agility) +
			weightLearning*float64(s.Learning) +
			weightAdaptability*float64(s.Adaptability),
	))
	return s
}

// ForesightScore blends signal awareness with scenario coverage.
func ForesightScore(activeSignals, playbooksTotal, coverageTarget int) int {
	if coverageTarget <= 0 {
		coverageTarget = 20
	}
	awareness := math.Min(100, 10*float64(activeSignals))
	coverage := math.Min(100, 100*float64(playbooksTotal)/float64(coverageTarget))
	return clamp(math.Round(0.6*awareness + 0.4*coverage))
}

// VelocityScore rewards short average execution times.
func VelocityScore(stats models.ExecutionStats) int {
	if stats.Timed == 0 {
		return neutralVelocity
	}
	m := stats.AverageMinutes
	switch {
	case m <= 12:
		return 100
	case m <= 20:
		return 90
	case m <= 30:
		return 80
	case m <= 45:
		return 70
	case m <= 60:
		return 60
	default:
		return clamp(math.Max(40, math.Round(100-m)))
	}
}

// AgilityScore is the share of playbooks in the ready state.
func AgilityScore(ready, total int) int {
	if total <= 0 {
		return 0
	}
	return clamp(math.Round(100 * float64(ready) / float64(total)))
}

// LearningScore rewards applying extracted learnings.
func LearningScore(total, applied int) int {
	if total <= 0 {
		return neutralLearning
	}
	if applied > total {
		applied = total
	}
	return clamp(70 + math.Round(30*float64(applied)/float64(total)))
}

// AdaptabilityScore rewards regular practice through executions.
func AdaptabilityScore(executions int) int {
	switch {
	case executions >= 10:
		return 100
	case executions >= 5:
		return 85
	case executions >= 3:
		return 75
	case executions >= 1:
		return 65
	default:
		return 50
	}
}

// TrendFor compares overall against the previous measurement. A change within one point is stable.
func TrendFor(prev *models.ReadinessMetric, overall int) models.Trend {
	if prev == nil {
		return models.TrendStable
	}
	switch delta := overall - prev.OverallScore; {
	case delta > 1:
		return models.TrendUp
	case delta < -1:
		return models.TrendDown
	default:
		return models.TrendStable
	}
}

// HealthFor maps an overall score onto the dashboard health levels.
func HealthFor(score int) string {
	switch {
	case score < 60:
		return models.HealthCritical
	case score < 75:
		return models.HealthDegraded
	default:
		return models.HealthOperational
	}
}

func clamp(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}
