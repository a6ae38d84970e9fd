package patterns

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/playbookhq/readiness-engine/internal/models"
)

// Archetype describes a family of corroborating weak signals worth surfacing as one pattern.
type Archetype struct {
	ID               string              `yaml:"id"`
	Description      string              `yaml:"description"`
	SignalTypes      []models.SignalType `yaml:"signal_types"`
	MinSignals       int                 `yaml:"min_signals"`
	MinDistinctTypes int                 `yaml:"min_distinct_types"`
	MinConfidence    int                 `yaml:"min_confidence"`
	Impact           models.Impact       `yaml:"impact"`
	Timeline         string              `yaml:"timeline"`
	Recommendations  []string            `yaml:"recommendations"`
	MaxEvidence      int                 `yaml:"max_evidence"`
}

// ArchetypeFile is the YAML root structure of an archetype pack.
type ArchetypeFile struct {
	Archetypes []Archetype `yaml:"archetypes"`
}

// LoadArchetypes reads an archetype pack. An empty path or a missing file yields the built-in pack.
func LoadArchetypes(path string, logger *slog.Logger) ([]Archetype, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return DefaultArchetypes(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("archetype pack not found, using built-ins", slog.String("path", path))
			return DefaultArchetypes(), nil
		}
		return nil, fmt.Errorf("read archetype pack: %w", err)
	}
	var file ArchetypeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse archetype pack: %w", err)
	}
	if len(file.Archetypes) == 0 {
		return DefaultArchetypes(), nil
	}
	return normalise(file.Archetypes)
}

func normalise(in []Archetype) ([]Archetype, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]Archetype, 0, len(in))
	for _, a := range in {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return nil, fmt.Errorf("archetype without id")
		}
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("duplicate archetype %q", a.ID)
		}
		seen[a.ID] = struct{}{}
		if len(a.SignalTypes) == 0 {
			return nil, fmt.Errorf("archetype %q has no signal types", a.ID)
		}
		for _, t := range a.SignalTypes {
			if !t.Valid() {
				return nil, fmt.Errorf("archetype %q: unknown signal type %q", a.ID, t)
			}
		}
		// A pattern always needs at least two corroborating signals.
		if a.MinSignals < 2 {
			a.MinSignals = 2
		}
		if a.MinDistinctTypes < 1 {
			a.MinDistinctTypes = 1
		}
		if a.MaxEvidence <= 0 {
			a.MaxEvidence = defaultMaxEvidence
		}
		if a.Impact == "" {
			a.Impact = models.ImpactMedium
		}
		a.Recommendations = appendUnique(nil, a.Recommendations...)
		out = append(out, a)
	}
	return out, nil
}

const defaultMaxEvidence = 5

// DefaultArchetypes returns the built-in archetype pack.
func DefaultArchetypes() []Archetype {
	pack, _ := normalise([]Archetype{
		{
			ID:          "regulatory_shift",
			Description: "Multiple regulatory indicators point to an upcoming change in the compliance landscape.",
			SignalTypes: []models.SignalType{models.SignalTypeRegulatory},
			MinSignals:  2,
			Impact:      models.ImpactHigh,
			Timeline:    "6-18 months",
			Recommendations: []string{
				"Review compliance playbooks against the emerging requirements",
				"Assign an owner to track rulemaking milestones",
				"Schedule a tabletop exercise for the regulatory response scenario",
			},
		},
		{
			ID:               "market_disruption",
			Description:      "Market, competitor and technology indicators are moving together, suggesting a structural shift.",
			SignalTypes:      []models.SignalType{models.SignalTypeMarket, models.SignalTypeCompetitor, models.SignalTypeTechnology},
			MinSignals:       3,
			MinDistinctTypes: 2,
			Impact:           models.ImpactCritical,
			Timeline:         "3-12 months",
			Recommendations: []string{
				"Convene a strategy review of affected product lines",
				"Stress-test revenue assumptions in the market disruption playbook",
				"Identify partnership or acquisition options to close capability gaps",
			},
		},
		{
			ID:          "supply_chain_risk",
			Description: "Several supply chain indicators show stress that could interrupt fulfilment.",
			SignalTypes: []models.SignalType{models.SignalTypeSupplyChain},
			MinSignals:  2,
			Impact:      models.ImpactHigh,
			Timeline:    "1-6 months",
			Recommendations: []string{
				"Validate secondary suppliers for critical components",
				"Increase safety stock for single-sourced inputs",
				"Rehearse the supplier failure playbook",
			},
		},
		{
			ID:          "technology_inflection",
			Description: "Technology indicators suggest an emerging capability is crossing into mainstream adoption.",
			SignalTypes: []models.SignalType{models.SignalTypeTechnology},
			MinSignals:  3,
			Impact:      models.ImpactMedium,
			Timeline:    "12-36 months",
			Recommendations: []string{
				"Commission a technology scouting brief",
				"Assess skills gaps for the emerging capability",
			},
		},
		{
			ID:          "competitive_pressure",
			Description: "Competitor activity is intensifying across several fronts.",
			SignalTypes: []models.SignalType{models.SignalTypeCompetitor},
			MinSignals:  3,
			Impact:      models.ImpactHigh,
			Timeline:    "3-9 months",
			Recommendations: []string{
				"Refresh competitive battlecards",
				"Review pricing and retention playbooks",
			},
		},
	})
	return pack
}

func (a Archetype) matches(t models.SignalType) bool {
	for _, candidate := range a.SignalTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
