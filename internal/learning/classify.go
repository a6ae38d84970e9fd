package learning

import (
	"strings"
	"unicode"

	"github.com/playbookhq/readiness-engine/internal/models"
)

// keywordStems are matched as word prefixes. Categories are listed in tie-break order.
var keywordStems = []struct {
	category models.LearningCategory
	stems    []string
}{
	{models.CategoryEscalation, []string{"escalat", "executive", "leadership", "approv", "sign-off", "signoff", "authori", "command", "c-suite", "board"}},
	{models.CategoryCommunication, []string{"communicat", "stakeholder", "messag", "notif", "inform", "brief", "announc", "channel", "coordinat", "update", "email", "handoff"}},
	{models.CategoryTiming, []string{"time", "timing", "delay", "late", "early", "earlier", "schedul", "deadline", "faster", "slow", "hour", "minute", "sooner", "quick", "prompt"}},
	{models.CategoryResourceAllocation, []string{"resourc", "staff", "budget", "capacity", "allocat", "headcount", "personnel", "tool", "equipment", "funding", "vendor", "backup"}},
}

// Classify assigns a learning to the category whose keywords it mentions most often. Ties go to
// the category listed first; no match yields CategoryOther.
func Classify(statement string) models.LearningCategory {
	words := strings.FieldsFunc(strings.ToLower(statement), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})

	best := models.CategoryOther
	bestCount := 0
	for _, group := range keywordStems {
		count := 0
		for _, w := range words {
			for _, stem := range group.stems {
				if strings.HasPrefix(w, stem) {
					count++
					break
				}
			}
		}
		if count > bestCount {
			best, bestCount = group.category, count
		}
	}
	return best
}
