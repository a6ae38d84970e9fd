package learning

import (
	"encoding/json"
	"regexp"
	"strings"
)

const maxLearnings = 3

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)

// ParseLearnings extracts learning statements from a generator reply. It accepts a JSON array of
// strings, a JSON array of objects with a "learning" field, or a bulleted or numbered list.
// At most three distinct statements are returned.
func ParseLearnings(raw string) []string {
	raw = stripFences(strings.TrimSpace(raw))
	if raw == "" {
		return nil
	}
	if items, ok := parseJSON(raw); ok {
		return limit(items)
	}
	return limit(parseList(raw))
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseJSON(raw string) ([]string, bool) {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end <= start {
		return nil, false
	}
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw[start:end+1]), &elems); err != nil {
		return nil, false
	}

	out := make([]string, 0, len(elems))
	for _, elem := range elems {
		var text string
		if err := json.Unmarshal(elem, &text); err == nil {
			out = append(out, text)
			continue
		}
		var obj struct {
			Learning  string `json:"learning"`
			Text      string `json:"text"`
			Statement string `json:"statement"`
		}
		if err := json.Unmarshal(elem, &obj); err == nil {
			out = append(out, firstNonEmpty(obj.Learning, obj.Text, obj.Statement))
		}
	}
	return out, true
}

func parseList(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if !listMarker.MatchString(line) {
			continue
		}
		out = append(out, listMarker.ReplaceAllString(line, ""))
	}
	return out
}

func limit(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, maxLearnings)
	for _, item := range items {
		item = strings.Trim(strings.TrimSpace(item), `"`)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
		if len(out) == maxLearnings {
			break
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
