package metric

import "strings"

// MatchMethod records which matcher pass resolved a placeholder
type MatchMethod string

const (
	MethodExact     MatchMethod = "exact"
	MethodFuzzy     MatchMethod = "fuzzy"
	MethodSemantic  MatchMethod = "semantic"
	MethodUnmatched MatchMethod = "unmatched"
)

// Match is the resolution of one placeholder
type Match struct {
	Placeholder string      `json:"placeholder"`
	Column      string      `json:"column,omitempty"`
	Method      MatchMethod `json:"method"`
	Confidence  float64     `json:"confidence"`
}

// Resolved reports whether the placeholder found a column
func (m Match) Resolved() bool {
	return m.Method != MethodUnmatched && m.Column != ""
}

// ColumnMapping maps placeholders to dataset columns. It is built once per
// dataset and read-only afterwards.
type ColumnMapping struct {
	Matches []Match `json:"matches"`

	byPlaceholder map[string]int
}

// NewColumnMapping indexes matches by placeholder
func NewColumnMapping(matches []Match) *ColumnMapping {
	m := &ColumnMapping{Matches: matches, byPlaceholder: make(map[string]int, len(matches))}
	for i, match := range matches {
		m.byPlaceholder[match.Placeholder] = i
	}
	return m
}

// Lookup finds the match for a placeholder, exactly first, then ignoring case.
func (m *ColumnMapping) Lookup(placeholder string) (Match, bool) {
	if m == nil {
		return Match{}, false
	}
	if i, ok := m.byPlaceholder[placeholder]; ok {
		return m.Matches[i], true
	}
	for _, match := range m.Matches {
		if strings.EqualFold(match.Placeholder, placeholder) {
			return match, true
		}
	}
	return Match{}, false
}

// Column returns the resolved column for a placeholder
func (m *ColumnMapping) Column(placeholder string) (string, bool) {
	match, ok := m.Lookup(placeholder)
	if !ok || !match.Resolved() {
		return "", false
	}
	return match.Column, true
}

// Unmatched returns placeholders that resolved to nothing
func (m *ColumnMapping) Unmatched() []string {
	var out []string
	for _, match := range m.Matches {
		if !match.Resolved() {
			out = append(out, match.Placeholder)
		}
	}
	return out
}
