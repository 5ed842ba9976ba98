package dataset

import (
	"strings"
	"time"
)

// dateLayouts are tried in order. Month-first slashed dates win over
// day-first ones; the day-first layout only matches when the first field
// cannot be a month.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02/01/2006",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"02-01-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"2006-01",
}

// ParseDate parses a cell using the supported layouts. All results are UTC.
func ParseDate(cell string) (time.Time, bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseableRatio returns the share of non-blank cells that parse as dates.
// Blank cells do not count against the column.
func ParseableRatio(cells []string) float64 {
	total, parsed := 0, 0
	for _, c := range cells {
		if strings.TrimSpace(c) == "" {
			continue
		}
		total++
		if _, ok := ParseDate(c); ok {
			parsed++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(parsed) / float64(total)
}

var dateNameHints = []string{"date", "time", "timestamp", "day", "period", "month", "week"}

// HasDateName reports whether a column name suggests it holds dates
func HasDateName(name string) bool {
	for _, tok := range Tokens(name) {
		for _, hint := range dateNameHints {
			if strings.Contains(tok, hint) {
				return true
			}
		}
	}
	return false
}
