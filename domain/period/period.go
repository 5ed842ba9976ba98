package period

import (
	"fmt"
	"time"
)

// Granularity is the calendar unit used to bucket rows
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
	// None means the dataset had no usable date column and is evaluated as a
	// single bucket.
	None Granularity = "none"
)

// ParseGranularity accepts the canonical names plus the daily/weekly/monthly
// adjectives. An empty string yields "" so callers can tell "not set" apart.
func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "":
		return "", nil
	case "day", "daily", "D":
		return Day, nil
	case "week", "weekly", "W":
		return Week, nil
	case "month", "monthly", "M":
		return Month, nil
	case "none", "all":
		return None, nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// Truncate rounds t down to the start of its calendar bucket. Weeks start on
// Monday.
func (g Granularity) Truncate(t time.Time) time.Time {
	switch g {
	case Week:
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		monday := t.AddDate(0, 0, -(weekday - 1))
		return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, t.Location())
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

// Next returns the start of the bucket following the one starting at start
func (g Granularity) Next(start time.Time) time.Time {
	switch g {
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Key formats the bucket key: 2024-01-31, 2024-W05 or 2024-01.
func (g Granularity) Key(start time.Time) string {
	switch g {
	case Week:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case Month:
		return start.Format("2006-01")
	case None:
		return AllKey
	default:
		return start.Format("2006-01-02")
	}
}

// AllKey is the key of the single bucket used when there is no date column
const AllKey = "all"

// Bucket is one calendar period and the dataset rows that fall in it.
// An empty Rows slice is a gap bucket, never dropped.
type Bucket struct {
	Key         string      `json:"key"`
	Granularity Granularity `json:"granularity"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"` // exclusive
	Rows        []int       `json:"-"`
	RowCount    int         `json:"row_count"`
}

// Empty reports whether the bucket holds no rows
func (b Bucket) Empty() bool {
	return len(b.Rows) == 0
}
