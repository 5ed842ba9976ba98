// Package temporal partitions a dataset into calendar periods and drives the
// expression engine once per period.
package temporal

import (
	"fmt"
	"sort"
	"time"

	"gokpi/domain/dataset"
	"gokpi/domain/period"
	"gokpi/internal"
)

// minDateRatio is the share of non-blank cells that must parse for a column
// to be used as the period axis.
const minDateRatio = 0.5

// GranularityPolicy holds the thresholds used to pick a bucket size from the
// spread of the dates.
type GranularityPolicy struct {
	DailyMaxSpanDays  int     `json:"daily_max_span_days" envconfig:"DAILY_MAX_SPAN_DAYS" default:"56" validate:"gte=0"`
	DailyMinDensity   float64 `json:"daily_min_density" envconfig:"DAILY_MIN_DENSITY" default:"0.5" validate:"gte=0,lte=1"`
	WeeklyMaxSpanDays int     `json:"weekly_max_span_days" envconfig:"WEEKLY_MAX_SPAN_DAYS" default:"182" validate:"gte=0"`
	WeeklyMinDensity  float64 `json:"weekly_min_density" envconfig:"WEEKLY_MIN_DENSITY" default:"0.5" validate:"gte=0,lte=1"`
}

// DefaultGranularityPolicy returns the stock thresholds
func DefaultGranularityPolicy() GranularityPolicy {
	return GranularityPolicy{
		DailyMaxSpanDays:  56,
		DailyMinDensity:   0.5,
		WeeklyMaxSpanDays: 182,
		WeeklyMinDensity:  0.5,
	}
}

// Options controls how a timeline is built. Zero values mean "detect".
type Options struct {
	DateColumn  string
	Granularity period.Granularity
	Policy      GranularityPolicy
}

// Timeline is the ordered, gap-preserving list of buckets for one dataset
type Timeline struct {
	DateColumn  string             `json:"date_column,omitempty"`
	Granularity period.Granularity `json:"granularity"`
	Buckets     []period.Bucket    `json:"periods"`
	// UndatedRows counts rows excluded because their date did not parse.
	UndatedRows int `json:"undated_rows"`
}

// Keys returns the bucket keys in chronological order
func (t *Timeline) Keys() []string {
	keys := make([]string, len(t.Buckets))
	for i, b := range t.Buckets {
		keys[i] = b.Key
	}
	return keys
}

// DetectDateColumn returns the column to bucket by: the first datetime column
// whose values mostly parse, else the first date-named column whose values
// mostly parse.
func DetectDateColumn(ds *dataset.Dataset) (string, bool) {
	for _, col := range ds.Columns() {
		if col.Kind == dataset.KindDatetime && dataset.ParseableRatio(col.Cells) > minDateRatio {
			return col.Name, true
		}
	}
	for _, col := range ds.Columns() {
		if dataset.HasDateName(col.Name) && dataset.ParseableRatio(col.Cells) > minDateRatio {
			return col.Name, true
		}
	}
	return "", false
}

// InferGranularity chooses day, week or month from the span and density of
// the given dates. The dates need not be sorted.
func InferGranularity(dates []time.Time, policy GranularityPolicy) period.Granularity {
	if len(dates) == 0 {
		return period.None
	}
	first, last := dates[0], dates[0]
	days := make(map[string]bool)
	weeks := make(map[string]bool)
	for _, d := range dates {
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
		days[period.Day.Key(period.Day.Truncate(d))] = true
		weeks[period.Week.Key(period.Week.Truncate(d))] = true
	}

	spanDays := int(period.Day.Truncate(last).Sub(period.Day.Truncate(first)).Hours() / 24)
	dailyDensity := float64(len(days)) / float64(spanDays+1)
	if spanDays <= policy.DailyMaxSpanDays && dailyDensity >= policy.DailyMinDensity {
		return period.Day
	}

	weekSpan := int(period.Week.Truncate(last).Sub(period.Week.Truncate(first)).Hours()/(24*7)) + 1
	weeklyDensity := float64(len(weeks)) / float64(weekSpan)
	if spanDays <= policy.WeeklyMaxSpanDays && weeklyDensity >= policy.WeeklyMinDensity {
		return period.Week
	}
	return period.Month
}

// Build detects the date column and granularity (unless overridden) and
// partitions the dataset rows into contiguous buckets.
func Build(ds *dataset.Dataset, opts Options) (*Timeline, error) {
	logger := internal.DefaultLogger.With("TemporalAggregator")

	dateCol := opts.DateColumn
	if dateCol != "" {
		col, ok := ds.Lookup(dateCol)
		if !ok {
			return nil, fmt.Errorf("date column %q not found in dataset", dateCol)
		}
		dateCol = col.Name
	} else if detected, ok := DetectDateColumn(ds); ok {
		dateCol = detected
	}

	if dateCol == "" || opts.Granularity == period.None {
		logger.Info("no date column, evaluating %d rows as a single period", ds.RowCount())
		return singleBucket(ds), nil
	}

	col, _ := ds.Column(dateCol)
	dates := make([]time.Time, len(col.Cells))
	dated := make([]bool, len(col.Cells))
	var parsed []time.Time
	undated := 0
	for i, cell := range col.Cells {
		t, ok := dataset.ParseDate(cell)
		if !ok {
			undated++
			continue
		}
		dates[i], dated[i] = t, true
		parsed = append(parsed, t)
	}
	if len(parsed) == 0 {
		logger.Warn("date column %q has no parseable values, evaluating as a single period", dateCol)
		return singleBucket(ds), nil
	}

	g := opts.Granularity
	if g == "" {
		policy := opts.Policy
		if policy == (GranularityPolicy{}) {
			policy = DefaultGranularityPolicy()
		}
		g = InferGranularity(parsed, policy)
		logger.Debug("inferred %s granularity from %d dates in %q", g, len(parsed), dateCol)
	}

	grid := buildGrid(parsed, g)
	buckets := assignRows(grid, dates, dated, g)
	if undated > 0 {
		logger.Warn("%d rows have no parseable date in %q and were excluded", undated, dateCol)
	}

	return &Timeline{
		DateColumn:  dateCol,
		Granularity: g,
		Buckets:     buckets,
		UndatedRows: undated,
	}, nil
}

func singleBucket(ds *dataset.Dataset) *Timeline {
	rows := ds.All().Rows()
	return &Timeline{
		Granularity: period.None,
		Buckets: []period.Bucket{{
			Key:         period.AllKey,
			Granularity: period.None,
			Rows:        rows,
			RowCount:    len(rows),
		}},
	}
}

// buildGrid returns every bucket start from the first to the last date, so
// periods without rows still appear.
func buildGrid(dates []time.Time, g period.Granularity) []time.Time {
	first, last := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}
	end := g.Truncate(last)
	var grid []time.Time
	for t := g.Truncate(first); !t.After(end); t = g.Next(t) {
		grid = append(grid, t)
	}
	return grid
}

// assignRows places each dated row in the bucket its date truncates to
func assignRows(grid []time.Time, dates []time.Time, dated []bool, g period.Granularity) []period.Bucket {
	buckets := make([]period.Bucket, len(grid))
	index := make(map[int64]int, len(grid))
	for i, start := range grid {
		buckets[i] = period.Bucket{
			Key:         g.Key(start),
			Granularity: g,
			Start:       start,
			End:         g.Next(start),
		}
		index[start.Unix()] = i
	}
	for row, ok := range dated {
		if !ok {
			continue
		}
		i, found := index[g.Truncate(dates[row]).Unix()]
		if !found {
			continue
		}
		buckets[i].Rows = append(buckets[i].Rows, row)
	}
	for i := range buckets {
		sort.Ints(buckets[i].Rows)
		buckets[i].RowCount = len(buckets[i].Rows)
	}
	return buckets
}
