package app

import (
	"time"

	"gokpi/domain/core"
	"gokpi/domain/metric"
	"gokpi/domain/period"
)

// ResultBundle is the complete output of a run. Every requested metric has a
// result in every period; failed entries carry an error kind so they are
// never mistaken for computed zeros.
type ResultBundle struct {
	RunID              core.RunID            `json:"run_id"`
	Dataset            string                `json:"dataset"`
	RowCount           int                   `json:"row_count"`
	CatalogFingerprint core.Hash             `json:"catalog_fingerprint"`
	Mapping            []metric.Match        `json:"mapping"`
	Unmatched          []string              `json:"unmatched,omitempty"`
	Order              []string              `json:"evaluation_order"`
	Cyclic             []string              `json:"cyclic,omitempty"`
	Missing            map[string][]string   `json:"missing_dependencies,omitempty"`
	DateColumn         string                `json:"date_column,omitempty"`
	Granularity        period.Granularity    `json:"granularity"`
	UndatedRows        int                   `json:"undated_rows,omitempty"`
	Periods            []period.Bucket       `json:"periods"`
	Results            []metric.Result       `json:"results"`
	CustomResults      []metric.CustomResult `json:"custom_results,omitempty"`
	Trends             []metric.TrendSummary `json:"trends,omitempty"`
	Partial            bool                  `json:"partial"`
	Timings            map[string]int64      `json:"timings_ms"`
	GeneratedAt        time.Time             `json:"generated_at"`
}

func newResultBundle(ec *EvaluationContext) *ResultBundle {
	b := &ResultBundle{
		RunID:              ec.RunID,
		Dataset:            ec.Dataset.Name,
		RowCount:           ec.Dataset.RowCount(),
		CatalogFingerprint: ec.Catalog.Fingerprint(),
		Mapping:            ec.Mapping.Matches,
		Unmatched:          ec.Mapping.Unmatched(),
		Order:              ec.Plan.Order,
		Cyclic:             ec.Plan.Cyclic,
		Missing:            ec.Plan.Missing,
		DateColumn:         ec.Timeline.DateColumn,
		Granularity:        ec.Timeline.Granularity,
		UndatedRows:        ec.Timeline.UndatedRows,
		Periods:            make([]period.Bucket, 0, len(ec.Periods)),
		GeneratedAt:        time.Now().UTC(),
	}
	for _, pr := range ec.Periods {
		b.Periods = append(b.Periods, pr.Period)
		b.Results = append(b.Results, pr.Results...)
	}
	return b
}

// Result returns one metric's result for one period
func (b *ResultBundle) Result(name, periodKey string) (metric.Result, bool) {
	for _, r := range b.Results {
		if r.Name == name && r.Period == periodKey {
			return r, true
		}
	}
	return metric.Result{}, false
}

// FailedCount returns the number of failed per-period results
func (b *ResultBundle) FailedCount() int {
	n := 0
	for _, r := range b.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// Summary maps period -> metric -> value. Scalars are float64, breakdowns
// map[string]float64, failures nil.
func (b *ResultBundle) Summary() map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(b.Periods))
	for _, r := range b.Results {
		row, ok := out[r.Period]
		if !ok {
			row = make(map[string]interface{})
			out[r.Period] = row
		}
		switch {
		case !r.Success:
			row[r.Name] = nil
		case r.Breakdown != nil:
			row[r.Name] = r.Breakdown
		case r.Value != nil:
			row[r.Name] = *r.Value
		}
	}
	return out
}
