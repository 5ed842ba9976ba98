package app

import (
	"time"

	"gokpi/domain/core"
	"gokpi/domain/dataset"
	"gokpi/domain/metric"
	"gokpi/internal/dependency"
	"gokpi/internal/temporal"
)

// EvaluationContext carries the state of one run. It is created per request
// and never shared between runs.
type EvaluationContext struct {
	RunID     core.RunID
	Dataset   *dataset.Dataset
	Catalog   *metric.Catalog
	Mapping   *metric.ColumnMapping
	Plan      *dependency.Plan
	Timeline  *temporal.Timeline
	Periods   []temporal.PeriodResults
	StartedAt time.Time

	timings map[string]int64
}

func newEvaluationContext(ds *dataset.Dataset, cat *metric.Catalog) *EvaluationContext {
	return &EvaluationContext{
		RunID:     core.NewRunID(),
		Dataset:   ds,
		Catalog:   cat,
		StartedAt: time.Now(),
		timings:   make(map[string]int64),
	}
}

// stage runs fn and records its duration in milliseconds under name
func (ec *EvaluationContext) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	ec.timings[name] = time.Since(start).Milliseconds()
	return err
}

// Timings returns the per-stage durations in milliseconds
func (ec *EvaluationContext) Timings() map[string]int64 {
	out := make(map[string]int64, len(ec.timings))
	for k, v := range ec.timings {
		out[k] = v
	}
	return out
}
