package temporal

import (
	"context"
	"strings"

	"gokpi/domain/core"
	"gokpi/domain/dataset"
	"gokpi/domain/metric"
	"gokpi/domain/period"
	"gokpi/internal"
	"gokpi/internal/dependency"
	"gokpi/internal/expression"
)

// PeriodResults holds every metric's result for one bucket, in catalog
// declaration order.
type PeriodResults struct {
	Period   period.Bucket   `json:"period"`
	Results  []metric.Result `json:"results"`
	byMetric map[string]int
}

// Get returns the result of one metric in this period
func (p *PeriodResults) Get(name string) (metric.Result, bool) {
	i, ok := p.byMetric[name]
	if !ok {
		return metric.Result{}, false
	}
	return p.Results[i], true
}

// Aggregator runs an evaluation plan over every bucket of a timeline
type Aggregator struct {
	plan     *dependency.Plan
	prepared map[string]*expression.Prepared
	declared []string
	logger   *internal.Logger
}

// NewAggregator prepares every catalog metric against the column mapping once;
// the prepared formulas are reused across periods.
func NewAggregator(cat *metric.Catalog, mapping *metric.ColumnMapping, plan *dependency.Plan) *Aggregator {
	prepared := make(map[string]*expression.Prepared, cat.Len())
	for _, def := range cat.Definitions() {
		prepared[def.Name] = expression.Prepare(def, mapping)
	}
	return &Aggregator{
		plan:     plan,
		prepared: prepared,
		declared: cat.Names(),
		logger:   internal.DefaultLogger.With("TemporalAggregator"),
	}
}

// Run evaluates every metric in every bucket. Metrics of one period are
// evaluated strictly in plan order. Cancellation is checked between periods;
// on cancellation the periods finished so far are returned with ctx.Err().
func (a *Aggregator) Run(ctx context.Context, ds *dataset.Dataset, tl *Timeline) ([]PeriodResults, error) {
	out := make([]PeriodResults, 0, len(tl.Buckets))
	for _, bucket := range tl.Buckets {
		if err := ctx.Err(); err != nil {
			a.logger.Warn("evaluation cancelled after %d of %d periods", len(out), len(tl.Buckets))
			return out, err
		}
		out = append(out, a.RunPeriod(ds, bucket))
	}
	return out, nil
}

// RunPeriod evaluates every metric for a single bucket
func (a *Aggregator) RunPeriod(ds *dataset.Dataset, bucket period.Bucket) PeriodResults {
	computed := make(map[string]metric.Result, len(a.declared))

	cycleErr := core.NewEvalError(core.KindCyclicDependency,
		"metric is part of a dependency cycle among %s", strings.Join(a.plan.Cyclic, ", "))
	for _, name := range a.plan.Cyclic {
		computed[name] = metric.Failed(name, bucket.Key, cycleErr)
	}

	if bucket.Empty() {
		noData := core.NewEvalError(core.KindNoData, "period %s has no rows", bucket.Key)
		for _, name := range a.plan.Order {
			computed[name] = metric.Failed(name, bucket.Key, noData)
		}
	} else {
		view := ds.Subset(bucket.Rows)
		lookup := func(name string) (metric.Result, bool) {
			r, ok := computed[name]
			return r, ok
		}
		for _, name := range a.plan.Order {
			if dep, ok := a.unavailableDependency(name, computed); ok {
				computed[name] = metric.Failed(name, bucket.Key, core.NewEvalError(core.KindDependencyUnavailable,
					"dependency %q failed with %s", dep.Name, dep.ErrorKind))
				continue
			}
			computed[name] = a.prepared[name].Evaluate(bucket.Key, view, lookup)
		}
	}

	pr := PeriodResults{
		Period:   bucket,
		Results:  make([]metric.Result, 0, len(a.declared)),
		byMetric: make(map[string]int, len(a.declared)),
	}
	for _, name := range a.declared {
		r, ok := computed[name]
		if !ok {
			continue
		}
		pr.byMetric[name] = len(pr.Results)
		pr.Results = append(pr.Results, r)
	}
	return pr
}

// unavailableDependency returns the result of the first dependency of name
// that did not succeed in this period. Declared dependencies gate evaluation
// even when the formula never reads them.
func (a *Aggregator) unavailableDependency(name string, computed map[string]metric.Result) (metric.Result, bool) {
	for _, dep := range a.plan.Edges[name] {
		r, ok := computed[dep]
		if !ok {
			return metric.Result{Name: dep, ErrorKind: core.KindDependencyUnavailable}, true
		}
		if !r.Success {
			return r, true
		}
	}
	return metric.Result{}, false
}

// Series extracts a metric's successful scalar values across periods. Failed
// and breakdown periods are skipped; indices refer to the period position.
func Series(periods []PeriodResults, name string) (indices []int, values []float64) {
	for i := range periods {
		r, ok := periods[i].Get(name)
		if !ok || !r.Success || r.Value == nil {
			continue
		}
		indices = append(indices, i)
		values = append(values, *r.Value)
	}
	return indices, values
}
