package app

import (
	"context"
	"fmt"
	"time"

	"gokpi/domain/dataset"
	"gokpi/domain/metric"
	"gokpi/domain/period"
	"gokpi/internal"
	"gokpi/internal/custommetric"
	"gokpi/internal/dependency"
	"gokpi/internal/errors"
	"gokpi/internal/matcher"
	"gokpi/internal/metrics"
	"gokpi/internal/temporal"
	"gokpi/internal/trend"
	"gokpi/ports"

	"golang.org/x/sync/errgroup"
)

// Run outcomes as recorded in metrics
const (
	OutcomeComplete = "complete"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
)

// KPIService runs the full evaluation pipeline: column matching, dependency
// resolution, per-period evaluation, custom metrics and trend summaries.
type KPIService struct {
	matcher     *matcher.Matcher
	summarizer  *trend.Summarizer
	forecaster  ports.Forecaster
	granularity temporal.GranularityPolicy
	maxRuns     int
	recorder    *metrics.Recorder
	logger      *internal.Logger
}

// ServiceOptions configures a KPIService. Zero values select defaults;
// Semantic and Forecaster may be nil.
type ServiceOptions struct {
	Matcher           matcher.Config
	Granularity       temporal.GranularityPolicy
	Trend             trend.Policy
	MaxConcurrentRuns int
	Semantic          ports.SimilarityService
	Forecaster        ports.Forecaster
	Recorder          *metrics.Recorder
}

// NewKPIService creates a KPI service
func NewKPIService(opts ServiceOptions) *KPIService {
	if opts.Matcher == (matcher.Config{}) {
		opts.Matcher = matcher.DefaultConfig()
	}
	if opts.Granularity == (temporal.GranularityPolicy{}) {
		opts.Granularity = temporal.DefaultGranularityPolicy()
	}
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 4
	}
	return &KPIService{
		matcher:     matcher.New(opts.Matcher, opts.Semantic),
		summarizer:  trend.NewSummarizer(opts.Trend),
		forecaster:  opts.Forecaster,
		granularity: opts.Granularity,
		maxRuns:     opts.MaxConcurrentRuns,
		recorder:    opts.Recorder,
		logger:      internal.DefaultLogger.With("KPIService"),
	}
}

// EvaluationRequest defines the inputs of one run
type EvaluationRequest struct {
	Dataset *dataset.Dataset
	Catalog *metric.Catalog
	// Overrides are merged over Catalog, override wins. A structurally
	// invalid override aborts the run before any evaluation.
	Overrides []metric.Definition
	// Metrics narrows the run to these metrics and their dependencies.
	Metrics       []string
	DateColumn    string
	Granularity   period.Granularity
	CustomMetrics []metric.CustomMetric
	// TrendMetrics selects the metrics to summarize; empty means every
	// metric with at least one scalar result.
	TrendMetrics []string
	// Forecast adds a smoothed-series trend per metric when a forecaster is
	// configured.
	Forecast bool
}

// Evaluate runs the pipeline for one dataset. Per-metric failures are part of
// the bundle. An error is returned only for unusable input, an invalid
// catalog, or cancellation; on cancellation the partial bundle is returned
// alongside the context error.
func (s *KPIService) Evaluate(ctx context.Context, req EvaluationRequest) (*ResultBundle, error) {
	if req.Dataset == nil {
		return nil, errors.InvalidInput("dataset is required")
	}
	if req.Catalog == nil {
		return nil, errors.InvalidInput("metric catalog is required")
	}

	cat, err := s.effectiveCatalog(req)
	if err != nil {
		s.recorder.ObserveRun(OutcomeFailed, 0)
		return nil, err
	}

	ec := newEvaluationContext(req.Dataset, cat)
	s.logger.Info("run %s: %d metrics over %d rows of %q", ec.RunID, cat.Len(), req.Dataset.RowCount(), req.Dataset.Name)

	_ = ec.stage("match", func() error {
		ec.Mapping = s.matcher.Match(ctx, cat.Placeholders(), req.Dataset.ColumnNames())
		return nil
	})
	_ = ec.stage("resolve", func() error {
		ec.Plan = dependency.Resolve(cat)
		return nil
	})

	err = ec.stage("bucket", func() error {
		tl, err := temporal.Build(req.Dataset, temporal.Options{
			DateColumn:  req.DateColumn,
			Granularity: req.Granularity,
			Policy:      s.granularity,
		})
		ec.Timeline = tl
		return err
	})
	if err != nil {
		s.recorder.ObserveRun(OutcomeFailed, time.Since(ec.StartedAt))
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}

	runErr := ec.stage("evaluate", func() error {
		agg := temporal.NewAggregator(cat, ec.Mapping, ec.Plan)
		periods, err := agg.Run(ctx, req.Dataset, ec.Timeline)
		ec.Periods = periods
		return err
	})

	bundle := newResultBundle(ec)
	if runErr != nil {
		bundle.Partial = true
		bundle.Timings = ec.Timings()
		s.recordBundle(bundle, time.Since(ec.StartedAt))
		s.logger.Warn("run %s stopped after %d periods: %v", ec.RunID, len(ec.Periods), runErr)
		return bundle, runErr
	}

	_ = ec.stage("custom", func() error {
		if len(req.CustomMetrics) > 0 {
			bundle.CustomResults = custommetric.New(req.Dataset).CalculateAll(req.CustomMetrics)
		}
		return nil
	})

	_ = ec.stage("trend", func() error {
		bundle.Trends = s.trends(ctx, ec, req)
		return nil
	})

	bundle.Timings = ec.Timings()
	s.recordBundle(bundle, time.Since(ec.StartedAt))
	s.logger.Info("run %s finished: %d periods, %d results, %d failed",
		ec.RunID, len(bundle.Periods), len(bundle.Results), bundle.FailedCount())
	return bundle, nil
}

func (s *KPIService) effectiveCatalog(req EvaluationRequest) (*metric.Catalog, error) {
	cat := req.Catalog
	if len(req.Overrides) > 0 {
		override, err := metric.NewCatalog(req.Overrides)
		if err != nil {
			return nil, errors.CatalogInvalid(err)
		}
		cat = metric.Merge(cat, override)
	}
	selected, err := cat.SelectWith(req.Metrics, dependency.DependenciesOf)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	return selected, nil
}

// trends summarizes every requested metric's observed series, plus a
// forecast series when asked for and available. Forecaster failures only
// drop the forecast summary.
func (s *KPIService) trends(ctx context.Context, ec *EvaluationContext, req EvaluationRequest) []metric.TrendSummary {
	names := req.TrendMetrics
	if len(names) == 0 {
		names = ec.Catalog.Names()
	}

	var out []metric.TrendSummary
	for _, name := range names {
		idx, values := temporal.Series(ec.Periods, name)
		if len(req.TrendMetrics) == 0 && len(values) == 0 {
			continue
		}
		points := make([]trend.Point, len(values))
		for i := range values {
			points[i] = trend.Point{PeriodIndex: idx[i], Period: ec.Periods[idx[i]].Period.Key, Value: values[i]}
		}
		out = append(out, s.summarizer.Summarize(name, points, trend.SourceObserved))

		if !req.Forecast || s.forecaster == nil || len(values) < 2 {
			continue
		}
		smoothed, err := s.forecaster.Forecast(ctx, values, ec.Timeline.Granularity)
		if err != nil {
			s.logger.Warn("forecast for %q failed: %v", name, err)
			continue
		}
		fpoints := make([]trend.Point, len(smoothed))
		for i, v := range smoothed {
			fpoints[i] = trend.Point{PeriodIndex: i, Value: v}
			if i < len(idx) {
				fpoints[i].PeriodIndex = idx[i]
				fpoints[i].Period = ec.Periods[idx[i]].Period.Key
			}
		}
		out = append(out, s.summarizer.Summarize(name, fpoints, trend.SourceForecast))
	}
	return out
}

// SummarizeSeries summarizes an externally supplied series with the
// service's trend policy
func (s *KPIService) SummarizeSeries(name string, points []trend.Point) metric.TrendSummary {
	return s.summarizer.Summarize(name, points, trend.SourceObserved)
}

func (s *KPIService) recordBundle(b *ResultBundle, elapsed time.Duration) {
	outcome := OutcomeComplete
	if b.Partial {
		outcome = OutcomePartial
	}
	s.recorder.ObserveRun(outcome, elapsed)
	for _, r := range b.Results {
		s.recorder.ObserveResult(string(r.ErrorKind))
	}
}

// BatchItem is the outcome of one request of a batch
type BatchItem struct {
	Bundle *ResultBundle `json:"bundle,omitempty"`
	Error  string        `json:"error,omitempty"`
	err    error
}

// Err returns the request's error, if any
func (b BatchItem) Err() error {
	return b.err
}

// EvaluateBatch runs independent requests concurrently, at most
// MaxConcurrentRuns at a time. Items are returned in request order; one
// request failing never affects the others.
func (s *KPIService) EvaluateBatch(ctx context.Context, reqs []EvaluationRequest) ([]BatchItem, error) {
	items := make([]BatchItem, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxRuns)

	for i := range reqs {
		g.Go(func() error {
			bundle, err := s.Evaluate(gctx, reqs[i])
			items[i] = BatchItem{Bundle: bundle, err: err}
			if err != nil {
				items[i].Error = fmt.Sprintf("request %d: %v", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return items, err
	}
	return items, ctx.Err()
}
