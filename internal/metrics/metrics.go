// Package metrics exposes operational counters for evaluation runs and the
// HTTP API in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a registry so tests and multiple servers never collide on
// the global one.
type Recorder struct {
	registry        *prometheus.Registry
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	results         *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	semanticLookups *prometheus.CounterVec
}

// NewRecorder registers every collector on a fresh registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gokpi",
			Name:      "evaluation_runs_total",
			Help:      "Evaluation runs by outcome (complete, partial, failed).",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gokpi",
			Name:      "evaluation_run_seconds",
			Help:      "Wall time of a single evaluation run.",
			Buckets:   prometheus.DefBuckets,
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gokpi",
			Name:      "metric_results_total",
			Help:      "Per-period metric results by error kind; successes use kind \"none\".",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gokpi",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gokpi",
			Name:      "http_request_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		semanticLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gokpi",
			Name:      "embedding_lookups_total",
			Help:      "Embedding lookups by source (cache, api).",
		}, []string{"source"}),
	}
	r.registry.MustRegister(r.runs, r.runDuration, r.results, r.httpRequests, r.httpDuration, r.semanticLookups)
	return r
}

// ObserveRun records one finished run
func (r *Recorder) ObserveRun(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.runDuration.Observe(elapsed.Seconds())
}

// ObserveResult counts one metric result by error kind
func (r *Recorder) ObserveResult(kind string) {
	if r == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	r.results.WithLabelValues(kind).Inc()
}

// ObserveRequest records one HTTP request
func (r *Recorder) ObserveRequest(route, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveEmbedding counts an embedding served from source
func (r *Recorder) ObserveEmbedding(source string) {
	if r == nil {
		return
	}
	r.semanticLookups.WithLabelValues(source).Inc()
}

// Registry exposes the underlying registry for gathering in tests
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
