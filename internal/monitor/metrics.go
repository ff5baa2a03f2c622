// Package monitor exposes Prometheus collectors for backtest runs, comparison
// batches, data fetches, and HTTP traffic.
package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector on its own registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	tradesTotal    *prometheus.CounterVec
	skippedTotal   *prometheus.CounterVec
	batchesTotal   *prometheus.CounterVec
	batchDuration  prometheus.Histogram
	fetchesTotal   *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "macrostrat_backtest_runs_total",
			Help: "Single-strategy runs by strategy type and outcome.",
		}, []string{"strategy", "status"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "macrostrat_backtest_run_duration_seconds",
			Help:    "Wall time of one simulation pass.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"strategy"}),
		tradesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "macrostrat_backtest_trades_total",
			Help: "Simulated trades by strategy type and side.",
		}, []string{"strategy", "side"}),
		skippedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "macrostrat_backtest_skipped_signals_total",
			Help: "Signals that could not be executed.",
		}, []string{"strategy"}),
		batchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "macrostrat_comparison_batches_total",
			Help: "Multi-strategy batches by outcome.",
		}, []string{"status"}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "macrostrat_comparison_batch_duration_seconds",
			Help:    "Wall time of a multi-strategy batch.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		fetchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "macrostrat_data_fetches_total",
			Help: "Price series requests by provider, source, and outcome.",
		}, []string{"provider", "source", "status"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "macrostrat_data_fetch_duration_seconds",
			Help:    "Latency of provider fetches.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "macrostrat_http_requests_total",
			Help: "HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "code"}),
		requestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "macrostrat_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records one finished single-strategy run.
func (m *Metrics) ObserveRun(strategy, status string, d time.Duration, buys, sells, skipped int) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(strategy, status).Inc()
	m.runDuration.WithLabelValues(strategy).Observe(d.Seconds())
	m.tradesTotal.WithLabelValues(strategy, "buy").Add(float64(buys))
	m.tradesTotal.WithLabelValues(strategy, "sell").Add(float64(sells))
	m.skippedTotal.WithLabelValues(strategy).Add(float64(skipped))
}

// ObserveBatch records one finished comparison batch.
func (m *Metrics) ObserveBatch(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(status).Inc()
	m.batchDuration.Observe(d.Seconds())
}

// ObserveFetch records a price series request. source is "cache" or
// "provider".
func (m *Metrics) ObserveFetch(provider, source, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchesTotal.WithLabelValues(provider, source, status).Inc()
	if source == "provider" {
		m.fetchDuration.WithLabelValues(provider).Observe(d.Seconds())
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.requestLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Status maps an error to an outcome label.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
