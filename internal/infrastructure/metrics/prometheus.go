package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector
	registry  *prometheus.Registry

	// Prometheus metrics
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheHitRate   prometheus.Gauge
	cacheKeys      prometheus.Gauge
	cacheEvictions prometheus.Counter
	decisions      *prometheus.CounterVec
	policyErrors   prometheus.Counter
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	errors         *prometheus.CounterVec
}

// NewPrometheusExporter creates an exporter backed by its own registry,
// so several exporters can coexist in one process. The registry is
// reachable through Registry for scraping.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	registry := prometheus.NewRegistry()
	e := NewPrometheusExporterWith(collector, registry)
	e.registry = registry
	return e
}

// NewPrometheusExporterWith creates an exporter registering its metrics
// on the given registerer. Registering the same metric names twice on
// one registerer panics, so each exporter needs its own.
func NewPrometheusExporterWith(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	factory := promauto.With(reg)
	return &PrometheusExporter{
		collector: collector,
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "sugi_decision_cache_hits_total",
			Help: "Total number of cache hits for authorization decisions",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "sugi_decision_cache_misses_total",
			Help: "Total number of cache misses for authorization decisions",
		}),
		cacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sugi_decision_cache_hit_rate",
			Help: "Current cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sugi_decision_cache_keys_current",
			Help: "Current number of keys in the decision cache",
		}),
		cacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "sugi_decision_cache_evictions_total",
			Help: "Total number of decision cache evictions",
		}),
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sugi_decisions_total",
				Help: "Total number of authorization decisions by outcome",
			},
			[]string{"outcome"},
		),
		policyErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sugi_policy_errors_total",
			Help: "Total number of policies that errored during evaluation",
		}),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sugi_requests_total",
				Help: "Total number of engine operation calls",
			},
			[]string{"operation"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sugi_request_duration_seconds",
				Help:    "Duration of engine operations in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sugi_errors_total",
				Help: "Total number of failed engine operation calls",
			},
			[]string{"operation"},
		),
	}
}

// Registry returns the exporter's own registry for scraping. Nil when
// the exporter was built on an external registerer.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Update updates Gauge metrics from the collector.
// Counters are updated at record time, so only gauges are refreshed here.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
}

// RecordDecision records a decision outcome in Prometheus.
func (e *PrometheusExporter) RecordDecision(outcome string) {
	e.decisions.WithLabelValues(outcome).Inc()
}

// RecordPolicyError records an errored policy in Prometheus.
func (e *PrometheusExporter) RecordPolicyError() {
	e.policyErrors.Inc()
}

// RecordRequest records an operation call in Prometheus.
func (e *PrometheusExporter) RecordRequest(operation string) {
	e.requests.WithLabelValues(operation).Inc()
}

// RecordDuration records an operation duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(operation string, durationSeconds float64) {
	e.duration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordError records a failed operation call in Prometheus.
func (e *PrometheusExporter) RecordError(operation string) {
	e.errors.WithLabelValues(operation).Inc()
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit() {
	e.cacheHits.Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss() {
	e.cacheMisses.Inc()
}

// RecordCacheEviction records a cache eviction.
func (e *PrometheusExporter) RecordCacheEviction() {
	e.cacheEvictions.Inc()
}
