// Package metrics exports Prometheus instrumentation for role resolution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution outcome labels.
const (
	OutcomeSuccess           = "success"
	OutcomeCacheHit          = "cache_hit"
	OutcomeFallbackSuperuser = "fallback_superuser"
	OutcomeFailure           = "failure"
)

// PrometheusMetrics instruments the roles store on a private registry so
// tests and embedded instances never collide on the default one.
type PrometheusMetrics struct {
	resolutionsTotal   *prometheus.CounterVec
	cacheHitsTotal     prometheus.Counter
	cacheMissesTotal   prometheus.Counter
	providerFailures   *prometheus.CounterVec
	invalidationsTotal *prometheus.CounterVec
	roleCacheSize      prometheus.Gauge
	mergeDuration      prometheus.Histogram

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates the instrumentation under the given namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	resolutionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Total number of role resolutions by outcome",
		},
		[]string{"outcome"},
	)

	cacheHitsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "role_cache",
			Name:      "hits_total",
			Help:      "Total number of role cache hits",
		},
	)

	cacheMissesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "role_cache",
			Name:      "misses_total",
			Help:      "Total number of role cache misses",
		},
	)

	providerFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Total number of role provider failures by provider",
		},
		[]string{"provider"},
	)

	invalidationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Total number of cache invalidations by scope",
		},
		[]string{"scope"},
	)

	roleCacheSize := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "role_cache",
			Name:      "size",
			Help:      "Number of entries in the role cache",
		},
	)

	// Merging is CPU bound; most merges finish well under a millisecond.
	mergeDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_microseconds",
			Help:      "Role descriptor merge latency in microseconds",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)

	registry.MustRegister(
		resolutionsTotal,
		cacheHitsTotal,
		cacheMissesTotal,
		providerFailures,
		invalidationsTotal,
		roleCacheSize,
		mergeDuration,
	)

	return &PrometheusMetrics{
		resolutionsTotal:   resolutionsTotal,
		cacheHitsTotal:     cacheHitsTotal,
		cacheMissesTotal:   cacheMissesTotal,
		providerFailures:   providerFailures,
		invalidationsTotal: invalidationsTotal,
		roleCacheSize:      roleCacheSize,
		mergeDuration:      mergeDuration,
		registry:           registry,
	}
}

// RecordResolution records one completed resolution by outcome.
func (m *PrometheusMetrics) RecordResolution(outcome string) {
	m.resolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheHit records a role cache hit.
func (m *PrometheusMetrics) RecordCacheHit() {
	m.cacheHitsTotal.Inc()
}

// RecordCacheMiss records a role cache miss.
func (m *PrometheusMetrics) RecordCacheMiss() {
	m.cacheMissesTotal.Inc()
}

// RecordProviderFailure records a failed provider call.
func (m *PrometheusMetrics) RecordProviderFailure(provider string) {
	m.providerFailures.WithLabelValues(provider).Inc()
}

// RecordInvalidation records one invalidation by scope ("roles" or "all").
func (m *PrometheusMetrics) RecordInvalidation(scope string) {
	m.invalidationsTotal.WithLabelValues(scope).Inc()
}

// UpdateRoleCacheSize updates the role cache size gauge.
func (m *PrometheusMetrics) UpdateRoleCacheSize(size int) {
	m.roleCacheSize.Set(float64(size))
}

// RecordMergeDuration records one descriptor merge.
func (m *PrometheusMetrics) RecordMergeDuration(d time.Duration) {
	m.mergeDuration.Observe(float64(d.Microseconds()))
}

// HTTPHandler returns the handler serving this registry.
func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
