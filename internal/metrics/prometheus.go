// Package metrics provides Prometheus collectors and a non-blocking
// per-request event sink for the gateway. Aggregation and long-term
// storage happen in external systems scraping the /metrics endpoint.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aimux"

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0,
}

var (
	// DispatchTotalRequests counts dispatched requests by outcome.
	DispatchTotalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total_requests",
			Help:      "Total number of dispatched requests",
		},
		[]string{"model", "provider", "status_code"},
	)

	// DispatchRetries counts failover retries per provider.
	DispatchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_retries_total",
			Help:      "Total number of failover retries",
		},
		[]string{"provider"},
	)

	// RequestLatency tracks end-to-end request latency.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "End-to-end request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"model", "provider"},
	)

	// UpstreamErrors counts provider transport and HTTP errors.
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total upstream provider errors",
		},
		[]string{"provider", "error_type"},
	)

	// CacheHits counts response cache hits.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total response cache hits",
		},
		[]string{"model"},
	)

	// CacheMisses counts response cache misses.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total response cache misses",
		},
		[]string{"model"},
	)

	// CacheEntries tracks the current number of cached responses.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of cached responses",
		},
	)

	// ProviderAvailable reports per-provider availability (1 or 0).
	ProviderAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_available",
			Help:      "Whether the provider is currently available",
		},
		[]string{"provider"},
	)
)

// RecordRequest records a completed dispatch attempt.
func RecordRequest(provider, model string, statusCode int, latency time.Duration) {
	DispatchTotalRequests.WithLabelValues(model, provider, strconv.Itoa(statusCode)).Inc()
	RequestLatency.WithLabelValues(model, provider).Observe(latency.Seconds())
}

// RecordUpstreamError records a provider failure by class.
func RecordUpstreamError(provider, errorType string) {
	UpstreamErrors.WithLabelValues(provider, errorType).Inc()
}
