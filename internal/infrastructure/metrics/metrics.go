// Package metrics provides Prometheus metrics for the IAM gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "iamgw"

// Cache lookup results.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheCoalesce = "coalesced"
)

var (
	// CacheLookupsTotal counts verification cache lookups by result.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of verification cache lookups",
		},
		[]string{"result"},
	)

	// UpstreamRequestsTotal counts calls to the IAM authority.
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of requests sent to the IAM authority",
		},
		[]string{"operation", "status"},
	)

	// UpstreamDuration measures IAM authority call latency.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Duration of IAM authority calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// AuthDeniedTotal counts requests rejected by the session guard.
	AuthDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_denied_total",
			Help:      "Total number of requests denied authentication",
		},
		[]string{"reason"},
	)
)

// RecordCacheLookup records a verification cache lookup.
func RecordCacheLookup(result string) {
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordUpstream records one IAM authority call.
func RecordUpstream(operation, status string, duration float64) {
	UpstreamRequestsTotal.WithLabelValues(operation, status).Inc()
	UpstreamDuration.WithLabelValues(operation).Observe(duration)
}

// RecordAuthDenied records a rejected request.
func RecordAuthDenied(reason string) {
	AuthDeniedTotal.WithLabelValues(reason).Inc()
}
