// Package metrics registers the Prometheus metrics used by the gateway.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts completed gist requests labelled by HTTP status
	// class ("200", "404", ...).
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gistgw_requests_total",
			Help: "Total number of gist listing requests processed.",
		},
		[]string{"status"},
	)

	// CacheLookups counts cache outcomes for gist requests: "hit", "miss",
	// or "bypass" for requests that asked for fresh data.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gistgw_cache_lookups_total",
			Help: "Cache lookup outcomes for gist listing requests.",
		},
		[]string{"result"},
	)

	// UpstreamRequestDuration observes GitHub API call latency in seconds,
	// labelled by outcome ("ok", "not_found", "error").
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gistgw_upstream_request_duration_seconds",
			Help:    "GitHub API request duration in seconds.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	// UpstreamRateLimitRemaining tracks the most recent X-RateLimit-Remaining
	// value reported by GitHub.
	UpstreamRateLimitRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gistgw_upstream_rate_limit_remaining",
			Help: "Remaining GitHub API quota as last reported upstream.",
		},
	)

	// CacheEntries tracks the number of entries currently stored, updated on
	// every cache mutation the gateway performs.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gistgw_cache_entries",
			Help: "Entries currently stored in the gist cache.",
		},
	)

	// RateLimitRejections counts requests rejected by the per-client rate
	// limiter.
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gistgw_rate_limit_rejections_total",
			Help: "Total requests rejected by client rate limiting.",
		},
	)
)
