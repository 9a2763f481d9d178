// Package observability holds the proxy's Prometheus collectors. They are
// registered by metrics.Init.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of TiTiler calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"route", "outcome"},
	)

	proxyRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_rejections_total",
			Help: "Requests rejected before reaching TiTiler, by reason.",
		},
		[]string{"route", "reason"},
	)

	infoCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "info_cache_results_total",
			Help: "COG info cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	hotKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "info_cache_hot_keys",
			Help: "COG info keys currently tracked for cache admission.",
		},
	)

	cacheBypassTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "info_cache_bypass_total",
			Help: "Info responses not cached because the COG was still cold.",
		},
	)

	analysisFootprintCells = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_footprint_cells",
			Help:    "H3 cells covered by statistics geometries.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	auditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Analysis audit events by outcome.",
		},
		[]string{"outcome"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cog_invalidations_total",
			Help: "COG metadata invalidation events by outcome.",
		},
		[]string{"outcome"},
	)
)

// Collectors lists every collector of this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		proxyRejectionsTotal,
		infoCacheResults,
		hotKeys,
		cacheBypassTotal,
		analysisFootprintCells,
		auditEventsTotal,
		invalidationsTotal,
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveUpstream records a TiTiler call; outcome is "ok", "timeout" or "error".
func ObserveUpstream(route, outcome string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(route, outcome).Observe(durationSeconds)
}

func IncRejection(route, reason string) {
	proxyRejectionsTotal.WithLabelValues(route, reason).Inc()
}

// ObserveCacheOp counts a cache lookup; tier is "memory" or "redis", outcome
// "hit", "miss" or "error".
func ObserveCacheOp(tier, outcome string) {
	infoCacheResults.WithLabelValues(tier, outcome).Inc()
}

func SetHotKeys(n int) { hotKeys.Set(float64(n)) }

func IncCacheBypass() { cacheBypassTotal.Inc() }

func ObserveFootprint(cells int) {
	analysisFootprintCells.Observe(float64(cells))
}

func IncAudit(outcome string) {
	auditEventsTotal.WithLabelValues(outcome).Inc()
}

func IncInvalidation(outcome string) {
	invalidationsTotal.WithLabelValues(outcome).Inc()
}
