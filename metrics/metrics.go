package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts executed requests by final outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netguard_requests_total",
			Help: "Total number of executed requests",
		},
		[]string{"endpoint", "method", "outcome"},
	)

	// AttemptsTotal counts individual transport attempts.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netguard_attempts_total",
			Help: "Total number of transport attempts",
		},
		[]string{"endpoint"},
	)

	// RequestLatency tracks successful attempt latency.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netguard_request_latency_seconds",
			Help:    "Transport attempt latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// CacheHits counts cache fast-path returns.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netguard_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses counts cacheable requests that went to the network.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netguard_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CircuitOpenTotal counts requests short-circuited by an open
	// breaker.
	CircuitOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netguard_circuit_open_total",
			Help: "Total number of requests rejected by an open circuit breaker",
		},
		[]string{"endpoint"},
	)

	// RateLimitedTotal counts rate-limit waits and rejections.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netguard_rate_limited_total",
			Help: "Total number of rate-limited requests",
		},
		[]string{"endpoint"},
	)

	// QueueDepth is the current offline-queue depth.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netguard_queue_depth",
			Help: "Current number of operations in the offline queue",
		},
	)

	// QueueDrainedTotal counts drained operations by result.
	QueueDrainedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netguard_queue_drained_total",
			Help: "Total number of offline operations drained",
		},
		[]string{"result"},
	)
)
