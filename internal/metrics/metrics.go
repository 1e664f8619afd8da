package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feed"

var (
	// Node RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total JSON-RPC calls by method and status class",
	}, []string{"method", "status"})

	RPCRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total RPC calls that had to wait for a rate limit token",
	})

	// Cache store
	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Cache store operations by backend, op and result",
	}, []string{"backend", "op", "result"})

	// Aggregator
	AggregationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "aggregator",
		Name:      "run_duration_seconds",
		Help:      "Aggregation run duration",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"outcome"})

	AggregationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregator",
		Name:      "errors_total",
		Help:      "Aggregation runs aborted by a fatal error",
	})

	TransfersQualified = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "aggregator",
		Name:      "transfers_qualified",
		Help:      "Qualifying transfers in the most recent aggregation run",
	})

	ItemsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregator",
		Name:      "items_skipped_total",
		Help:      "Transactions skipped during aggregation by reason",
	}, []string{"reason"})

	BalanceAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "balance",
		Name:      "attempts_total",
		Help:      "balanceOf attempts by result",
	}, []string{"result"})

	// Profile directory
	ProfileLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "profile",
		Name:      "lookups_total",
		Help:      "Profile directory lookups by result",
	}, []string{"result"})

	ProfileBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "profile",
		Name:      "breaker_state",
		Help:      "Profile directory circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	// HTTP
	HTTPResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "responses_total",
		Help:      "Feed HTTP responses by status code and cache disposition",
	}, []string{"code", "cache"})
)
