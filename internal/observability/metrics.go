package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_resolution_duration_seconds",
			Help:    "Search resolution duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"origin", "status"},
	)

	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_resolutions_total",
			Help: "Total number of search resolutions by final status",
		},
		[]string{"status", "error_kind"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_hits_total",
			Help: "Total number of result cache hits",
		},
		[]string{"backend"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_misses_total",
			Help: "Total number of result cache misses",
		},
		[]string{"backend"},
	)

	CatalogueRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogue_request_duration_seconds",
			Help:    "Primary catalogue request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"status"},
	)

	GenerativeRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generative_request_duration_seconds",
			Help:    "Fallback generative request duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 6, 8, 10, 15},
		},
		[]string{"status"},
	)

	FallbackCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_fallback_total",
			Help: "Total number of fallback invocations by outcome",
		},
		[]string{"outcome"},
	)

	FallbackParseStrategy = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_fallback_parse_strategy_total",
			Help: "Parser strategy that decoded a fallback response",
		},
		[]string{"strategy"},
	)

	StaleResultsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "search_stale_results_discarded_total",
			Help: "Resolution outcomes dropped because a newer query superseded them",
		},
	)

	SharedResolutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "search_shared_resolutions_total",
			Help: "Resolutions that joined an identical in-flight resolution",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SlowResolutionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slow_resolution_total",
			Help: "Total number of slow resolutions",
		},
		[]string{"severity", "origin"},
	)

	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "search_live_sessions",
			Help: "Number of open live search sessions",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolution_events_published_total",
			Help: "Resolution analytics events handed to the event writer",
		},
		[]string{"status"},
	)

	RateLimitedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "API requests rejected by the concurrency limiter",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by route and outcome",
		},
		[]string{"route", "status"},
	)
)
