package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels. These ensure metrics
// don't have unbounded label values, which can blow up Prometheus's
// in-memory series cardinality.
const (
	// Circuit breaker reasons (bounded set)
	ReasonUpstreamDown = "upstream_down"
	ReasonTimeout      = "timeout"
	ReasonRateLimit    = "rate_limit"
	ReasonManualHalt   = "manual_halt"
	ReasonOther        = "other"

	// Upstream error categories (bounded set)
	UpstreamErrorTimeout     = "timeout"
	UpstreamErrorRateLimit   = "rate_limit"
	UpstreamErrorAuth        = "authentication"
	UpstreamErrorNetwork     = "network"
	UpstreamErrorInvalidReq  = "invalid_request"
	UpstreamErrorServerError = "server_error"
	UpstreamErrorSSRF        = "ssrf_rejected"
	UpstreamErrorOther       = "other"
)

// NormalizeCircuitBreakerReason maps arbitrary reasons to the bounded set.
func NormalizeCircuitBreakerReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "open state") || strings.Contains(lower, "unavailable"):
		return ReasonUpstreamDown
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return ReasonTimeout
	case strings.Contains(lower, "rate") || strings.Contains(lower, "limit"):
		return ReasonRateLimit
	case strings.Contains(lower, "manual") || strings.Contains(lower, "halt"):
		return ReasonManualHalt
	default:
		return ReasonOther
	}
}

// NormalizeUpstreamError maps arbitrary error messages to the bounded set
// (spec §3/§4.2 venue fetch failures, the SSRF guard in internal/httpclient).
func NormalizeUpstreamError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "ssrf") || strings.Contains(errStr, "not a public") || strings.Contains(errStr, "blocked host"):
		return UpstreamErrorSSRF
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return UpstreamErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return UpstreamErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return UpstreamErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return UpstreamErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return UpstreamErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return UpstreamErrorServerError
	default:
		return UpstreamErrorOther
	}
}

// Cache Metrics (the five Upstream Price Cache singletons, spec §4.2)
var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossfin_cache_hits_total",
		Help: "Total cache hits (fresh or stale-but-served) by cache name",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossfin_cache_misses_total",
		Help: "Total cache fetch failures with no fallback value available, by cache name",
	}, []string{"cache"})

	CacheFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crossfin_cache_fetch_duration_ms",
		Help:    "Upstream fetch duration backing a cache refresh, in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"cache"})

	CacheStaleServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossfin_cache_stale_served_total",
		Help: "Total times a cache served its last-known value after a failed refresh",
	}, []string{"cache"})
)

// Routing Metrics (spec §4.5 route computation)
var (
	RouteComputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crossfin_route_compute_duration_ms",
		Help:    "Route computation latency in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	RoutesComputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossfin_routes_computed_total",
		Help: "Total route computations by outcome",
	}, []string{"outcome"})
)

// Rate Limiting Metrics (spec §5)
var (
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossfin_rate_limit_rejections_total",
		Help: "Total requests rejected by a rate limiter, by limiter name",
	}, []string{"limiter"})
)

// SSRF Guard Metrics (internal/httpclient)
var (
	SSRFRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossfin_ssrf_rejections_total",
		Help: "Total outbound requests rejected by the SSRF guard, by reason",
	}, []string{"reason"})
)

// System Health Metrics
var (
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossfin_database_connections_active",
		Help: "Number of active database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossfin_database_connections_idle",
		Help: "Number of idle database connections",
	})

	RedisCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossfin_redis_cache_hit_rate",
		Help: "Redis cache hit rate as a ratio (0.0 to 1.0)",
	})

	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossfin_redis_operations_total",
		Help: "Total number of Redis operations by type",
	}, []string{"operation"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crossfin_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method", "path", "status_code"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossfin_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossfin_errors_total",
		Help: "Total number of errors by type",
	}, []string{"type", "component"})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crossfin_database_query_duration_ms",
		Help:    "Database query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"query_type"})
)

// Circuit Breaker Metrics (internal/risk)
var (
	CircuitBreakerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crossfin_circuit_breaker_status",
		Help: "Circuit breaker status (1 = active/tripped, 0 = inactive)",
	}, []string{"breaker_type"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossfin_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips",
	}, []string{"breaker_type", "reason"})
)

// Registry and Rate-Limit Proxy Metrics (spec §6)
var (
	RegistrySearches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossfin_registry_searches_total",
		Help: "Total registry search requests served",
	})

	RegistryEndpointRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossfin_registry_endpoint_rejections_total",
		Help: "Total registry-create requests rejected by endpoint validation, by reason",
	}, []string{"reason"})
)

// Helper functions to update metrics

// RecordCacheHit records a cache hit, optionally noting it served a stale
// value after a failed refresh.
func RecordCacheHit(cacheName string, stale bool) {
	CacheHits.WithLabelValues(cacheName).Inc()
	if stale {
		CacheStaleServed.WithLabelValues(cacheName).Inc()
	}
}

// RecordCacheMiss records a cache fetch failure with no fallback available.
func RecordCacheMiss(cacheName string) {
	CacheMisses.WithLabelValues(cacheName).Inc()
}

// RecordCacheFetch records the upstream fetch latency backing a cache refresh.
func RecordCacheFetch(cacheName string, durationMs float64) {
	CacheFetchDuration.WithLabelValues(cacheName).Observe(durationMs)
}

// RecordRouteComputation records a route computation's latency and outcome.
func RecordRouteComputation(durationMs float64, outcome string) {
	RouteComputeDuration.Observe(durationMs)
	RoutesComputed.WithLabelValues(outcome).Inc()
}

// RecordRateLimitRejection records a rejected request for the named limiter.
func RecordRateLimitRejection(limiter string) {
	RateLimitRejections.WithLabelValues(limiter).Inc()
}

// RecordSSRFRejection records an outbound request blocked by the SSRF guard.
func RecordSSRFRejection(reason string) {
	SSRFRejections.WithLabelValues(reason).Inc()
}

// UpdateDatabaseConnections updates database connection pool metrics.
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordAPIRequest records an API request with duration.
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordError records an error.
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// RecordDatabaseQuery records a database query.
func RecordDatabaseQuery(queryType string, durationMs float64) {
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(durationMs)
}

// RecordRedisOperation records a Redis operation.
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// UpdateCircuitBreaker updates circuit breaker status.
func UpdateCircuitBreaker(breakerType string, active bool) {
	status := 0.0
	if active {
		status = 1.0
	}
	CircuitBreakerStatus.WithLabelValues(breakerType).Set(status)
}

// RecordCircuitBreakerTrip records a circuit breaker trip with normalized reason.
func RecordCircuitBreakerTrip(breakerType, reason string) {
	normalizedReason := NormalizeCircuitBreakerReason(reason)
	CircuitBreakerTrips.WithLabelValues(breakerType, normalizedReason).Inc()
}

// RecordRegistrySearch records a registry search request.
func RecordRegistrySearch() {
	RegistrySearches.Inc()
}

// RecordRegistryEndpointRejection records a registry-create request rejected
// by endpoint validation (spec §6 SSRF-checked write path).
func RecordRegistryEndpointRejection(reason string) {
	RegistryEndpointRejections.WithLabelValues(reason).Inc()
}
