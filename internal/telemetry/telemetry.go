// Package telemetry holds the service's Prometheus collectors and HTTP metrics middleware.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	quotaUsedUnits = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamwatch_quota_used_units",
			Help: "Committed quota units in the current window, labeled by platform.",
		},
		[]string{"platform"},
	)

	quotaReservedUnits = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamwatch_quota_reserved_units",
			Help: "Outstanding reserved quota units, labeled by platform.",
		},
		[]string{"platform"},
	)

	quotaLimitUnits = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamwatch_quota_limit_units",
			Help: "Daily quota limit, labeled by platform.",
		},
		[]string{"platform"},
	)

	quotaLocked = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamwatch_quota_locked",
			Help: "1 when the platform is locked out until the next window.",
		},
		[]string{"platform"},
	)

	quotaDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwatch_quota_denials_total",
			Help: "Total reservation denials, labeled by platform and reason.",
		},
		[]string{"platform", "reason"},
	)

	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwatch_fetch_attempts_total",
			Help: "Total fetch attempts, labeled by platform, operation and outcome kind.",
		},
		[]string{"platform", "operation", "kind"},
	)

	fetchAttemptDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamwatch_fetch_attempt_duration_seconds",
			Help:    "Histogram of single fetch attempt latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"platform", "operation"},
	)

	fetchDiscardedItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwatch_fetch_discarded_items_total",
			Help: "Items dropped because they failed validation.",
		},
		[]string{"platform"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwatch_cache_lookups_total",
			Help: "Cache lookups, labeled by result (hit, miss).",
		},
		[]string{"result"},
	)

	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamwatch_cache_evictions_total",
			Help: "Entries removed by expiry cleanup.",
		},
	)

	scheduleOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwatch_schedule_outcomes_total",
			Help: "Schedule slot outcomes, labeled by platform and final state.",
		},
		[]string{"platform", "state"},
	)

	contentDiscoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwatch_content_discovered_total",
			Help: "New content items discovered, labeled by platform.",
		},
		[]string{"platform"},
	)

	prefetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwatch_prefetch_total",
			Help: "Prefetch dispatches, labeled by result.",
		},
		[]string{"result"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamwatch_active_workers",
			Help: "Number of poll tasks currently executing.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamwatch_rate_limit_delay_seconds",
			Help:    "Histogram of per-platform pacing waits.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"platform"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveQuota publishes the current ledger counters for a platform.
func ObserveQuota(platform string, used, reserved, limit int, locked bool) {
	quotaUsedUnits.WithLabelValues(platform).Set(float64(used))
	quotaReservedUnits.WithLabelValues(platform).Set(float64(reserved))
	quotaLimitUnits.WithLabelValues(platform).Set(float64(limit))
	v := 0.0
	if locked {
		v = 1
	}
	quotaLocked.WithLabelValues(platform).Set(v)
}

// ObserveQuotaDenial counts a refused reservation.
func ObserveQuotaDenial(platform, reason string) {
	quotaDenialsTotal.WithLabelValues(platform, reason).Inc()
}

// ObserveFetchAttempt records one fetch attempt.
func ObserveFetchAttempt(platform, operation, kind string, duration time.Duration) {
	fetchAttemptsTotal.WithLabelValues(platform, operation, kind).Inc()
	fetchAttemptDurationSeconds.WithLabelValues(platform, operation).Observe(duration.Seconds())
}

// ObserveDiscarded counts items dropped during decoding.
func ObserveDiscarded(platform string, n int) {
	if n > 0 {
		fetchDiscardedItemsTotal.WithLabelValues(platform).Add(float64(n))
	}
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// ObserveCacheEvictions counts entries removed by cleanup.
func ObserveCacheEvictions(n int) {
	if n > 0 {
		cacheEvictionsTotal.Add(float64(n))
	}
}

// ObserveScheduleOutcome counts the final state of a schedule slot.
func ObserveScheduleOutcome(platform, state string) {
	scheduleOutcomesTotal.WithLabelValues(platform, state).Inc()
}

// ObserveDiscovered counts new content items.
func ObserveDiscovered(platform string, n int) {
	if n > 0 {
		contentDiscoveredTotal.WithLabelValues(platform).Add(float64(n))
	}
}

// ObservePrefetch counts a prefetch dispatch by result.
func ObservePrefetch(result string) {
	prefetchTotal.WithLabelValues(result).Inc()
}

// IncActiveWorkers increments the active worker count.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active worker count.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(platform string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(platform).Observe(duration.Seconds())
}
