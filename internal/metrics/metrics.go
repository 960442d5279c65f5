package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farrier_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farrier_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	instancesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farrier_instances_created_total",
			Help: "Total activity instances materialized",
		},
	)

	definitionsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farrier_definitions_processed_total",
			Help: "Total recurring definitions processed by result",
		},
		[]string{"result"},
	)

	expansionTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farrier_expansion_truncations_total",
			Help: "Rule expansions that hit the iteration limit",
		},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farrier_deliveries_total",
			Help: "Total delivery outcomes by channel and status",
		},
		[]string{"channel", "status"},
	)

	rateLimitDeferrals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farrier_rate_limit_deferrals_total",
			Help: "Deliveries deferred by the per-channel rate limiter",
		},
		[]string{"channel"},
	)

	invalidTargetsPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farrier_invalid_targets_pruned_total",
			Help: "Delivery targets removed after a permanent failure",
		},
		[]string{"channel"},
	)

	sweepActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farrier_sweep_actions_total",
			Help: "Queue items and notifications touched by sweeps, by action",
		},
		[]string{"action"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farrier_job_duration_seconds",
			Help:    "Scheduled job run time distribution",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"job"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farrier_breaker_transitions_total",
			Help: "Circuit breaker state transitions by breaker and new state",
		},
		[]string{"name", "state"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordInstancesCreated adds to the materialized instance counter
func RecordInstancesCreated(count int) {
	instancesCreated.Add(float64(count))
}

// RecordDefinitionProcessed records one definition's materialization result
func RecordDefinitionProcessed(result string) {
	definitionsProcessed.WithLabelValues(result).Inc()
}

// RecordExpansionTruncated records a rule expansion cut off at the
// iteration limit
func RecordExpansionTruncated() {
	expansionTruncations.Inc()
}

// RecordDelivery records one delivery outcome
func RecordDelivery(channel, status string) {
	deliveriesTotal.WithLabelValues(channel, status).Inc()
}

// RecordRateLimitDeferral records a delivery pushed back by the rate limiter
func RecordRateLimitDeferral(channel string) {
	rateLimitDeferrals.WithLabelValues(channel).Inc()
}

// RecordInvalidTargetPruned records a delivery target removed as dead
func RecordInvalidTargetPruned(channel string) {
	invalidTargetsPruned.WithLabelValues(channel).Inc()
}

// RecordSweepActions adds to a sweep action counter
func RecordSweepActions(action string, count int) {
	sweepActions.WithLabelValues(action).Add(float64(count))
}

// ObserveJobDuration records how long a scheduled job ran
func ObserveJobDuration(job string, seconds float64) {
	jobDuration.WithLabelValues(job).Observe(seconds)
}

// RecordBreakerTransition records a circuit breaker state change
func RecordBreakerTransition(name, state string) {
	breakerTransitions.WithLabelValues(name, state).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
