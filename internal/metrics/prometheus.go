package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics mirrors pipeline counters into a Prometheus registry
// for scraping. Like Metrics it is constructor-injected, never global.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	cacheOpsTotal   *prometheus.CounterVec
	retriesTotal    prometheus.Counter
	dedupJoined     prometheus.Counter
	breakerRejected *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	flushFailures   prometheus.Counter

	requestDuration *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec
}

// defaultBuckets for request duration in milliseconds.
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// NewPrometheus creates the Prometheus mirror with all collectors
// registered under the given namespace.
func NewPrometheus(namespace string, buckets []float64) *PrometheusMetrics {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total API requests by endpoint family and outcome",
			},
			[]string{"resource", "method", "outcome"},
		),

		cacheOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_ops_total",
				Help:      "Cache operations by result (hit, miss, not_modified, invalidate)",
			},
			[]string{"op"},
		),

		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total retry attempts beyond the first try",
			},
		),

		dedupJoined: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_joined_total",
				Help:      "Callers that joined an already in-flight identical request",
			},
		),

		breakerRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_rejected_total",
				Help:      "Requests fast-failed while a circuit breaker was open",
			},
			[]string{"resource"},
		),

		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"resource"},
		),

		flushFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metric_flush_failures_total",
				Help:      "Failed metric batch flushes",
			},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_milliseconds",
				Help:      "End-to-end request duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"resource", "method"},
		),

		responseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "Response body size in bytes",
				Buckets:   []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
			},
			[]string{"resource"},
		),
	}

	registry.MustRegister(
		pm.requestsTotal,
		pm.cacheOpsTotal,
		pm.retriesTotal,
		pm.dedupJoined,
		pm.breakerRejected,
		pm.breakerState,
		pm.flushFailures,
		pm.requestDuration,
		pm.responseSize,
	)
	return pm
}

// Handler returns the scrape endpoint handler for this registry.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed request.
func (pm *PrometheusMetrics) ObserveRequest(resource, method, outcome string, duration time.Duration, size int) {
	pm.requestsTotal.WithLabelValues(resource, method, outcome).Inc()
	pm.requestDuration.WithLabelValues(resource, method).Observe(float64(duration.Milliseconds()))
	if size > 0 {
		pm.responseSize.WithLabelValues(resource).Observe(float64(size))
	}
}

// ObserveCacheOp records a cache hit/miss/not_modified/invalidate.
func (pm *PrometheusMetrics) ObserveCacheOp(op string) {
	pm.cacheOpsTotal.WithLabelValues(op).Inc()
}

// ObserveRetries records attempts beyond the first.
func (pm *PrometheusMetrics) ObserveRetries(n int) {
	if n > 0 {
		pm.retriesTotal.Add(float64(n))
	}
}

// ObserveDedupJoin records a joined caller.
func (pm *PrometheusMetrics) ObserveDedupJoin() {
	pm.dedupJoined.Inc()
}

// ObserveBreakerRejection records a fast-fail for a resource.
func (pm *PrometheusMetrics) ObserveBreakerRejection(resource string) {
	pm.breakerRejected.WithLabelValues(resource).Inc()
}

// SetBreakerState publishes a breaker state for a resource.
func (pm *PrometheusMetrics) SetBreakerState(resource string, state int) {
	pm.breakerState.WithLabelValues(resource).Set(float64(state))
}

// ObserveFlushFailure records a failed metric batch flush.
func (pm *PrometheusMetrics) ObserveFlushFailure() {
	pm.flushFailures.Inc()
}
