package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the authorization engine
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal   *prometheus.CounterVec
	AuthzResolveDuration  *prometheus.HistogramVec
	AuthzStoreErrorsTotal prometheus.Counter

	// Bundle cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheEntries     prometheus.Gauge

	// Department tree metrics
	DeptTreeRebuildsTotal prometheus.Counter
	DeptTreeSize          prometheus.Gauge

	// Invalidation metrics
	InvalidationSignalsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portcullis_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portcullis_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portcullis_authz_decisions_total",
				Help: "Authorization decisions by outcome (allowed, denied, unauthenticated, store_error)",
			},
			[]string{"outcome"},
		),
		AuthzResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portcullis_authz_resolve_duration_seconds",
				Help:    "Permission resolution duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"cached"},
		),
		AuthzStoreErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portcullis_authz_store_errors_total",
				Help: "Grant store infrastructure failures",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portcullis_bundle_cache_hits_total",
				Help: "Bundle cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portcullis_bundle_cache_misses_total",
				Help: "Bundle cache misses",
			},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portcullis_bundle_cache_entries",
				Help: "Number of principals currently cached",
			},
		),
		DeptTreeRebuildsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portcullis_dept_tree_rebuilds_total",
				Help: "Department tree snapshot rebuilds",
			},
		),
		DeptTreeSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portcullis_dept_tree_departments",
				Help: "Departments in the current tree snapshot",
			},
		),
		InvalidationSignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portcullis_invalidation_signals_total",
				Help: "Invalidation signals processed by channel",
			},
			[]string{"channel"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzResolveDuration,
		m.AuthzStoreErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEntries,
		m.DeptTreeRebuildsTotal,
		m.DeptTreeSize,
		m.InvalidationSignalsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDecision counts one authorization decision outcome
func (m *Metrics) RecordDecision(outcome string) {
	m.AuthzDecisionsTotal.WithLabelValues(outcome).Inc()
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware instruments an HTTP handler with request count and
// duration metrics. Path is the route template, not the raw URL, to keep
// label cardinality bounded.
func (m *Metrics) HTTPMiddleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
