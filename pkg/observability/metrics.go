package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision outcomes recorded by AuthzDecisionsTotal
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
	DecisionError   = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	AuthzCheckDuration  *prometheus.HistogramVec

	// Role permission cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal prometheus.Counter

	// Database metrics
	DBConnectionsOpen  *prometheus.GaugeVec
	DBConnectionsInUse *prometheus.GaugeVec

	// Rate limiting
	RateLimitedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_authz_decisions_total",
				Help: "Authorization decisions by permission namespace and outcome",
			},
			[]string{"namespace", "outcome"},
		),
		AuthzCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_authz_check_duration_seconds",
				Help:    "Authorization check duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"namespace"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_role_cache_hits_total",
				Help: "Role permission set cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantgate_role_cache_misses_total",
				Help: "Role permission set lookups that reached the database",
			},
		),

		DBConnectionsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tenantgate_db_connections_open",
				Help: "Open database connections by pool",
			},
			[]string{"pool"},
		),
		DBConnectionsInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tenantgate_db_connections_in_use",
				Help: "In-use database connections by pool",
			},
			[]string{"pool"},
		),

		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantgate_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzCheckDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.RateLimitedTotal,
	)

	return m
}

// RecordDecision records the outcome of one authorization check
func (m *Metrics) RecordDecision(namespace string, allowed bool, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := DecisionDenied
	switch {
	case err != nil:
		outcome = DecisionError
	case allowed:
		outcome = DecisionAllowed
	}
	m.AuthzDecisionsTotal.WithLabelValues(namespace, outcome).Inc()
	m.AuthzCheckDuration.WithLabelValues(namespace).Observe(elapsed.Seconds())
}

// CacheHit implements the role cache's stats hook
func (m *Metrics) CacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// CacheMiss implements the role cache's stats hook
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RateLimited counts a request rejected by the rate limiter
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// RecordPoolStats publishes connection pool gauges for one named pool
func (m *Metrics) RecordPoolStats(pool string, stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.WithLabelValues(pool).Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.WithLabelValues(pool).Set(float64(stats.InUse))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by mux route template so path IDs do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(serveMux *http.ServeMux, registry *prometheus.Registry) {
	serveMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
