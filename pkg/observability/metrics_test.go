package observability

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDecision(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDecision("tenants", true, nil, time.Millisecond)
	m.RecordDecision("tenants", false, nil, time.Millisecond)
	m.RecordDecision("system", false, errors.New("db down"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("tenants", DecisionAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("tenants", DecisionDenied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("system", DecisionError)))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision("tenants", true, nil, 0)
		m.CacheHit("l1")
		m.CacheMiss()
		m.RecordPoolStats("primary", sql.DBStats{})
	})
}

func TestCacheCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.CacheHit("l1")
	m.CacheHit("l1")
	m.CacheHit("redis")
	m.CacheMiss()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("l1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))

	m.RateLimited()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitedTotal))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/v1/tenants/{tenant_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/v1/tenants/3f1c", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/tenants/{tenant_id}", "404"),
	))
}
