package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsMiddleware_LabelsByRouteTemplate(t *testing.T) {
	m := NewMetrics()

	router := mux.NewRouter()
	router.Use(MetricsMiddleware(m))
	router.HandleFunc("/v1/bulk-load/jobs/{job_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	before := testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodGet, "/v1/bulk-load/jobs/{job_id}", "404"))
	for _, id := range []string{"a", "b", "c"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/bulk-load/jobs/"+id, nil))
	}
	after := testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodGet, "/v1/bulk-load/jobs/{job_id}", "404"))

	assert.Equal(t, 3.0, after-before)
}

func TestMetrics_Gauges(t *testing.T) {
	m := NewMetrics()
	assert.Same(t, m, NewMetrics())

	m.SetPrimaryReachable(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.primaryReachable))
	m.SetPrimaryReachable(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.primaryReachable))

	m.SetMirrorRecords(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(m.mirrorRecords))

	m.IncBulkLoads()
	m.IncBulkLoads()
	m.DecBulkLoads()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bulkLoadsActive))
	m.DecBulkLoads()
}
