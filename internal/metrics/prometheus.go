// Package metrics provides Prometheus metrics for replicawatch.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestsInFlight  prometheus.Gauge
	nodeOpsTotal      *prometheus.CounterVec
	nodeOpDuration    *prometheus.HistogramVec
	recordsWritten    *prometheus.CounterVec
	bulkLoadsActive   prometheus.Gauge
	searchDuration    *prometheus.HistogramVec
	mirrorRecords     prometheus.Gauge
	primaryReachable  prometheus.Gauge
}

var (
	globalMetrics *Metrics
	once          sync.Once
)

// NewMetrics creates and registers Prometheus metrics. Registration happens
// once per process; later calls return the same instance.
func NewMetrics() *Metrics {
	once.Do(func() {
		globalMetrics = &Metrics{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "replicawatch_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "route", "status"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "replicawatch_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
				},
				[]string{"method", "route"},
			),
			requestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "replicawatch_http_requests_in_flight",
					Help: "Number of HTTP requests currently being processed",
				},
			),
			nodeOpsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "replicawatch_node_operations_total",
					Help: "Total number of operations issued against individual nodes",
				},
				[]string{"node", "op", "outcome"},
			),
			nodeOpDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "replicawatch_node_operation_duration_seconds",
					Help:    "Duration of node operations including connection setup",
					Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
				},
				[]string{"node", "op"},
			),
			recordsWritten: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "replicawatch_records_written_total",
					Help: "Records written to the primary",
				},
				[]string{"mode"},
			),
			bulkLoadsActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "replicawatch_bulk_loads_active",
					Help: "Number of push-mode bulk loads currently running",
				},
			),
			searchDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "replicawatch_search_duration_seconds",
					Help:    "Search latency by source",
					Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
				},
				[]string{"source"},
			),
			mirrorRecords: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "replicawatch_mirror_records",
					Help: "Number of records held by the in-process mirror",
				},
			),
			primaryReachable: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "replicawatch_primary_reachable",
					Help: "Whether the primary answered the last readiness probe (1 = yes, 0 = no)",
				},
			),
		}
	})
	return globalMetrics
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordNodeOperation records one connect-operate-close cycle against a node.
func (m *Metrics) RecordNodeOperation(node, op, outcome string, duration time.Duration) {
	m.nodeOpsTotal.WithLabelValues(node, op, outcome).Inc()
	m.nodeOpDuration.WithLabelValues(node, op).Observe(duration.Seconds())
}

// AddRecordsWritten counts records accepted by the primary.
func (m *Metrics) AddRecordsWritten(mode string, n int) {
	m.recordsWritten.WithLabelValues(mode).Add(float64(n))
}

// IncBulkLoads marks a push-mode load as started.
func (m *Metrics) IncBulkLoads() {
	m.bulkLoadsActive.Inc()
}

// DecBulkLoads marks a push-mode load as finished.
func (m *Metrics) DecBulkLoads() {
	m.bulkLoadsActive.Dec()
}

// ObserveSearch records the measured latency of a search path.
func (m *Metrics) ObserveSearch(source string, latency time.Duration) {
	m.searchDuration.WithLabelValues(source).Observe(latency.Seconds())
}

// SetMirrorRecords sets the mirror size gauge.
func (m *Metrics) SetMirrorRecords(n int) {
	m.mirrorRecords.Set(float64(n))
}

// SetPrimaryReachable sets the primary reachability gauge.
func (m *Metrics) SetPrimaryReachable(ok bool) {
	if ok {
		m.primaryReachable.Set(1)
	} else {
		m.primaryReachable.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the metrics server.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("Starting metrics server", zap.String("addr", ms.server.Addr))
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// MetricsMiddleware creates middleware that records HTTP metrics. Requests
// are labelled with their route template so job IDs do not explode cardinality.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.requestsInFlight.Inc()
			defer m.requestsInFlight.Dec()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			m.RecordHTTPRequest(r.Method, routeLabel(r), rw.statusCode, time.Since(start))
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent event streams working through the wrapper.
func (rw *metricsResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
