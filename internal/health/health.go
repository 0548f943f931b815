// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/devrev/replicawatch/internal/metrics"
	"github.com/devrev/replicawatch/internal/model"
	"go.uber.org/zap"
)

// PrimaryProber checks that the write target answers
type PrimaryProber interface {
	CheckPrimary(ctx context.Context) (model.Role, error)
}

// JobStorePinger checks the job cursor store
type JobStorePinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck serves /health and /ready
type HealthCheck struct {
	primary PrimaryProber
	jobs    JobStorePinger
	metrics *metrics.Metrics
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthCheck creates a new HealthCheck instance. metrics may be nil.
func NewHealthCheck(primary PrimaryProber, jobs JobStorePinger, m *metrics.Metrics, timeout time.Duration, logger *zap.Logger) *HealthCheck {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthCheck{
		primary: primary,
		jobs:    jobs,
		metrics: m,
		timeout: timeout,
		logger:  logger,
	}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler handles GET /health; it only reports that the process runs.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready. The service is ready when the primary
// answers a role query and the job store responds. Secondaries are not
// checked: an unreachable secondary is something to observe, not an outage.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), hc.timeout)
	defer cancel()

	resp := ReadinessResponse{Status: "ready", Checks: map[string]string{}}
	status := http.StatusOK

	role, err := hc.primary.CheckPrimary(ctx)
	if err != nil {
		resp.Checks["primary"] = "unreachable"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["primary"] = string(role)
	}
	if hc.metrics != nil {
		hc.metrics.SetPrimaryReachable(err == nil)
	}

	if hc.jobs != nil {
		if err := hc.jobs.Ping(ctx); err != nil {
			resp.Checks["job_store"] = "unhealthy"
			if resp.Error == "" {
				resp.Error = err.Error()
			}
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["job_store"] = "healthy"
		}
	}

	if status != http.StatusOK {
		resp.Status = "not_ready"
		hc.logger.Warn("Readiness check failed", zap.String("error", resp.Error))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
