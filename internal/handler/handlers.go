// Package handler provides the replicawatch HTTP request handlers.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/devrev/replicawatch/internal/converter"
	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/model"
	"github.com/devrev/replicawatch/internal/node"
	"github.com/devrev/replicawatch/internal/progress"
	"github.com/devrev/replicawatch/internal/service"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Services groups the service layer used by the handlers.
type Services struct {
	Write    *service.WriteService
	Status   *service.StatusService
	Search   *service.SearchService
	BulkLoad *service.BulkLoadService
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	svc           Services
	registry      *node.Registry
	httpToService *converter.HTTPToService
	errorHandler  *apierrors.Handler
	logger        *zap.Logger
	timeout       time.Duration
}

// NewHandlers creates a new Handlers instance. timeout bounds every handler
// except the push-mode stream, which lives as long as its load.
func NewHandlers(
	svc Services,
	registry *node.Registry,
	httpToService *converter.HTTPToService,
	errorHandler *apierrors.Handler,
	logger *zap.Logger,
	timeout time.Duration,
) *Handlers {
	return &Handlers{
		svc:           svc,
		registry:      registry,
		httpToService: httpToService,
		errorHandler:  errorHandler,
		logger:        logger,
		timeout:       timeout,
	}
}

// NodeListResponse is the body of GET /v1/nodes.
type NodeListResponse struct {
	Primary string           `json:"primary"`
	Nodes   []model.NodeInfo `json:"nodes"`
}

// Write handles POST /v1/write requests.
func (h *Handlers) Write(w http.ResponseWriter, r *http.Request) {
	req, err := h.httpToService.WriteRequest(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	result, err := h.svc.Write.Write(ctx, req.Message, req.Mirror)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, result)
}

// ListNodes handles GET /v1/nodes requests.
func (h *Handlers) ListNodes(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, NodeListResponse{
		Primary: h.registry.Primary(),
		Nodes:   h.registry.Info(),
	})
}

// AllNodeStatus handles GET /v1/nodes/status requests. Per-node failures are
// reported inside the round, so the response is always 200.
func (h *Handlers) AllNodeStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	h.writeJSONResponse(w, http.StatusOK, h.svc.Status.GetAll(ctx))
}

// NodeStatus handles GET /v1/node-status?node= requests.
func (h *Handlers) NodeStatus(w http.ResponseWriter, r *http.Request) {
	address, err := h.httpToService.NodeQuery(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if !h.registry.Contains(address) {
		h.errorHandler.HandleError(w, r, apierrors.ClientInput("unknown node: %s", address))
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	h.writeJSONResponse(w, http.StatusOK, h.svc.Status.GetStatus(ctx, address))
}

// BulkLoad handles GET /v1/bulk-load requests, streaming progress as
// server-sent events.
func (h *Handlers) BulkLoad(w http.ResponseWriter, r *http.Request) {
	req, err := h.httpToService.PushRequest(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ch, err := h.svc.BulkLoad.StartPush(r.Context(), *req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if err := progress.Stream(r.Context(), w, ch); err != nil {
		if errors.Is(err, progress.ErrStreamingUnsupported) {
			h.errorHandler.WriteInternalError(w, err.Error(), r.Header.Get("X-Request-ID"))
			return
		}
		h.logger.Info("Bulk load consumer detached",
			zap.Int("total", req.Total),
			zap.Error(err))
	}
}

// BulkLoadStep handles GET /v1/bulk-load/step requests.
func (h *Handlers) BulkLoadStep(w http.ResponseWriter, r *http.Request) {
	req, err := h.httpToService.StepRequest(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	p, err := h.svc.BulkLoad.Step(ctx, *req)
	h.writeProgress(w, r, p, err)
}

// CreateJob handles POST /v1/bulk-load/jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	req, err := h.httpToService.CreateJobRequest(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	job, err := h.svc.BulkLoad.CreateJob(ctx, req.Total, req.StepCount, req.Mirror)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, job)
}

// GetJob handles GET /v1/bulk-load/jobs/{job_id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.httpToService.JobID(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	job, err := h.svc.BulkLoad.GetJob(ctx, jobID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, job)
}

// NextJobStep handles POST /v1/bulk-load/jobs/{job_id}/next requests.
func (h *Handlers) NextJobStep(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.httpToService.JobID(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	p, err := h.svc.BulkLoad.NextStep(ctx, jobID)
	h.writeProgress(w, r, p, err)
}

// Search handles GET /v1/search requests against the primary.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	key, value := h.httpToService.SearchQuery(r)

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	result, err := h.svc.Search.SearchStore(ctx, key, value)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, result)
}

// SearchMirror handles GET /v1/search/mirror requests.
func (h *Handlers) SearchMirror(w http.ResponseWriter, r *http.Request) {
	key, value := h.httpToService.SearchQuery(r)

	result, err := h.svc.Search.SearchMirror(r.Context(), key, value)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, result)
}

// ReplicaSetStatus handles GET /v1/replica-set/status requests.
// ?format=yaml renders the document as YAML.
func (h *Handlers) ReplicaSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	status, err := h.svc.Status.ReplicaSetStatus(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") != "yaml" {
		h.writeJSONResponse(w, http.StatusOK, status)
		return
	}
	out, err := yaml.Marshal(status)
	if err != nil {
		h.errorHandler.WriteInternalError(w, "failed to render replica set status", r.Header.Get("X-Request-ID"))
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// writeProgress answers a step. A failed step that still produced a terminal
// progress is returned as that progress with the status of its error code.
func (h *Handlers) writeProgress(w http.ResponseWriter, r *http.Request, p *model.Progress, err error) {
	if err == nil {
		h.writeJSONResponse(w, http.StatusOK, p)
		return
	}
	if p == nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, apierrors.HTTPStatus(apierrors.CodeOf(err)), p)
}

func (h *Handlers) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
