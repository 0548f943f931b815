// Package server provides the replicawatch HTTP server.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/devrev/replicawatch/internal/config"
	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/handler"
	"github.com/devrev/replicawatch/internal/health"
	"github.com/devrev/replicawatch/internal/metrics"
	"github.com/devrev/replicawatch/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	healthCheck  *health.HealthCheck
	metrics      *metrics.Metrics
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server. m may be nil when metrics are disabled.
func NewServer(
	cfg *config.Config,
	handlers *handler.Handlers,
	healthCheck *health.HealthCheck,
	errorHandler *apierrors.Handler,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		healthCheck:  healthCheck,
		metrics:      m,
		errorHandler: errorHandler,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
	}
	if s.metrics != nil {
		middlewareChain = append(middlewareChain, metrics.MetricsMiddleware(s.metrics))
	}
	middlewareChain = append(middlewareChain, middleware.CORS(s.cfg.Server.AllowedOrigins))

	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	s.router.Use(middleware.Chain(middlewareChain...))

	// Health check endpoints
	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/write", s.handlers.Write).Methods(http.MethodPost)

	// Consistency observation
	v1.HandleFunc("/nodes", s.handlers.ListNodes).Methods(http.MethodGet)
	v1.HandleFunc("/nodes/status", s.handlers.AllNodeStatus).Methods(http.MethodGet)
	v1.HandleFunc("/node-status", s.handlers.NodeStatus).Methods(http.MethodGet)
	v1.HandleFunc("/replica-set/status", s.handlers.ReplicaSetStatus).Methods(http.MethodGet)

	// Bulk load
	bulk := v1.PathPrefix("/bulk-load").Subrouter()
	bulk.HandleFunc("", s.handlers.BulkLoad).Methods(http.MethodGet)
	bulk.HandleFunc("/step", s.handlers.BulkLoadStep).Methods(http.MethodGet)
	bulk.HandleFunc("/jobs", s.handlers.CreateJob).Methods(http.MethodPost)
	bulk.HandleFunc("/jobs/{job_id}", s.handlers.GetJob).Methods(http.MethodGet)
	bulk.HandleFunc("/jobs/{job_id}/next", s.handlers.NextJobStep).Methods(http.MethodPost)

	// Search
	v1.HandleFunc("/search", s.handlers.Search).Methods(http.MethodGet)
	v1.HandleFunc("/search/mirror", s.handlers.SearchMirror).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apierrors.ErrorCodeNotFound, "endpoint not found", r.Header.Get("X-Request-ID"))
	})

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apierrors.ErrorCodeClientInput, "method not allowed", r.Header.Get("X-Request-ID"))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.Int("port", s.cfg.Server.Port),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
