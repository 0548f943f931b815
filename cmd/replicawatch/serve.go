package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/devrev/replicawatch/internal/converter"
	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/handler"
	"github.com/devrev/replicawatch/internal/health"
	"github.com/devrev/replicawatch/internal/metrics"
	"github.com/devrev/replicawatch/internal/server"
	"github.com/devrev/replicawatch/internal/tracing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup("stdout")
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			return serve(a)
		},
	}
}

func serve(a *app) error {
	cfg, logger := a.cfg, a.logger

	shutdownTracing, err := tracing.Setup(cfg.Tracing.Enabled, os.Stderr)
	if err != nil {
		return err
	}

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	errorHandler := apierrors.NewHandler(logger)
	handlers := handler.NewHandlers(
		handler.Services{Write: a.write, Status: a.status, Search: a.search, BulkLoad: a.bulk},
		a.registry,
		converter.NewHTTPToService(cfg.Mirror.Enabled, cfg.BulkLoad.DefaultTotal),
		errorHandler,
		logger,
		cfg.Server.RequestTimeout,
	)
	healthCheck := health.NewHealthCheck(a.status, a.jobs, a.metrics, cfg.Store.ConnectTimeout+cfg.Store.OperationTimeout, logger)

	httpServer := server.NewServer(cfg, handlers, healthCheck, errorHandler, a.metrics, logger)
	httpServer.SetupRoutes()

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	logger.Info("replicawatch started",
		zap.Int("port", cfg.Server.Port),
		zap.String("primary", a.registry.Primary()),
		zap.Int("nodes", a.registry.Len()),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case serveErr = <-errChan:
		logger.Error("server error", zap.Error(serveErr))
	}

	logger.Info("initiating graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}

	// Detached push loads get until the deadline to finish
	if err := a.pool.Stop(ctx); err != nil {
		logger.Warn("bulk loads cancelled at shutdown", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}

	if err := shutdownTracing(ctx); err != nil {
		logger.Error("failed to flush traces", zap.Error(err))
	}

	if err := a.jobs.Close(); err != nil {
		logger.Error("failed to close job store", zap.Error(err))
	}

	logger.Info("replicawatch shutdown complete")
	return serveErr
}
