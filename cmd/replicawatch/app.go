package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/devrev/replicawatch/internal/config"
	"github.com/devrev/replicawatch/internal/metrics"
	"github.com/devrev/replicawatch/internal/node"
	"github.com/devrev/replicawatch/internal/service"
	"github.com/devrev/replicawatch/internal/store"
	"github.com/devrev/replicawatch/internal/util/workerpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app holds the wired service layer shared by every subcommand
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	registry *node.Registry
	mirror   *store.MirrorStore
	jobs     store.JobStore
	pool     *workerpool.Pool

	write  *service.WriteService
	status *service.StatusService
	search *service.SearchService
	bulk   *service.BulkLoadService
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	registry, err := node.NewRegistry(cfg.Nodes)
	if err != nil {
		return nil, fmt.Errorf("invalid node configuration: %w", err)
	}

	replicated, err := newReplicatedStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	jobs, err := newJobStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics()
	connector := node.NewConnector(replicated, node.Config{
		ConnectTimeout:   cfg.Store.ConnectTimeout,
		OperationTimeout: cfg.Store.OperationTimeout,
	}, m, logger)
	mirror := store.NewMirrorStore()

	pool := workerpool.New(workerpool.Config{
		Name:       "bulk-load",
		MaxWorkers: cfg.BulkLoad.Workers,
		QueueSize:  cfg.BulkLoad.QueueSize,
		Logger:     logger,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		registry: registry,
		mirror:   mirror,
		jobs:     jobs,
		pool:     pool,
		write:    service.NewWriteService(connector, registry, mirror, m, logger),
		status:   service.NewStatusService(connector, registry, logger),
		search:   service.NewSearchService(connector, registry, mirror, m, logger),
		bulk: service.NewBulkLoadService(connector, registry, mirror, jobs, pool, m, service.BulkLoadConfig{
			BatchSize:    cfg.BulkLoad.BatchSize,
			StepCount:    cfg.BulkLoad.StepCount,
			OnDisconnect: cfg.BulkLoad.OnDisconnect,
		}, logger),
	}, nil
}

// close releases the worker pool and job store of a one-shot command
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.pool.Stop(ctx); err != nil {
		a.logger.Warn("worker pool did not stop cleanly", zap.Error(err))
	}
	if err := a.jobs.Close(); err != nil {
		a.logger.Warn("failed to close job store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func newReplicatedStore(cfg *config.Config, logger *zap.Logger) (store.ReplicatedStore, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		return store.NewMongoReplicatedStore(store.MongoOptions{
			Database:   cfg.Store.Database,
			Collection: cfg.Store.Collection,
			Username:   cfg.Store.Username,
			Password:   cfg.Store.Password,
			AuthSource: cfg.Store.AuthSource,
		}, logger), nil
	case config.DriverPostgres:
		return store.NewPostgresReplicatedStore(store.PostgresOptions{
			Database: cfg.Store.Database,
			Table:    cfg.Store.Collection,
			User:     cfg.Store.Username,
			Password: cfg.Store.Password,
			SSLMode:  cfg.Store.SSLMode,
		}, logger), nil
	case config.DriverMemory:
		logger.Warn("Using the in-process simulated replica set",
			zap.String("replica_set", cfg.Store.ReplicaSet),
			zap.Duration("simulated_lag", cfg.Store.SimulatedLag))
		return store.NewMemoryReplicatedStore(cfg.Store.ReplicaSet, cfg.Nodes, cfg.Store.SimulatedLag), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Store.Driver)
	}
}

func newJobStore(cfg *config.Config, logger *zap.Logger) (store.JobStore, error) {
	switch cfg.Jobs.Driver {
	case config.JobsRedis:
		jobs, err := store.NewRedisJobStore(
			cfg.Jobs.Redis.Host,
			cfg.Jobs.Redis.Port,
			cfg.Jobs.Redis.Password,
			cfg.Jobs.Redis.DB,
			cfg.Jobs.TTL,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis job store: %w", err)
		}
		return jobs, nil
	default:
		return store.NewMemoryJobStore(cfg.Jobs.TTL, logger), nil
	}
}

// initLogger builds the zap logger writing to out. LOG_LEVEL and LOG_FORMAT
// override the configured logging section.
func initLogger(cfg config.LoggingConfig, out string) *zap.Logger {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = cfg.Level
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = cfg.Format
	}

	var zc zap.Config
	if logFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{out}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
