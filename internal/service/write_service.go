package service

import (
	"context"
	"strings"
	"time"

	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/metrics"
	"github.com/devrev/replicawatch/internal/model"
	"github.com/devrev/replicawatch/internal/node"
	"github.com/devrev/replicawatch/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WriteResult is the outcome of a single write
type WriteResult struct {
	Record   model.Record `json:"record"`
	Node     string       `json:"node"`
	Mirrored bool         `json:"mirrored"`
}

// WriteService writes single message records to the primary
type WriteService struct {
	connector *node.Connector
	registry  *node.Registry
	mirror    *store.MirrorStore
	metrics   *metrics.Metrics
	host      string
	now       func() time.Time
	logger    *zap.Logger
}

// NewWriteService creates a new write service
func NewWriteService(
	connector *node.Connector,
	registry *node.Registry,
	mirror *store.MirrorStore,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WriteService {
	return &WriteService{
		connector: connector,
		registry:  registry,
		mirror:    mirror,
		metrics:   m,
		host:      originHost(),
		now:       time.Now,
		logger:    logger,
	}
}

// Write inserts {message} on the primary. The record is appended to the
// mirror only after the primary accepted it.
func (s *WriteService) Write(ctx context.Context, message string, mirror bool) (*WriteResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, apierrors.ClientInput("message is required")
	}

	primary := s.registry.Primary()
	record := model.NewMessageRecord(uuid.NewString(), message, s.host, model.Stamp(s.now()))

	err := s.connector.WithNode(ctx, primary, "insert", func(ctx context.Context, conn store.Connection) error {
		return conn.InsertOne(ctx, record)
	})
	if err != nil {
		s.logger.Warn("Write failed",
			zap.String("node", primary),
			zap.Error(err))
		return nil, err
	}
	s.metrics.AddRecordsWritten("single", 1)

	if mirror {
		s.mirror.Append(record)
		s.metrics.SetMirrorRecords(s.mirror.Len())
	}

	s.logger.Debug("Record written",
		zap.String("node", primary),
		zap.String("record_id", record.ID),
		zap.Bool("mirrored", mirror))

	return &WriteResult{Record: record, Node: primary, Mirrored: mirror}, nil
}
