package service

import (
	"context"
	"errors"
	"time"

	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/model"
	"github.com/devrev/replicawatch/internal/node"
	"github.com/devrev/replicawatch/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StatusService builds per-node consistency snapshots
type StatusService struct {
	connector *node.Connector
	registry  *node.Registry
	now       func() time.Time
	logger    *zap.Logger
}

// NewStatusService creates a new status service
func NewStatusService(connector *node.Connector, registry *node.Registry, logger *zap.Logger) *StatusService {
	return &StatusService{
		connector: connector,
		registry:  registry,
		now:       time.Now,
		logger:    logger,
	}
}

// GetStatus reads the most recent records visible on address and its role.
// A failed role query leaves the role UNKNOWN but keeps the records; a failed
// data query yields an error snapshot. GetStatus itself never fails.
func (s *StatusService) GetStatus(ctx context.Context, address string) model.NodeStatus {
	start := s.now()
	status := model.NodeStatus{
		Node:    address,
		Role:    model.RoleUnknown,
		Records: []model.Record{},
	}

	err := s.connector.WithNode(ctx, address, "status", func(ctx context.Context, conn store.Connection) error {
		records, err := conn.FindRecent(ctx, model.RecentRecordsLimit)
		if err != nil {
			return err
		}
		status.Records = records

		role, err := conn.RoleQuery(ctx)
		if err != nil {
			perr := apierrors.PartialStatus(address, err)
			status.RoleError = perr.Message()
			status.ErrorCode = string(perr.Code)
			return nil
		}
		status.Role = role
		return nil
	})

	status.AsOf = s.now().UTC()
	status.LatencyMs = s.now().Sub(start).Milliseconds()

	if err != nil {
		status.Records = []model.Record{}
		status.Error = err.Error()
		var ne *apierrors.NodeError
		if errors.As(err, &ne) {
			status.Error = ne.Message()
		}
		status.ErrorCode = string(apierrors.CodeOf(err))
		s.logger.Warn("Node status check failed",
			zap.String("node", address),
			zap.String("error_code", status.ErrorCode),
			zap.Error(err))
	}
	return status
}

// GetAll checks every configured node concurrently. Results keep
// configuration order; a failing node only affects its own entry.
func (s *StatusService) GetAll(ctx context.Context) model.StatusRound {
	nodes := s.registry.Nodes()
	results := make([]model.NodeStatus, len(nodes))

	var g errgroup.Group
	for i, addr := range nodes {
		i, addr := i, addr
		g.Go(func() error {
			results[i] = s.GetStatus(ctx, addr)
			return nil
		})
	}
	_ = g.Wait()

	return model.StatusRound{Nodes: results, AsOf: s.now().UTC()}
}

// ReplicaSetStatus passes through the primary's administrative view of the topology
func (s *StatusService) ReplicaSetStatus(ctx context.Context) (map[string]interface{}, error) {
	var status map[string]interface{}
	err := s.connector.WithNode(ctx, s.registry.Primary(), "replset_status", func(ctx context.Context, conn store.Connection) error {
		var err error
		status, err = conn.ReplicaSetStatus(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// CheckPrimary verifies that the primary answers a role query
func (s *StatusService) CheckPrimary(ctx context.Context) (model.Role, error) {
	role := model.RoleUnknown
	err := s.connector.WithNode(ctx, s.registry.Primary(), "role", func(ctx context.Context, conn store.Connection) error {
		var err error
		role, err = conn.RoleQuery(ctx)
		return err
	})
	return role, err
}
