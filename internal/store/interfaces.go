// Package store holds the replicated-store abstraction, its driver adapters,
// the in-process mirror and the bulk load job cursor stores.
package store

import (
	"context"

	"github.com/devrev/replicawatch/internal/model"
)

// ReplicatedStore opens direct connections to individual replica set members.
// Implementations must not route through a coordinator or discover topology.
type ReplicatedStore interface {
	Connect(ctx context.Context, address string) (Connection, error)
}

// Connection is a single-node connection. Close is always invoked by the
// caller, including after failures.
type Connection interface {
	InsertOne(ctx context.Context, record model.Record) error
	InsertMany(ctx context.Context, records []model.Record) error
	// FindRecent returns up to limit records ordered by write timestamp, newest first
	FindRecent(ctx context.Context, limit int) ([]model.Record, error)
	FindByField(ctx context.Context, key, value string, limit int) ([]model.Record, error)
	RoleQuery(ctx context.Context) (model.Role, error)
	// ReplicaSetStatus returns the node's raw administrative view of the topology
	ReplicaSetStatus(ctx context.Context) (map[string]interface{}, error)
	Close(ctx context.Context) error
}

// JobStore keeps server-side cursors for job-tokened bulk loads
type JobStore interface {
	Create(ctx context.Context, job *model.BulkJob) error
	Get(ctx context.Context, jobID string) (*model.BulkJob, error)
	// ClaimStep atomically reserves the next step of a job. It returns the
	// claimed 1-based step, or 0 when every step has already been claimed.
	ClaimStep(ctx context.Context, jobID string) (int, *model.BulkJob, error)
	// AddWritten adds n records to the job's written count, capped at Total
	AddWritten(ctx context.Context, jobID string, n int) (*model.BulkJob, error)
	Ping(ctx context.Context) error
	Close() error
}
