package node

import (
	"context"
	"time"

	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/metrics"
	"github.com/devrev/replicawatch/internal/model"
	"github.com/devrev/replicawatch/internal/store"
	"github.com/devrev/replicawatch/internal/tracing"
	"go.uber.org/zap"
)

// Operation is the single logical operation run on a node connection. The
// connection must not be retained after the operation returns.
type Operation func(ctx context.Context, conn store.Connection) error

// Config bounds how long a node may take to answer
type Config struct {
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// Connector opens a direct connection to one node per operation and always
// closes it afterwards. It never retries and never routes to another node.
type Connector struct {
	store   store.ReplicatedStore
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewConnector creates a connector over the given store driver. metrics may be nil.
func NewConnector(s store.ReplicatedStore, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Connector {
	return &Connector{
		store:   s,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// WithNode connects to address, runs op and closes the connection. Failures
// are returned as *errors.NodeError: CONNECTION_FAILED when the node could not
// be reached or did not answer in time, OPERATION_FAILED otherwise.
func (c *Connector) WithNode(ctx context.Context, address, opName string, op Operation) (err error) {
	start := time.Now()
	ctx, end := tracing.StartNodeSpan(ctx, opName, address)
	defer func() {
		end(err)
		c.observe(address, opName, err, time.Since(start))
	}()

	connectCtx, cancel := c.withTimeout(ctx, c.cfg.ConnectTimeout)
	conn, err := c.store.Connect(connectCtx, address)
	cancel()
	if err != nil {
		c.logger.Debug("Failed to connect to node",
			zap.String("node", address),
			zap.Error(err))
		return apierrors.ConnectionFailed(address, err)
	}
	defer func() {
		closeCtx, cancel := c.withTimeout(context.Background(), c.cfg.ConnectTimeout)
		defer cancel()
		if cerr := conn.Close(closeCtx); cerr != nil {
			c.logger.Warn("Failed to close node connection",
				zap.String("node", address),
				zap.Error(cerr))
		}
	}()

	if err := op(ctx, &timedConnection{Connection: conn, timeout: c.cfg.OperationTimeout, wrap: c.withTimeout}); err != nil {
		return apierrors.Classify(address, opName, err)
	}
	return nil
}

func (c *Connector) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (c *Connector) observe(address, op string, err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apierrors.CodeOf(err))
	}
	c.metrics.RecordNodeOperation(address, op, outcome, d)
}

// timedConnection bounds every call on the wrapped connection by timeout
type timedConnection struct {
	store.Connection
	timeout time.Duration
	wrap    func(context.Context, time.Duration) (context.Context, context.CancelFunc)
}

func (t *timedConnection) InsertOne(ctx context.Context, record model.Record) error {
	ctx, cancel := t.wrap(ctx, t.timeout)
	defer cancel()
	return t.Connection.InsertOne(ctx, record)
}

func (t *timedConnection) InsertMany(ctx context.Context, records []model.Record) error {
	ctx, cancel := t.wrap(ctx, t.timeout)
	defer cancel()
	return t.Connection.InsertMany(ctx, records)
}

func (t *timedConnection) FindRecent(ctx context.Context, limit int) ([]model.Record, error) {
	ctx, cancel := t.wrap(ctx, t.timeout)
	defer cancel()
	return t.Connection.FindRecent(ctx, limit)
}

func (t *timedConnection) FindByField(ctx context.Context, key, value string, limit int) ([]model.Record, error) {
	ctx, cancel := t.wrap(ctx, t.timeout)
	defer cancel()
	return t.Connection.FindByField(ctx, key, value, limit)
}

func (t *timedConnection) RoleQuery(ctx context.Context) (model.Role, error) {
	ctx, cancel := t.wrap(ctx, t.timeout)
	defer cancel()
	return t.Connection.RoleQuery(ctx)
}

func (t *timedConnection) ReplicaSetStatus(ctx context.Context) (map[string]interface{}, error) {
	ctx, cancel := t.wrap(ctx, t.timeout)
	defer cancel()
	return t.Connection.ReplicaSetStatus(ctx)
}

// Close is owned by the connector
func (t *timedConnection) Close(context.Context) error {
	return nil
}
