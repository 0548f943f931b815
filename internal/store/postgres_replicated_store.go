package store

import (
	"context"
	"fmt"
	"net/url"

	"github.com/devrev/replicawatch/internal/model"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PostgresOptions configures the PostgreSQL adapter
type PostgresOptions struct {
	Database string
	Table    string
	User     string
	Password string
	SSLMode  string
}

// PostgresReplicatedStore observes a streaming-replication cluster by opening
// a plain connection to each member. The table is expected to exist with
// columns (id text primary key, host text, ts timestamptz, fields jsonb).
type PostgresReplicatedStore struct {
	opts   PostgresOptions
	logger *zap.Logger
}

// NewPostgresReplicatedStore creates a PostgreSQL adapter
func NewPostgresReplicatedStore(opts PostgresOptions, logger *zap.Logger) *PostgresReplicatedStore {
	if opts.SSLMode == "" {
		opts.SSLMode = "disable"
	}
	return &PostgresReplicatedStore{opts: opts, logger: logger}
}

// ConnString returns the connection string used for address
func (s *PostgresReplicatedStore) ConnString(address string) string {
	u := &url.URL{
		Scheme:   "postgres",
		Host:     address,
		Path:     "/" + s.opts.Database,
		RawQuery: url.Values{"sslmode": []string{s.opts.SSLMode}}.Encode(),
	}
	if s.opts.User != "" {
		u.User = url.UserPassword(s.opts.User, s.opts.Password)
	}
	return u.String()
}

// Connect implements ReplicatedStore
func (s *PostgresReplicatedStore) Connect(ctx context.Context, address string) (Connection, error) {
	conn, err := pgx.Connect(ctx, s.ConnString(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	s.logger.Debug("Connected to postgres member", zap.String("node", address))

	return &postgresConnection{
		conn:  conn,
		table: pgx.Identifier{s.opts.Table}.Sanitize(),
		ident: pgx.Identifier{s.opts.Table},
	}, nil
}

type postgresConnection struct {
	conn  *pgx.Conn
	table string
	ident pgx.Identifier
}

func (c *postgresConnection) InsertOne(ctx context.Context, record model.Record) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, host, ts, fields) VALUES ($1, $2, $3, $4)`, c.table)
	_, err := c.conn.Exec(ctx, query, record.ID, record.Host, record.Timestamp, record.Fields)
	return err
}

func (c *postgresConnection) InsertMany(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := c.conn.CopyFrom(ctx, c.ident,
		[]string{"id", "host", "ts", "fields"},
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{r.ID, r.Host, r.Timestamp, r.Fields}, nil
		}),
	)
	return err
}

func (c *postgresConnection) FindRecent(ctx context.Context, limit int) ([]model.Record, error) {
	query := fmt.Sprintf(`SELECT id, host, ts, fields FROM %s ORDER BY ts DESC LIMIT $1`, c.table)
	return c.query(ctx, query, limit)
}

func (c *postgresConnection) FindByField(ctx context.Context, key, value string, limit int) ([]model.Record, error) {
	var query string
	switch key {
	case model.FieldID, "id":
		query = fmt.Sprintf(`SELECT id, host, ts, fields FROM %s WHERE id = $1 LIMIT $2`, c.table)
	case model.FieldHost:
		query = fmt.Sprintf(`SELECT id, host, ts, fields FROM %s WHERE host = $1 LIMIT $2`, c.table)
	default:
		query = fmt.Sprintf(`SELECT id, host, ts, fields FROM %s WHERE fields->>$3 = $1 LIMIT $2`, c.table)
		return c.query(ctx, query, value, limit, key)
	}
	return c.query(ctx, query, value, limit)
}

func (c *postgresConnection) query(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Record, error) {
		var r model.Record
		err := row.Scan(&r.ID, &r.Host, &r.Timestamp, &r.Fields)
		r.Timestamp = r.Timestamp.UTC()
		return r, err
	})
}

func (c *postgresConnection) RoleQuery(ctx context.Context) (model.Role, error) {
	var inRecovery bool
	if err := c.conn.QueryRow(ctx, `SELECT pg_is_in_recovery()`).Scan(&inRecovery); err != nil {
		return model.RoleUnknown, err
	}
	if inRecovery {
		return model.RoleSecondary, nil
	}
	return model.RolePrimary, nil
}

func (c *postgresConnection) ReplicaSetStatus(ctx context.Context) (map[string]interface{}, error) {
	var inRecovery bool
	if err := c.conn.QueryRow(ctx, `SELECT pg_is_in_recovery()`).Scan(&inRecovery); err != nil {
		return nil, err
	}

	rows, err := c.conn.Query(ctx, `
		SELECT application_name, client_addr::text AS client_addr, state, sync_state,
		       sent_lsn::text AS sent_lsn, replay_lsn::text AS replay_lsn,
		       write_lag::text AS write_lag, flush_lag::text AS flush_lag, replay_lag::text AS replay_lag
		FROM pg_stat_replication
	`)
	if err != nil {
		return nil, err
	}
	members, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"in_recovery": inRecovery,
		"members":     members,
		"ok":          1,
	}, nil
}

func (c *postgresConnection) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
