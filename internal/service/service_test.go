package service

import (
	"context"
	"errors"
	"testing"
	"time"

	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/metrics"
	"github.com/devrev/replicawatch/internal/model"
	"github.com/devrev/replicawatch/internal/node"
	"github.com/devrev/replicawatch/internal/progress"
	"github.com/devrev/replicawatch/internal/store"
	"github.com/devrev/replicawatch/internal/util/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNodes = []string{"mongo1:27017", "mongo2:27017", "mongo3:27017"}

type fixture struct {
	store    *store.MemoryReplicatedStore
	mirror   *store.MirrorStore
	jobs     *store.MemoryJobStore
	registry *node.Registry
	write    *WriteService
	status   *StatusService
	search   *SearchService
	bulk     *BulkLoadService
}

func newFixture(t *testing.T, lag time.Duration, cfg BulkLoadConfig, pool *workerpool.Pool) *fixture {
	t.Helper()
	logger := zap.NewNop()
	m := metrics.NewMetrics()

	mem := store.NewMemoryReplicatedStore("rs0", testNodes, lag)
	registry, err := node.NewRegistry(testNodes)
	require.NoError(t, err)
	connector := node.NewConnector(mem, node.Config{ConnectTimeout: time.Second, OperationTimeout: time.Second}, m, logger)
	mirror := store.NewMirrorStore()
	jobs := store.NewMemoryJobStore(time.Hour, logger)

	return &fixture{
		store:    mem,
		mirror:   mirror,
		jobs:     jobs,
		registry: registry,
		write:    NewWriteService(connector, registry, mirror, m, logger),
		status:   NewStatusService(connector, registry, logger),
		search:   NewSearchService(connector, registry, mirror, m, logger),
		bulk:     NewBulkLoadService(connector, registry, mirror, jobs, pool, m, cfg, logger),
	}
}

func drain(ch *progress.Channel) []model.Progress {
	var events []model.Progress
	for ev := range ch.Events() {
		events = append(events, ev)
	}
	return events
}

func TestWriteService_Write(t *testing.T) {
	f := newFixture(t, 0, BulkLoadConfig{}, nil)
	ctx := context.Background()

	t.Run("writes to primary and mirrors", func(t *testing.T) {
		res, err := f.write.Write(ctx, "hello", true)
		require.NoError(t, err)
		assert.Equal(t, "mongo1:27017", res.Node)
		assert.True(t, res.Mirrored)
		assert.NotEmpty(t, res.Record.ID)
		assert.NotEmpty(t, res.Record.Host)
		assert.False(t, res.Record.Timestamp.IsZero())
		assert.Equal(t, 1, f.store.Len())
		assert.Equal(t, 1, f.mirror.Len())
	})

	t.Run("without mirror", func(t *testing.T) {
		_, err := f.write.Write(ctx, "quiet", false)
		require.NoError(t, err)
		assert.Equal(t, 2, f.store.Len())
		assert.Equal(t, 1, f.mirror.Len())
	})

	t.Run("empty message is client input", func(t *testing.T) {
		_, err := f.write.Write(ctx, "  ", true)
		assert.True(t, apierrors.IsClientInput(err))
	})

	t.Run("failed write is not mirrored", func(t *testing.T) {
		f.store.SetWriteError(testNodes[0], 0, errors.New("disk full"))
		defer f.store.SetWriteError(testNodes[0], 0, nil)

		_, err := f.write.Write(ctx, "lost", true)
		assert.Equal(t, apierrors.ErrorCodeOperationFailed, apierrors.CodeOf(err))
		assert.Equal(t, 1, f.mirror.Len())
	})
}

func TestHelloScenario(t *testing.T) {
	f := newFixture(t, 0, BulkLoadConfig{}, nil)
	ctx := context.Background()

	_, err := f.write.Write(ctx, "hello", true)
	require.NoError(t, err)

	fromStore, err := f.search.SearchStore(ctx, model.FieldMessage, "hello")
	require.NoError(t, err)
	assert.Equal(t, model.SourceStore, fromStore.Source)
	require.GreaterOrEqual(t, fromStore.Count, 1)
	v, _ := fromStore.Matches[0].Field(model.FieldMessage)
	assert.Equal(t, "hello", v)

	fromMirror, err := f.search.SearchMirror(ctx, model.FieldMessage, "hello")
	require.NoError(t, err)
	assert.Equal(t, model.SourceMirror, fromMirror.Source)
	require.GreaterOrEqual(t, fromMirror.Count, 1)
	v, _ = fromMirror.Matches[0].Field(model.FieldMessage)
	assert.Equal(t, "hello", v)
}

func TestSearch_MirrorMatchesStore(t *testing.T) {
	f := newFixture(t, 0, BulkLoadConfig{}, nil)
	ctx := context.Background()

	const k = 7
	for i := 0; i < k; i++ {
		_, err := f.write.Write(ctx, "same", true)
		require.NoError(t, err)
	}
	_, err := f.write.Write(ctx, "same", false)
	require.NoError(t, err)

	assert.Equal(t, k, f.mirror.Len())

	fromMirror, err := f.search.SearchMirror(ctx, model.FieldMessage, "same")
	require.NoError(t, err)
	require.Len(t, fromMirror.Matches, k)

	for _, rec := range fromMirror.Matches {
		byID, err := f.search.SearchStore(ctx, model.FieldID, rec.ID)
		require.NoError(t, err)
		require.Len(t, byID.Matches, 1)
		assert.True(t, rec.Equal(byID.Matches[0]), "mirror record %s differs from store", rec.ID)
	}
}

func TestSearch_MissingInputIssuesNoStoreCall(t *testing.T) {
	f := newFixture(t, 0, BulkLoadConfig{}, nil)
	ctx := context.Background()

	_, err := f.search.SearchStore(ctx, model.FieldMessage, "")
	assert.True(t, apierrors.IsClientInput(err))
	_, err = f.search.SearchStore(ctx, "", "hello")
	assert.True(t, apierrors.IsClientInput(err))
	_, err = f.search.SearchMirror(ctx, model.FieldMessage, "")
	assert.True(t, apierrors.IsClientInput(err))

	connects, _ := f.store.ConnectionStats()
	assert.Equal(t, 0, connects)
}

func TestWriteService_TimestampMillisecondPrecision(t *testing.T) {
	f := newFixture(t, 0, BulkLoadConfig{}, nil)
	f.write.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 123456789, time.FixedZone("X", 3600)) }

	res, err := f.write.Write(context.Background(), "hello", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 30, 0, 123000000, time.UTC), res.Record.Timestamp)
	assert.Equal(t, time.UTC, res.Record.Timestamp.Location())

	mirrored := f.mirror.Find(model.FieldID, res.Record.ID, 1)
	require.Len(t, mirrored, 1)
	assert.True(t, mirrored[0].Timestamp.Equal(res.Record.Timestamp))
}

func TestSearch_TimestampKeyRejected(t *testing.T) {
	f := newFixture(t, 0, BulkLoadConfig{}, nil)
	ctx := context.Background()

	res, err := f.write.Write(ctx, "stamped", true)
	require.NoError(t, err)
	ts := res.Record.Timestamp.Format(time.RFC3339Nano)

	_, err = f.search.SearchStore(ctx, model.FieldTimestamp, ts)
	assert.True(t, apierrors.IsClientInput(err))
	_, err = f.search.SearchMirror(ctx, model.FieldTimestamp, ts)
	assert.True(t, apierrors.IsClientInput(err))

	connects, _ := f.store.ConnectionStats()
	assert.Equal(t, 1, connects, "only the write reached the store")
}

func TestSearch_CapsResults(t *testing.T) {
	f := newFixture(t, 0, BulkLoadConfig{BatchSize: 10}, nil)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_, err := f.write.Write(ctx, "many", true)
		require.NoError(t, err)
	}

	fromStore, err := f.search.SearchStore(ctx, model.FieldMessage, "many")
	require.NoError(t, err)
	assert.Len(t, fromStore.Matches, model.SearchLimit)

	fromMirror, err := f.search.SearchMirror(ctx, model.FieldMessage, "many")
	require.NoError(t, err)
	assert.Len(t, fromMirror.Matches, model.SearchLimit)
}

func TestStatusService_GetStatus(t *testing.T) {
	f := newFixture(t, time.Hour, BulkLoadConfig{}, nil)
	ctx := context.Background()

	for _, msg := range []string{"a", "b", "c"} {
		_, err := f.write.Write(ctx, msg, false)
		require.NoError(t, err)
	}

	t.Run("primary sees its writes newest first", func(t *testing.T) {
		st := f.status.GetStatus(ctx, testNodes[0])
		assert.True(t, st.OK())
		assert.Equal(t, model.RolePrimary, st.Role)
		require.Len(t, st.Records, 3)
		assert.False(t, st.Records[0].Timestamp.Before(st.Records[2].Timestamp))
		assert.False(t, st.AsOf.IsZero())
	})

	t.Run("lagging secondary is stale", func(t *testing.T) {
		st := f.status.GetStatus(ctx, testNodes[1])
		assert.True(t, st.OK())
		assert.Equal(t, model.RoleSecondary, st.Role)
		assert.Empty(t, st.Records)
	})

	t.Run("role failure keeps data", func(t *testing.T) {
		f.store.SetRoleError(testNodes[0], errors.New("not authorized on admin"))
		defer f.store.SetRoleError(testNodes[0], nil)

		st := f.status.GetStatus(ctx, testNodes[0])
		assert.True(t, st.Partial())
		assert.Equal(t, model.RoleUnknown, st.Role)
		assert.Len(t, st.Records, 3)
		assert.Equal(t, "not authorized on admin", st.RoleError)
		assert.Equal(t, string(apierrors.ErrorCodePartialStatus), st.ErrorCode)
	})

	t.Run("data failure yields error snapshot", func(t *testing.T) {
		f.store.SetReadError(testNodes[2], errors.New("cursor killed"))
		defer f.store.SetReadError(testNodes[2], nil)

		st := f.status.GetStatus(ctx, testNodes[2])
		assert.False(t, st.OK())
		assert.Equal(t, testNodes[2], st.Node)
		assert.Equal(t, "cursor killed", st.Error)
		assert.Equal(t, string(apierrors.ErrorCodeOperationFailed), st.ErrorCode)
		assert.Empty(t, st.Records)
	})
}

func TestStatusService_GetAll_IsolatesUnreachableNode(t *testing.T) {
	f := newFixture(t, 0, BulkLoadConfig{}, nil)
	ctx := context.Background()
	_, err := f.write.Write(ctx, "hello", false)
	require.NoError(t, err)

	f.store.SetDown(testNodes[1], true)
	f.store.SetConnectDelay(testNodes[2], 10*time.Millisecond)

	round := f.status.GetAll(ctx)
	require.Len(t, round.Nodes, 3)

	assert.Equal(t, testNodes[0], round.Nodes[0].Node)
	assert.True(t, round.Nodes[0].OK())
	assert.Len(t, round.Nodes[0].Records, 1)

	down := round.Nodes[1]
	assert.Equal(t, testNodes[1], down.Node)
	assert.False(t, down.OK())
	assert.Contains(t, down.Error, testNodes[1])
	assert.Equal(t, string(apierrors.ErrorCodeConnectionFailed), down.ErrorCode)

	assert.True(t, round.Nodes[2].OK())
	assert.Len(t, round.Nodes[2].Records, 1)
}

func TestStatusService_ReplicaSetStatus(t *testing.T) {
	f := newFixture(t, 0, BulkLoadConfig{}, nil)

	status, err := f.status.ReplicaSetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rs0", status["set"])

	role, err := f.status.CheckPrimary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RolePrimary, role)

	f.store.SetDown(testNodes[0], true)
	_, err = f.status.ReplicaSetStatus(context.Background())
	assert.Equal(t, apierrors.ErrorCodeConnectionFailed, apierrors.CodeOf(err))
}
