package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devrev/replicawatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNodes = []string{"mongo1:27017", "mongo2:27017", "mongo3:27017"}

func newTestCluster(lag time.Duration) (*MemoryReplicatedStore, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryReplicatedStore("rs0", testNodes, lag)
	s.SetClock(func() time.Time { return now })
	return s, &now
}

func TestMemoryReplicatedStore_ReplicationLag(t *testing.T) {
	s, now := newTestCluster(2 * time.Second)
	ctx := context.Background()

	primary, err := s.Connect(ctx, testNodes[0])
	require.NoError(t, err)
	defer primary.Close(ctx)
	require.NoError(t, primary.InsertOne(ctx, model.NewMessageRecord("r1", "hello", "h", *now)))

	secondary, err := s.Connect(ctx, testNodes[2])
	require.NoError(t, err)
	defer secondary.Close(ctx)

	recs, err := primary.FindRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = secondary.FindRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recs, "second secondary lags 4s behind")

	*now = now.Add(4 * time.Second)
	recs, err = secondary.FindRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMemoryReplicatedStore_FindRecentNewestFirst(t *testing.T) {
	s, now := newTestCluster(0)
	ctx := context.Background()

	conn, err := s.Connect(ctx, testNodes[0])
	require.NoError(t, err)
	defer conn.Close(ctx)

	for i, msg := range []string{"a", "b", "c"} {
		ts := now.Add(time.Duration(i) * time.Second)
		require.NoError(t, conn.InsertOne(ctx, model.NewMessageRecord(msg, msg, "h", ts)))
	}

	recs, err := conn.FindRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
}

func TestMemoryReplicatedStore_WritesRejectedOnSecondary(t *testing.T) {
	s, now := newTestCluster(0)
	ctx := context.Background()

	conn, err := s.Connect(ctx, testNodes[1])
	require.NoError(t, err)
	defer conn.Close(ctx)

	err = conn.InsertOne(ctx, model.NewMessageRecord("x", "x", "h", *now))
	assert.ErrorIs(t, err, ErrNotWritablePrimary)
}

func TestMemoryReplicatedStore_RolesAndFailures(t *testing.T) {
	s, _ := newTestCluster(0)
	ctx := context.Background()

	conn, err := s.Connect(ctx, testNodes[0])
	require.NoError(t, err)
	role, err := conn.RoleQuery(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RolePrimary, role)
	require.NoError(t, conn.Close(ctx))

	s.SetRoleError(testNodes[1], errors.New("not authorized"))
	conn, err = s.Connect(ctx, testNodes[1])
	require.NoError(t, err)
	role, err = conn.RoleQuery(ctx)
	assert.Error(t, err)
	assert.Equal(t, model.RoleUnknown, role)
	require.NoError(t, conn.Close(ctx))

	s.SetDown(testNodes[2], true)
	_, err = s.Connect(ctx, testNodes[2])
	assert.Error(t, err)

	connects, closes := s.ConnectionStats()
	assert.Equal(t, 2, connects)
	assert.Equal(t, 2, closes)
}

func TestMemoryReplicatedStore_WriteErrorAfterCalls(t *testing.T) {
	s, now := newTestCluster(0)
	ctx := context.Background()
	s.SetWriteError(testNodes[0], 1, errors.New("disk full"))

	conn, err := s.Connect(ctx, testNodes[0])
	require.NoError(t, err)
	defer conn.Close(ctx)

	require.NoError(t, conn.InsertMany(ctx, []model.Record{
		model.NewMessageRecord("1", "a", "h", *now),
		model.NewMessageRecord("2", "b", "h", *now),
	}))
	err = conn.InsertOne(ctx, model.NewMessageRecord("3", "c", "h", *now))
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 2, s.Len())
}

func TestMemoryReplicatedStore_ConnectDelayHonoursContext(t *testing.T) {
	s, _ := newTestCluster(0)
	s.SetConnectDelay(testNodes[1], time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Connect(ctx, testNodes[1])
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryReplicatedStore_ReplicaSetStatus(t *testing.T) {
	s, _ := newTestCluster(time.Second)
	ctx := context.Background()

	conn, err := s.Connect(ctx, testNodes[0])
	require.NoError(t, err)
	defer conn.Close(ctx)

	status, err := conn.ReplicaSetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rs0", status["set"])
	members, ok := status["members"].([]interface{})
	require.True(t, ok)
	assert.Len(t, members, 3)
}
