package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_RunsTasks(t *testing.T) {
	p := New(Config{Name: "test", MaxWorkers: 2, QueueSize: 10, Logger: zap.NewNop()})

	var ran int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(Task{ID: "t", Fn: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}}))
	}
	require.NoError(t, p.Submit(Task{ID: "fails", Fn: func(ctx context.Context) error {
		return errors.New("boom")
	}}))
	require.NoError(t, p.Submit(Task{ID: "panics", Fn: func(ctx context.Context) error {
		panic("oops")
	}}))

	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
	stats := p.Stats()
	assert.Equal(t, uint64(7), stats.Submitted)
	assert.Equal(t, uint64(5), stats.Completed)
	assert.Equal(t, uint64(2), stats.Failed)
}

func TestPool_RejectsWhenFull(t *testing.T) {
	p := New(Config{Name: "full", MaxWorkers: 1, QueueSize: 1, Logger: zap.NewNop()})
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, p.Submit(Task{ID: "blocker", Fn: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	require.NoError(t, p.Submit(Task{ID: "queued", Fn: func(ctx context.Context) error { return nil }}))

	err := p.Submit(Task{ID: "overflow", Fn: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.NoError(t, p.Stop(context.Background()))
	assert.ErrorIs(t, p.Submit(Task{ID: "late"}), ErrStopped)
	assert.Equal(t, uint64(2), p.Stats().Rejected)
}

func TestPool_StopTimeoutCancelsTasks(t *testing.T) {
	p := New(Config{Name: "slow", MaxWorkers: 1, QueueSize: 1, Logger: zap.NewNop()})
	cancelled := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, p.Submit(Task{ID: "slow", Fn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running task was not cancelled")
	}
}
