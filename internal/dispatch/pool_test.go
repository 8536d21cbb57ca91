package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shutdownPool(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestPool_AcceptsUpToWorkersPlusQueue(t *testing.T) {
	p := NewPool("test", PoolConfig{CoreWorkers: 2, MaxWorkers: 2, KeepAlive: time.Second, QueueSize: 3})

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	blocking := func(context.Context) {
		started <- struct{}{}
		<-release
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Submit(blocking))
	}
	waitFor(t, started, 2)

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(func(context.Context) { ran.Add(1) }), "queued task %d", i)
	}

	err := p.Submit(func(context.Context) { ran.Add(1) })
	require.ErrorIs(t, err, ErrQueueSaturated)

	stats := p.Stats()
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 3, stats.Queued)

	close(release)
	shutdownPool(t, p)
	assert.Equal(t, int32(3), ran.Load(), "rejected task must never run")
}

func TestPool_BurstWorkersUpToMax(t *testing.T) {
	p := NewPool("test", PoolConfig{CoreWorkers: 1, MaxWorkers: 2, KeepAlive: 20 * time.Millisecond, QueueSize: 1})

	started := make(chan struct{}, 3)
	release := make(chan struct{})
	blocking := func(context.Context) {
		started <- struct{}{}
		<-release
	}

	require.NoError(t, p.Submit(blocking))
	waitFor(t, started, 1)

	require.NoError(t, p.Submit(blocking)) // queued
	require.NoError(t, p.Submit(blocking)) // burst worker
	waitFor(t, started, 1)
	assert.Equal(t, 2, p.Stats().Workers)

	require.ErrorIs(t, p.Submit(blocking), ErrQueueSaturated)

	close(release)
	waitFor(t, started, 1)

	assert.Eventually(t, func() bool {
		return p.Stats().Workers == 1
	}, time.Second, 5*time.Millisecond, "burst worker should exit after keep-alive")

	shutdownPool(t, p)
}

func TestPool_ShutdownDrainsQueue(t *testing.T) {
	p := NewPool("test", PoolConfig{CoreWorkers: 1, MaxWorkers: 1, KeepAlive: time.Second, QueueSize: 10})

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func(context.Context) {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		}))
	}

	shutdownPool(t, p)
	assert.Equal(t, int32(10), ran.Load())
	assert.Equal(t, 0, p.Stats().Workers)
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	p := NewPool("test", PoolConfig{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	shutdownPool(t, p)

	err := p.Submit(func(context.Context) {})
	require.ErrorIs(t, err, ErrShuttingDown)

	// Second shutdown is a no-op.
	shutdownPool(t, p)
}

func TestPool_ShutdownDeadlineInterruptsTasks(t *testing.T) {
	p := NewPool("test", PoolConfig{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 1})

	started := make(chan struct{}, 1)
	interrupted := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		started <- struct{}{}
		<-ctx.Done()
		close(interrupted)
	}))
	waitFor(t, started, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-interrupted:
	default:
		t.Fatal("running task was not interrupted")
	}
}

func TestPool_RecoversFromPanic(t *testing.T) {
	p := NewPool("test", PoolConfig{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 2})

	done := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
	shutdownPool(t, p)
}

func TestNewPool_NormalizesConfig(t *testing.T) {
	p := NewPool("test", PoolConfig{CoreWorkers: 0, MaxWorkers: 0, QueueSize: -5})
	defer shutdownPool(t, p)

	assert.Equal(t, 1, p.cfg.CoreWorkers)
	assert.Equal(t, 1, p.cfg.MaxWorkers)
	assert.Equal(t, 0, p.cfg.QueueSize)
}
