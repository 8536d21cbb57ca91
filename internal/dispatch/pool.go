package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/asrrelay/internal/metrics"
)

// Task is a unit of work executed by a Pool. The context is cancelled when
// the pool is forced down.
type Task func(ctx context.Context)

// PoolConfig sizes a worker pool.
type PoolConfig struct {
	CoreWorkers int
	MaxWorkers  int
	KeepAlive   time.Duration
	QueueSize   int
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Workers int `json:"workers"`
	Active  int `json:"active"`
	Queued  int `json:"queued"`
}

// Pool runs tasks on a bounded set of goroutines with a bounded queue.
//
// CoreWorkers goroutines live for the lifetime of the pool. When the queue is
// full, burst workers are started up to MaxWorkers; a burst worker exits after
// KeepAlive without work. When the queue is full and no burst worker can be
// started, Submit fails with ErrQueueSaturated instead of blocking.
type Pool struct {
	name  string
	cfg   PoolConfig
	queue chan Task

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	live   int
	closed bool
	wg     sync.WaitGroup

	active atomic.Int64
	log    *slog.Logger
}

// NewPool creates a pool and starts its core workers.
func NewPool(name string, cfg PoolConfig) *Pool {
	if cfg.CoreWorkers < 1 {
		cfg.CoreWorkers = 1
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		cfg.MaxWorkers = cfg.CoreWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		cfg:    cfg,
		queue:  make(chan Task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		log:    slog.Default().With("component", "pool", "pool", name),
	}

	p.mu.Lock()
	for i := 0; i < cfg.CoreWorkers; i++ {
		p.spawn(nil, false)
	}
	p.mu.Unlock()

	return p
}

// Submit enqueues task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("%s pool: %w", p.name, ErrShuttingDown)
	}

	select {
	case p.queue <- task:
		metrics.PoolQueueDepth.WithLabelValues(p.name).Set(float64(len(p.queue)))
		return nil
	default:
	}

	if p.live < p.cfg.MaxWorkers {
		p.spawn(task, true)
		return nil
	}

	metrics.PoolRejections.WithLabelValues(p.name).Inc()
	return fmt.Errorf("%s pool: %w", p.name, ErrQueueSaturated)
}

// Stats returns current worker, active and queued counts.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	live := p.live
	p.mu.Unlock()
	return PoolStats{
		Workers: live,
		Active:  int(p.active.Load()),
		Queued:  len(p.queue),
	}
}

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish. If ctx ends first, running tasks are interrupted through their
// context and Shutdown waits for them to return before reporting ctx.Err().
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info("pool drained")
		return nil
	case <-ctx.Done():
		p.log.Warn("shutdown deadline reached, interrupting running tasks")
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// spawn must be called with p.mu held.
func (p *Pool) spawn(first Task, burst bool) {
	p.live++
	p.wg.Add(1)
	metrics.PoolWorkers.WithLabelValues(p.name).Set(float64(p.live))
	go p.work(first, burst)
}

func (p *Pool) work(task Task, burst bool) {
	defer p.wg.Done()
	defer p.exit()

	if task != nil {
		p.run(task)
	}

	for {
		if !burst {
			task, ok := <-p.queue
			if !ok {
				return
			}
			p.run(task)
			continue
		}

		idle := time.NewTimer(p.cfg.KeepAlive)
		select {
		case task, ok := <-p.queue:
			idle.Stop()
			if !ok {
				return
			}
			p.run(task)
		case <-idle.C:
			return
		}
	}
}

func (p *Pool) exit() {
	p.mu.Lock()
	p.live--
	metrics.PoolWorkers.WithLabelValues(p.name).Set(float64(p.live))
	p.mu.Unlock()
}

func (p *Pool) run(task Task) {
	p.active.Add(1)
	metrics.PoolActive.WithLabelValues(p.name).Inc()
	metrics.PoolQueueDepth.WithLabelValues(p.name).Set(float64(len(p.queue)))
	defer func() {
		p.active.Add(-1)
		metrics.PoolActive.WithLabelValues(p.name).Dec()
		if r := recover(); r != nil {
			metrics.Panics.WithLabelValues("pool_" + p.name).Inc()
			p.log.Error("panic in pool task", "error", r, "stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
}
