package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/asrrelay/internal/metrics"
)

const minRetryTick = 10 * time.Millisecond

// RetryScheduler periodically resubmits failed deliveries whose retry
// interval has elapsed. It ticks at a third of the retry interval.
type RetryScheduler struct {
	registry *RetryRegistry
	pool     *Pool
	interval time.Duration
	tick     time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	log       *slog.Logger
}

// NewRetryScheduler creates a scheduler that resubmits into pool.
func NewRetryScheduler(registry *RetryRegistry, pool *Pool, interval time.Duration) *RetryScheduler {
	tick := interval / 3
	if tick < minRetryTick {
		tick = minRetryTick
	}
	return &RetryScheduler{
		registry: registry,
		pool:     pool,
		interval: interval,
		tick:     tick,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		log:      slog.Default().With("component", "retry-scheduler"),
	}
}

// Start launches the ticker goroutine. Calling Start twice is a no-op.
func (s *RetryScheduler) Start() {
	s.startOnce.Do(func() {
		go s.loop()
	})
}

// Stop halts the ticker and waits for an in-progress scan to finish.
func (s *RetryScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		// Stop before Start: mark the loop as never running.
		s.startOnce.Do(func() { close(s.done) })
	})
	<-s.done
}

func (s *RetryScheduler) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.log.Info("retry scheduler started", "interval", s.interval, "tick", s.tick)
	for {
		select {
		case <-s.stop:
			s.log.Info("retry scheduler stopped")
			return
		case now := <-ticker.C:
			s.scan(now)
		}
	}
}

// scan resubmits every due entry and returns how many were accepted.
func (s *RetryScheduler) scan(now time.Time) int {
	resubmitted := 0
	for _, u := range s.registry.ClaimDue(now, s.interval) {
		jobID := u.handle.JobID
		if err := s.pool.Submit(u.retry); err != nil {
			s.log.Error("resubmit callback failed", "job_id", jobID, "error", err)
			s.registry.Release(jobID, time.Now())
			metrics.Retries.WithLabelValues("rejected").Inc()
			continue
		}
		s.log.Info("callback resubmitted", "job_id", jobID)
		metrics.Retries.WithLabelValues("resubmitted").Inc()
		resubmitted++
	}
	return resubmitted
}
