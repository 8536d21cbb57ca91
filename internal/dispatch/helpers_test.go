package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

// --- stubs ---

var errCallbackDown = errors.New("callback target returned 500")

type stubAudio struct {
	err     error
	started chan struct{}
	release chan struct{}
}

func (s *stubAudio) Fetch(ctx context.Context, location string) (models.LocalAudio, error) {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return models.LocalAudio{}, ctx.Err()
		}
	}
	if s.err != nil {
		return models.LocalAudio{}, s.err
	}
	return models.LocalAudio{Name: path.Base(location), Source: location}, nil
}

type stubStorage struct {
	err error
}

func (s *stubStorage) UploadAndShare(_ context.Context, audio models.LocalAudio) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "http://share.local/" + audio.Name, nil
}

type delivery struct {
	Target  string
	Payload models.CallbackPayload
	At      time.Time
}

// recordingSender fails the first `failures` deliveries, then succeeds.
type recordingSender struct {
	failures int
	delay    time.Duration

	mu        sync.Mutex
	calls     []delivery
	active    atomic.Int32
	maxActive atomic.Int32
}

func newFlakySender(failures int) *recordingSender {
	return &recordingSender{failures: failures}
}

func newBrokenSender() *recordingSender {
	return &recordingSender{failures: int(^uint(0) >> 1)}
}

func (s *recordingSender) Post(_ context.Context, target string, payload models.CallbackPayload) error {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, delivery{Target: target, Payload: payload, At: time.Now()})
	if len(s.calls) <= s.failures {
		return errCallbackDown
	}
	return nil
}

func (s *recordingSender) deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.calls...)
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type memoryStatuses struct {
	mu      sync.Mutex
	history map[string][]string
}

func newMemoryStatuses() *memoryStatuses {
	return &memoryStatuses{history: make(map[string][]string)}
}

func (m *memoryStatuses) RecordJobStatus(_ context.Context, jobID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[jobID] = append(m.history[jobID], status)
	return nil
}

func (m *memoryStatuses) of(jobID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history[jobID]...)
}

// --- helpers ---

func testConfig() Config {
	return Config{
		SubmitPool:    PoolConfig{CoreWorkers: 2, MaxWorkers: 2, KeepAlive: time.Second, QueueSize: 4},
		CallbackPool:  PoolConfig{CoreWorkers: 2, MaxWorkers: 2, KeepAlive: time.Second, QueueSize: 4},
		PollInterval:  10 * time.Millisecond,
		RetryBudget:   2,
		RetryInterval: 30 * time.Millisecond,
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, deps Dependencies) *Orchestrator {
	t.Helper()
	o, err := New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func newTestStage(pool *Pool, engine models.Engine, sender models.CallbackSender, budget int) *callbackStage {
	return &callbackStage{
		pool:         pool,
		engine:       engine,
		sender:       sender,
		registry:     NewRetryRegistry(),
		pollInterval: 10 * time.Millisecond,
		retryBudget:  budget,
		log:          slog.Default(),
	}
}

func newTestUnit(stage *callbackStage, jobID string) *callbackUnit {
	return &callbackUnit{
		stage:  stage,
		handle: models.JobHandle{JobID: jobID, AudioURL: "http://host/a.mp3", CallbackURL: "http://host/cb"},
		log:    slog.Default().With("job_id", jobID),
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for signal %d of %d", i+1, n)
		}
	}
}

func waitFuture(t *testing.T, f *Future) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.Wait(ctx)
}
