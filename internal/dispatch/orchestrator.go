// Package dispatch runs the transcription job lifecycle: submission to the
// recognition engine, polling to completion, callback delivery and retry of
// failed deliveries.
//
// Two bounded pools do the work. The submission pool acquires audio, uploads
// it and submits the job; every accepted job then gets a callback unit on the
// callback pool, which polls until the job is terminal and posts the result.
// A failed delivery is registered in the RetryRegistry, and the RetryScheduler
// resubmits it once the retry interval has passed, until it succeeds or the
// retry budget is spent. Retry state lives in memory only.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

// ErrInvalidRequest is returned for malformed audio or callback URLs.
var ErrInvalidRequest = errors.New("invalid submission request")

// Config holds the orchestrator settings. It is read once at startup.
type Config struct {
	SubmitPool    PoolConfig
	CallbackPool  PoolConfig
	PollInterval  time.Duration
	RetryBudget   int
	RetryInterval time.Duration
}

// Dependencies are the external collaborators. Statuses is optional.
type Dependencies struct {
	Audio    models.AudioSource
	Storage  models.ObjectStore
	Engine   models.Engine
	Callback models.CallbackSender
	Statuses StatusRecorder
}

// Stats is a snapshot of orchestrator load.
type Stats struct {
	SubmitPool   PoolStats `json:"submit_pool"`
	CallbackPool PoolStats `json:"callback_pool"`
	RetryPending int       `json:"retry_pending"`
}

// Orchestrator owns both worker pools and the retry scheduler.
type Orchestrator struct {
	submit    *submitStage
	callbacks *callbackStage
	registry  *RetryRegistry
	retries   *RetryScheduler

	closing      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
	log          *slog.Logger
}

// New builds an orchestrator and starts its pools and retry scheduler.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Audio == nil:
		return nil, fmt.Errorf("audio source is required")
	case deps.Storage == nil:
		return nil, fmt.Errorf("object store is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("engine is required")
	case deps.Callback == nil:
		return nil, fmt.Errorf("callback sender is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.RetryInterval <= 0 {
		return nil, fmt.Errorf("retry interval must be positive, got %s", cfg.RetryInterval)
	}
	if cfg.RetryBudget < 0 {
		return nil, fmt.Errorf("retry budget must not be negative, got %d", cfg.RetryBudget)
	}

	log := slog.Default().With("component", "dispatch")
	statuses := &statusTracker{recorder: deps.Statuses, log: log}
	registry := NewRetryRegistry()

	callbacks := &callbackStage{
		pool:         NewPool("callback", cfg.CallbackPool),
		engine:       deps.Engine,
		sender:       deps.Callback,
		registry:     registry,
		statuses:     statuses,
		pollInterval: cfg.PollInterval,
		retryBudget:  cfg.RetryBudget,
		log:          log.With("stage", "callback"),
	}
	submit := &submitStage{
		pool:      NewPool("submit", cfg.SubmitPool),
		audio:     deps.Audio,
		storage:   deps.Storage,
		engine:    deps.Engine,
		callbacks: callbacks,
		statuses:  statuses,
		log:       log.With("stage", "submit"),
	}

	o := &Orchestrator{
		submit:    submit,
		callbacks: callbacks,
		registry:  registry,
		retries:   NewRetryScheduler(registry, callbacks.pool, cfg.RetryInterval),
		log:       log,
	}
	o.retries.Start()

	log.Info("orchestrator started",
		"submit_workers", cfg.SubmitPool.CoreWorkers,
		"callback_workers", cfg.CallbackPool.CoreWorkers,
		"retry_budget", cfg.RetryBudget,
		"retry_interval", cfg.RetryInterval,
	)
	return o, nil
}

// SubmitAsrJob queues a transcription of the audio at audioURL whose result
// will be posted to callbackURL. A saturated submission pool is reported as
// ErrQueueSaturated without blocking; the caller should treat it as
// backpressure. All later submission failures are reported through the Future.
func (o *Orchestrator) SubmitAsrJob(audioURL, callbackURL string) (*Future, error) {
	if o.closing.Load() {
		return nil, ErrShuttingDown
	}
	if err := validateURL("audio_url", audioURL); err != nil {
		return nil, err
	}
	if err := validateURL("callback_url", callbackURL); err != nil {
		return nil, err
	}
	return o.submit.submit(models.SubmissionRequest{AudioURL: audioURL, CallbackURL: callbackURL})
}

// Stats returns current pool and retry registry load.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		SubmitPool:   o.submit.pool.Stats(),
		CallbackPool: o.callbacks.pool.Stats(),
		RetryPending: o.registry.Len(),
	}
}

// Shutdown stops accepting submissions, stops the retry scheduler, drains the
// submission pool then the callback pool, and clears pending retries.
// It is idempotent; concurrent callers block until the first one finishes.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		o.closing.Store(true)
		o.log.Info("orchestrator shutting down")

		o.retries.Stop()

		var errs []error
		if err := o.submit.pool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("submit pool: %w", err))
		}
		if err := o.callbacks.pool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("callback pool: %w", err))
		}

		if n := o.registry.Len(); n > 0 {
			o.log.Warn("discarding pending callback retries", "count", n)
		}
		o.registry.Clear()

		o.shutdownErr = errors.Join(errs...)
		o.log.Info("orchestrator stopped")
	})
	return o.shutdownErr
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidRequest, field)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s must be an absolute http(s) URL, got %q", ErrInvalidRequest, field, raw)
	}
	return nil
}
