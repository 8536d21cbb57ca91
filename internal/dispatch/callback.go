package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/asrrelay/internal/metrics"
	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

// callbackStage polls jobs to completion and delivers their results.
type callbackStage struct {
	pool         *Pool
	engine       models.Engine
	sender       models.CallbackSender
	registry     *RetryRegistry
	statuses     *statusTracker
	pollInterval time.Duration
	retryBudget  int
	log          *slog.Logger
}

// enqueue creates a unit for handle and submits it to the callback pool.
func (s *callbackStage) enqueue(handle models.JobHandle) error {
	u := &callbackUnit{
		stage:  s,
		handle: handle,
		log:    s.log.With("job_id", handle.JobID),
	}
	return s.pool.Submit(u.run)
}

// callbackUnit is the polling and delivery state machine for one job.
// A unit executes on at most one worker at a time: the first run comes from
// the submission stage and later runs only from the retry scheduler after
// it has claimed the job's registry entry.
type callbackUnit struct {
	stage  *callbackStage
	handle models.JobHandle
	result *models.PollResult
	log    *slog.Logger
}

func (u *callbackUnit) run(ctx context.Context) {
	if u.result == nil {
		res, err := u.poll(ctx)
		if err != nil {
			u.stage.statuses.record(ctx, u.handle.JobID, models.LifecycleAbandoned)
			return
		}
		u.result = &res
	}
	u.deliver(ctx)
}

// retry runs a unit resubmitted by the scheduler.
func (u *callbackUnit) retry(ctx context.Context) {
	u.log.Info("retrying callback")
	u.run(ctx)
}

// poll queries the engine until the job reaches a terminal status.
func (u *callbackUnit) poll(ctx context.Context) (models.PollResult, error) {
	jobID := u.handle.JobID
	for {
		res, err := u.stage.engine.PollJob(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				u.log.Warn("polling interrupted, exit", "error", ctx.Err())
				return models.PollResult{}, ctx.Err()
			}
			if errors.Is(err, models.ErrUnknownJobStatus) {
				metrics.Polls.WithLabelValues("unknown").Inc()
				u.log.Error("job reported unreachable state", "error", err, "audio_url", u.handle.AudioURL)
				return models.PollResult{}, err
			}
			metrics.Polls.WithLabelValues("error").Inc()
			u.log.Error("query job result failed", "error", err, "audio_url", u.handle.AudioURL)
			return models.PollResult{}, fmt.Errorf("%w: %w", ErrPollTransport, err)
		}

		metrics.Polls.WithLabelValues(res.Status.String()).Inc()

		switch res.Status {
		case models.JobStatusAccepted, models.JobStatusRunning:
			u.log.Info("job not finished, waiting", "status", res.Status.String(), "status_msg", res.StatusMessage)
			u.stage.statuses.record(ctx, jobID, models.LifecyclePolling)
			if err := sleep(ctx, u.stage.pollInterval); err != nil {
				u.log.Warn("polling interrupted, exit", "error", err)
				return models.PollResult{}, err
			}
		case models.JobStatusFailed:
			u.log.Error("job failed", "status_msg", res.StatusMessage, "audio_url", u.handle.AudioURL)
			u.stage.statuses.record(ctx, jobID, models.LifecycleFailed)
			return res, nil
		case models.JobStatusFinished:
			u.log.Info("job finished")
			u.stage.statuses.record(ctx, jobID, models.LifecycleFinished)
			return res, nil
		default:
			metrics.Polls.WithLabelValues("unknown").Inc()
			err := fmt.Errorf("job %s: %w: %d", jobID, models.ErrUnknownJobStatus, int(res.Status))
			u.log.Error("job reported unreachable state", "error", err)
			return models.PollResult{}, err
		}
	}
}

// deliver posts the terminal result to the callback target and updates the
// retry registry with the outcome.
func (u *callbackUnit) deliver(ctx context.Context) {
	jobID := u.handle.JobID
	payload := models.CallbackPayload{JobID: jobID, Result: *u.result}

	err := u.stage.sender.Post(ctx, u.handle.CallbackURL, payload)
	if err == nil {
		u.stage.registry.Remove(jobID)
		metrics.Deliveries.WithLabelValues("ok").Inc()
		u.log.Info("callback done", "callback_url", u.handle.CallbackURL)
		u.stage.statuses.record(ctx, jobID, models.LifecycleDelivered)
		return
	}

	metrics.Deliveries.WithLabelValues("failed").Inc()
	u.log.Error("callback failed",
		"error", fmt.Errorf("%w: %w", ErrDelivery, err),
		"callback_url", u.handle.CallbackURL,
		"audio_url", u.handle.AudioURL,
	)

	rec, scheduled := u.stage.registry.RecordFailure(u, u.stage.retryBudget, time.Now())
	if !scheduled {
		metrics.Retries.WithLabelValues("dropped").Inc()
		u.log.Error("callback retries exhausted, dropping job", "retried", rec.RetriedCount, "budget", u.stage.retryBudget)
		u.stage.statuses.record(ctx, jobID, models.LifecycleDropped)
		return
	}

	metrics.Retries.WithLabelValues("scheduled").Inc()
	u.log.Warn("callback retry scheduled", "retried", rec.RetriedCount, "budget", u.stage.retryBudget)
	u.stage.statuses.record(ctx, jobID, models.LifecycleRetryScheduled)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
