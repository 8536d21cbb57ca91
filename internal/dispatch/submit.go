package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/kiranshivaraju/asrrelay/internal/metrics"
	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

// Future resolves to the engine job ID of a submission.
type Future struct {
	done  chan struct{}
	jobID string
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed once the submission has completed or failed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the submission completes or ctx is done.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.jobID, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *Future) resolve(jobID string, err error) {
	f.jobID = jobID
	f.err = err
	close(f.done)
}

// submitStage acquires audio, uploads it and submits the job to the engine.
type submitStage struct {
	pool      *Pool
	audio     models.AudioSource
	storage   models.ObjectStore
	engine    models.Engine
	callbacks *callbackStage
	statuses  *statusTracker
	log       *slog.Logger
}

// submit enqueues req. A saturated pool is reported synchronously.
func (s *submitStage) submit(req models.SubmissionRequest) (*Future, error) {
	f := newFuture()
	task := func(ctx context.Context) {
		var (
			jobID string
			err   error
		)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in submission", "error", r, "audio_url", req.AudioURL, "stack", string(debug.Stack()))
				jobID, err = "", fmt.Errorf("%w: panic: %v", ErrSubmit, r)
			}
			f.resolve(jobID, err)
		}()
		jobID, err = s.process(ctx, req)
	}

	if err := s.pool.Submit(task); err != nil {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, err
	}
	return f, nil
}

func (s *submitStage) process(ctx context.Context, req models.SubmissionRequest) (string, error) {
	log := s.log.With("audio_url", req.AudioURL)

	log.Info("begin to download audio file")
	local, err := s.audio.Fetch(ctx, req.AudioURL)
	if err != nil {
		metrics.Submissions.WithLabelValues("acquisition_error").Inc()
		log.Error("download audio failed", "error", err)
		return "", fmt.Errorf("%w: %w", ErrAcquisition, err)
	}
	defer removeLocal(log, local)
	log.Info("download done", "local", local.Path, "bytes", local.Size)

	sharedURL, err := s.storage.UploadAndShare(ctx, local)
	if err != nil {
		metrics.Submissions.WithLabelValues("storage_error").Inc()
		log.Error("upload audio failed", "error", err)
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}

	jobID, err := s.engine.SubmitJob(ctx, sharedURL)
	if err != nil {
		metrics.Submissions.WithLabelValues("submit_error").Inc()
		log.Error("submit job to asr service failed", "shared_url", sharedURL, "error", err)
		return "", fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	log.Info("submit job done", "job_id", jobID)

	s.statuses.record(ctx, jobID, models.LifecycleSubmitted)

	handle := models.JobHandle{JobID: jobID, AudioURL: req.AudioURL, CallbackURL: req.CallbackURL}
	if err := s.callbacks.enqueue(handle); err != nil {
		metrics.Submissions.WithLabelValues("callback_rejected").Inc()
		log.Error("submit callback task failed", "job_id", jobID, "error", err)
		s.statuses.record(ctx, jobID, models.LifecycleAbandoned)
		return "", fmt.Errorf("enqueue callback for job %s: %w", jobID, err)
	}
	log.Info("created callback task", "job_id", jobID)

	metrics.Submissions.WithLabelValues("ok").Inc()
	return jobID, nil
}

func removeLocal(log *slog.Logger, local models.LocalAudio) {
	if local.Path == "" {
		return
	}
	if err := os.Remove(local.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove local audio failed", "path", local.Path, "error", err)
	}
}
