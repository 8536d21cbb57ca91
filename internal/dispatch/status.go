package dispatch

import (
	"context"
	"log/slog"
	"time"
)

const statusWriteTimeout = 2 * time.Second

// StatusRecorder stores the last known lifecycle status of a job.
type StatusRecorder interface {
	RecordJobStatus(ctx context.Context, jobID, status string) error
}

// statusTracker writes lifecycle statuses best-effort. A nil recorder is allowed.
type statusTracker struct {
	recorder StatusRecorder
	log      *slog.Logger
}

func (t *statusTracker) record(ctx context.Context, jobID, status string) {
	if t == nil || t.recorder == nil {
		return
	}
	// Status writes must survive an interrupted unit.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if err := t.recorder.RecordJobStatus(ctx, jobID, status); err != nil {
		t.log.Warn("record job status failed", "job_id", jobID, "status", status, "error", err)
	}
}
