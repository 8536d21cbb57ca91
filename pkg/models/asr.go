package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownJobStatus is returned when the engine reports a status code
// outside the known set. Callers must treat it as an unreachable state.
var ErrUnknownJobStatus = errors.New("unknown job status code")

// JobStatus is the engine-side state of a transcription job.
// The numeric values are the engine's status codes.
type JobStatus int

const (
	JobStatusFailed   JobStatus = -1
	JobStatusAccepted JobStatus = 0
	JobStatusRunning  JobStatus = 1
	JobStatusFinished JobStatus = 2
)

// ParseJobStatus maps an engine status code to a JobStatus.
func ParseJobStatus(code int) (JobStatus, error) {
	switch s := JobStatus(code); s {
	case JobStatusAccepted, JobStatusRunning, JobStatusFinished, JobStatusFailed:
		return s, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownJobStatus, code)
	}
}

// Terminal reports whether polling should stop at this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

func (s JobStatus) String() string {
	switch s {
	case JobStatusAccepted:
		return "accepted"
	case JobStatusRunning:
		return "running"
	case JobStatusFinished:
		return "finished"
	case JobStatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SubmissionRequest is what a caller hands to the orchestrator.
type SubmissionRequest struct {
	AudioURL    string `json:"audio_url"`
	CallbackURL string `json:"callback_url"`
}

// JobHandle identifies a job accepted by the engine. JobID is the identity.
type JobHandle struct {
	JobID       string `json:"job_id"`
	AudioURL    string `json:"audio_url"`
	CallbackURL string `json:"callback_url"`
}

// PollResult is one status-check answer from the engine.
type PollResult struct {
	Status        JobStatus       `json:"status_code"`
	StatusMessage string          `json:"status_msg"`
	Payload       json.RawMessage `json:"words,omitempty"`
}

// CallbackPayload is the body POSTed to the caller's callback target.
type CallbackPayload struct {
	JobID  string     `json:"job_id"`
	Result PollResult `json:"result"`
}

// LocalAudio is an audio file fetched to local disk.
type LocalAudio struct {
	Path   string
	Name   string
	Size   int64
	Source string
}

// Lifecycle statuses recorded in the job-status cache.
const (
	LifecycleSubmitted      = "submitted"
	LifecyclePolling        = "polling"
	LifecycleFinished       = "finished"
	LifecycleFailed         = "failed"
	LifecycleDelivered      = "delivered"
	LifecycleRetryScheduled = "retry_scheduled"
	LifecycleDropped        = "dropped"
	LifecycleAbandoned      = "abandoned"
)

// AudioSource acquires audio content from a caller-supplied location.
type AudioSource interface {
	Fetch(ctx context.Context, location string) (LocalAudio, error)
}

// ObjectStore uploads local audio and returns a URL the engine can download from.
type ObjectStore interface {
	UploadAndShare(ctx context.Context, audio LocalAudio) (string, error)
}

// Engine is the remote recognition engine.
// Never call the HTTP client directly from the orchestrator; inject this interface.
type Engine interface {
	// SubmitJob registers a long-running recognition job for the audio at url.
	SubmitJob(ctx context.Context, url string) (string, error)
	// PollJob fetches the current state of a job.
	PollJob(ctx context.Context, jobID string) (PollResult, error)
}

// CallbackSender delivers results to a callback target.
type CallbackSender interface {
	Post(ctx context.Context, target string, payload CallbackPayload) error
}
