package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	mw "github.com/kiranshivaraju/asrrelay/internal/api/middleware"
	"github.com/kiranshivaraju/asrrelay/internal/api/response"
	"github.com/kiranshivaraju/asrrelay/internal/dispatch"
	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

// DefaultSubmitWait bounds how long POST /api/v1/asr/jobs waits for the
// engine to accept a job before answering 504.
const DefaultSubmitWait = 25 * time.Second

// retryAfter is the Retry-After hint sent with QUEUE_SATURATED.
const retryAfter = 5 * time.Second

// maxSubmitBody caps the JSON body of a submission.
const maxSubmitBody = 64 << 10

// Submitter queues transcription jobs. *dispatch.Orchestrator satisfies it.
type Submitter interface {
	SubmitAsrJob(audioURL, callbackURL string) (*dispatch.Future, error)
}

// StatusReader returns the last recorded lifecycle status of a job.
type StatusReader interface {
	GetJobStatus(ctx context.Context, jobID string) (string, bool, error)
}

// JobOwners records which tenant submitted a job. *cache.RedisCache
// satisfies it.
type JobOwners interface {
	SetJobOwner(ctx context.Context, jobID, tenantID string) error
	GetJobOwner(ctx context.Context, jobID string) (string, bool, error)
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/asr/jobs.
// The job keeps running when the wait ends early; only the answer is lost.
// Accepted jobs are recorded against the caller's tenant.
func NewSubmitJobHandler(s Submitter, owners JobOwners, wait time.Duration) http.HandlerFunc {
	if wait <= 0 {
		wait = DefaultSubmitWait
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.SubmissionRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE",
					"Request body too large", map[string]int64{"limit_bytes": tooLarge.Limit})
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		future, err := s.SubmitAsrJob(req.AudioURL, req.CallbackURL)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()

		jobID, err := future.Wait(ctx)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		tenantID, _ := mw.GetTenantID(r)
		if err := owners.SetJobOwner(r.Context(), jobID, tenantID.String()); err != nil {
			slog.Warn("record job owner failed", "tenant_id", tenantID, "job_id", jobID, "error", err)
		}
		slog.Info("asr job accepted", "tenant_id", tenantID, "job_id", jobID)

		response.Accepted(w, map[string]string{
			"job_id": jobID,
			"status": models.LifecycleSubmitted,
		})
	}
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidRequest):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, dispatch.ErrQueueSaturated):
		response.Unavailable(w, "QUEUE_SATURATED", "Submission queue is full, retry later", retryAfter)
	case errors.Is(err, dispatch.ErrShuttingDown):
		response.Unavailable(w, "SHUTTING_DOWN", "Server is shutting down", retryAfter)
	case errors.Is(err, dispatch.ErrAcquisition):
		response.Error(w, http.StatusBadGateway, "AUDIO_UNAVAILABLE", "Could not fetch audio", map[string]string{"reason": err.Error()})
	case errors.Is(err, dispatch.ErrStorage):
		response.Error(w, http.StatusBadGateway, "UPLOAD_FAILED", "Could not share audio with the engine", nil)
	case errors.Is(err, dispatch.ErrSubmit):
		response.Error(w, http.StatusBadGateway, "ENGINE_REJECTED", "Recognition engine did not accept the job", map[string]string{"reason": err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		response.Error(w, http.StatusGatewayTimeout, "SUBMISSION_PENDING", "Submission still in progress; the result will be delivered to the callback", nil)
	default:
		slog.Error("submit asr job", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to submit job", nil)
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/asr/jobs/{jobID}.
// Jobs submitted by another tenant are reported as not found.
func NewJobStatusHandler(statuses StatusReader, owners JobOwners) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Job ID is required", nil)
			return
		}

		tenantID, _ := mw.GetTenantID(r)
		owner, ok, err := owners.GetJobOwner(r.Context(), jobID)
		if err != nil {
			slog.Error("read job owner", "job_id", jobID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read job status", nil)
			return
		}
		if !ok || owner != tenantID.String() {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found or expired", nil)
			return
		}

		status, ok, err := statuses.GetJobStatus(r.Context(), jobID)
		if err != nil {
			slog.Error("read job status", "job_id", jobID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read job status", nil)
			return
		}
		if !ok {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found or expired", nil)
			return
		}

		response.JSON(w, map[string]string{
			"job_id": jobID,
			"status": status,
		})
	}
}
