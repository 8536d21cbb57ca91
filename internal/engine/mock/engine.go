package mock

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kiranshivaraju/asrrelay/internal/engine"
	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

// Engine satisfies models.Engine for testing. It records every poll.
type Engine struct {
	SubmitFunc func(ctx context.Context, url string) (string, error)
	PollFunc   func(ctx context.Context, jobID string) (models.PollResult, error)

	mu        sync.Mutex
	submitted []string
	polls     []time.Time
}

func (e *Engine) SubmitJob(ctx context.Context, url string) (string, error) {
	e.mu.Lock()
	e.submitted = append(e.submitted, url)
	e.mu.Unlock()
	if e.SubmitFunc != nil {
		return e.SubmitFunc(ctx, url)
	}
	return "", nil
}

func (e *Engine) PollJob(ctx context.Context, jobID string) (models.PollResult, error) {
	e.mu.Lock()
	e.polls = append(e.polls, time.Now())
	e.mu.Unlock()
	if e.PollFunc != nil {
		return e.PollFunc(ctx, jobID)
	}
	return models.PollResult{Status: models.JobStatusFinished}, nil
}

// Submitted returns the shared URLs passed to SubmitJob.
func (e *Engine) Submitted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.submitted...)
}

// PollTimes returns the time of every PollJob call.
func (e *Engine) PollTimes() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Time(nil), e.polls...)
}

// NewEngine returns an Engine that accepts every submission as jobID and
// reports it finished on the first poll.
func NewEngine(jobID string) *Engine {
	return NewSequenceEngine(jobID, models.JobStatusFinished)
}

// NewSequenceEngine returns an Engine that accepts every submission as jobID
// and answers successive polls with statuses, repeating the last one.
func NewSequenceEngine(jobID string, statuses ...models.JobStatus) *Engine {
	var (
		mu   sync.Mutex
		next int
	)
	return &Engine{
		SubmitFunc: func(_ context.Context, _ string) (string, error) {
			return jobID, nil
		},
		PollFunc: func(_ context.Context, _ string) (models.PollResult, error) {
			mu.Lock()
			defer mu.Unlock()
			status := statuses[len(statuses)-1]
			if next < len(statuses) {
				status = statuses[next]
				next++
			}
			res := models.PollResult{Status: status, StatusMessage: status.String()}
			if status == models.JobStatusFinished {
				res.Payload = json.RawMessage(`"mock transcript"`)
			}
			return res, nil
		},
	}
}

// NewFailingEngine returns an Engine whose calls always fail with err.
func NewFailingEngine(err error) *Engine {
	return &Engine{
		SubmitFunc: func(_ context.Context, _ string) (string, error) {
			return "", err
		},
		PollFunc: func(_ context.Context, _ string) (models.PollResult, error) {
			return models.PollResult{}, err
		},
	}
}

// NewRejectingEngine returns an Engine that answers like a server rejecting
// every request.
func NewRejectingEngine() *Engine {
	return NewFailingEngine(engine.ErrEngineRejected)
}

// Compile-time check that Engine implements models.Engine.
var _ models.Engine = (*Engine)(nil)
