package dispatch

import (
	"sync"
	"time"

	"github.com/kiranshivaraju/asrrelay/internal/metrics"
)

// RetryRecord is the retry bookkeeping for one job.
type RetryRecord struct {
	RetriedCount int
	LastRetry    time.Time
	InFlight     bool
}

type retryEntry struct {
	record RetryRecord
	unit   *callbackUnit
}

// RetryRegistry maps a job ID to its retry bookkeeping.
// The job ID alone identifies a unit; two units sharing an ID share one record.
// Safe for concurrent use.
type RetryRegistry struct {
	mu      sync.RWMutex
	entries map[string]*retryEntry
}

// NewRetryRegistry returns an empty registry.
func NewRetryRegistry() *RetryRegistry {
	return &RetryRegistry{entries: make(map[string]*retryEntry)}
}

// Get returns a copy of the record for jobID.
func (r *RetryRegistry) Get(jobID string) (RetryRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[jobID]
	if !ok {
		return RetryRecord{}, false
	}
	return e.record, true
}

// Len returns the number of registered jobs.
func (r *RetryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// RecordFailure registers a failed delivery for u.
//
// When the job has already been retried budget times, its record is removed
// and scheduled is false. Otherwise the record is upserted with the retry
// count incremented, LastRetry set to now and InFlight cleared.
func (r *RetryRegistry) RecordFailure(u *callbackUnit, budget int, now time.Time) (rec RetryRecord, scheduled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.publish()

	jobID := u.handle.JobID
	prior := 0
	if e, ok := r.entries[jobID]; ok {
		prior = e.record.RetriedCount
	}

	if prior >= budget {
		delete(r.entries, jobID)
		return RetryRecord{RetriedCount: prior}, false
	}

	rec = RetryRecord{RetriedCount: prior + 1, LastRetry: now}
	r.entries[jobID] = &retryEntry{record: rec, unit: u}
	return rec, true
}

// Remove deletes the record for jobID if present.
func (r *RetryRegistry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, jobID)
	r.publish()
}

// ClaimDue marks every entry that is not in flight and whose last retry is
// at least interval before now as in flight, and returns their units.
func (r *RetryRegistry) ClaimDue(now time.Time, interval time.Duration) []*callbackUnit {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*callbackUnit
	for _, e := range r.entries {
		if e.record.InFlight || now.Sub(e.record.LastRetry) < interval {
			continue
		}
		e.record.InFlight = true
		due = append(due, e.unit)
	}
	return due
}

// Release clears the in-flight mark on jobID and restarts its retry interval.
func (r *RetryRegistry) Release(jobID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[jobID]; ok {
		e.record.InFlight = false
		e.record.LastRetry = now
	}
}

// Clear drops every record.
func (r *RetryRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*retryEntry)
	r.publish()
}

// publish must be called with r.mu held.
func (r *RetryRegistry) publish() {
	metrics.RetryPending.Set(float64(len(r.entries)))
}
