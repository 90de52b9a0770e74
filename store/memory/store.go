// Package memory implements store.Store in process memory. It is safe for
// concurrent access and intended for unit tests and single-process
// development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Ensure Store implements the subsystem stores at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

type record struct {
	job job.Job
	// seq orders waiting jobs within a priority tier. It is reassigned
	// every time the job re-enters waiting.
	seq uint64
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	jobs      map[string]*record
	seq       uint64
	completed int64
	dlqs      map[string]*dlq.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*record),
		dlqs: make(map[string]*dlq.Entry),
	}
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job as waiting, or delayed when RunAt is in
// the future.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return herald.ErrJobAlreadyExists
	}

	r := &record{job: *j}
	if r.job.RunAt.After(time.Now()) {
		r.job.State = job.StateDelayed
	} else {
		r.job.State = job.StateWaiting
		r.seq = m.nextSeq()
	}
	j.State = r.job.State
	m.jobs[key] = r
	return nil
}

// DequeueJob promotes due delayed jobs and claims the next waiting job.
func (m *Store) DequeueJob(_ context.Context, workerID id.WorkerID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.promote(now)

	var next *record
	for _, r := range m.jobs {
		if r.job.State != job.StateWaiting {
			continue
		}
		if next == nil ||
			r.job.Priority < next.job.Priority ||
			(r.job.Priority == next.job.Priority && r.seq < next.seq) {
			next = r
		}
	}
	if next == nil {
		return nil, nil
	}

	next.job.State = job.StateActive
	next.job.WorkerID = workerID
	next.job.StartedAt = &now
	next.job.HeartbeatAt = &now
	next.job.UpdatedAt = now

	// Return a copy so callers can mutate without racing with the store.
	cp := next.job
	return &cp, nil
}

// promote moves delayed jobs whose RunAt has passed to waiting, in RunAt
// order. Callers hold m.mu.
func (m *Store) promote(now time.Time) {
	var due []*record
	for _, r := range m.jobs {
		if r.job.State == job.StateDelayed && !r.job.RunAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		return due[i].job.RunAt.Before(due[k].job.RunAt)
	})
	for _, r := range due {
		r.job.State = job.StateWaiting
		r.seq = m.nextSeq()
	}
}

func (m *Store) nextSeq() uint64 {
	m.seq++
	return m.seq
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, herald.ErrJobNotFound
	}
	cp := r.job
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[j.ID.String()]
	if !ok {
		return herald.ErrJobNotFound
	}
	switch j.State {
	case job.StateWaiting, job.StateActive, job.StateDelayed:
	default:
		return herald.ErrInvalidState
	}

	wasWaiting := r.job.State == job.StateWaiting
	r.job = *j
	r.job.UpdatedAt = time.Now().UTC()
	if j.State == job.StateWaiting && !wasWaiting {
		r.seq = m.nextSeq()
	}
	return nil
}

// CompleteJob removes a job and counts it as completed.
func (m *Store) CompleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return herald.ErrJobNotFound
	}
	delete(m.jobs, key)
	m.completed++
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return herald.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[jobID.String()]
	if !ok {
		return herald.ErrJobNotFound
	}
	now := time.Now().UTC()
	r.job.HeartbeatAt = &now
	r.job.WorkerID = workerID
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than
// the given threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, r := range m.jobs {
		if r.job.State != job.StateActive {
			continue
		}
		if r.job.HeartbeatAt != nil && r.job.HeartbeatAt.Before(cutoff) {
			cp := r.job
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// CountJobs returns waiting, active, delayed and completed counts.
func (m *Store) CountJobs(_ context.Context) (job.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := job.Counts{Completed: m.completed}
	for _, r := range m.jobs {
		switch r.job.State {
		case job.StateWaiting:
			c.Waiting++
		case job.StateActive:
			c.Active++
		case job.StateDelayed:
			c.Delayed++
		}
	}
	return c, nil
}

// ──────────────────────────────────────────────────
// Failed list
// ──────────────────────────────────────────────────

// PushDLQ adds a failed job entry.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.JobID.String()] = &cp
	return nil
}

// ListDLQ returns entries, most recently failed first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.sortedDLQ()

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	out := make([]*dlq.Entry, len(result))
	for i, e := range result {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// GetDLQ retrieves the entry for a job.
func (m *Store) GetDLQ(_ context.Context, jobID id.JobID) (*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[jobID.String()]
	if !ok {
		return nil, herald.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// DeleteDLQ removes the entry for a job.
func (m *Store) DeleteDLQ(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.dlqs[key]; !ok {
		return herald.ErrDLQNotFound
	}
	delete(m.dlqs, key)
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// TrimDLQ keeps the keep most recent entries.
func (m *Store) TrimDLQ(_ context.Context, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := m.sortedDLQ()
	if len(sorted) <= keep {
		return 0, nil
	}
	for _, e := range sorted[keep:] {
		delete(m.dlqs, e.JobID.String())
	}
	return int64(len(sorted) - keep), nil
}

// CountDLQ returns the number of entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return int64(len(m.dlqs)), nil
}

// sortedDLQ returns entries newest first. Callers hold m.mu.
func (m *Store) sortedDLQ() []*dlq.Entry {
	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		result = append(result, e)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})
	return result
}
