package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limit defines the send rate and concurrency for one job type.
type Limit struct {
	// Type is the job type the limit applies to.
	Type string

	// MaxConcurrency limits how many jobs of this type may run at once in
	// the local worker pool. Zero means no type-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// typeState tracks runtime state for a single job type.
type typeState struct {
	limit   Limit
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-type rate limits and concurrency caps at dequeue
// time. It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewManager creates a Manager with the given limits. Types not listed
// have no limits beyond the pool-wide concurrency.
func NewManager(limits ...Limit) *Manager {
	m := &Manager{types: make(map[string]*typeState, len(limits))}
	for _, l := range limits {
		m.types[l.Type] = newTypeState(l)
	}
	return m
}

func newTypeState(l Limit) *typeState {
	ts := &typeState{limit: l}
	if l.RateLimit > 0 {
		burst := l.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(l.RateLimit), burst)
	}
	return ts
}

// Acquire checks the rate limit and concurrency cap for jobType. If the
// job may proceed it increments the active counter and returns true. The
// caller MUST call Release when the job finishes.
func (m *Manager) Acquire(jobType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.types[jobType]
	if ts == nil {
		return true
	}
	if ts.limit.MaxConcurrency > 0 && ts.active >= ts.limit.MaxConcurrency {
		return false
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	ts.active++
	return true
}

// Release decrements the active count for jobType.
func (m *Manager) Release(jobType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.types[jobType]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetLimit updates (or creates) the limit for a job type. The current
// active count is preserved.
func (m *Manager) SetLimit(l Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := newTypeState(l)
	if existing := m.types[l.Type]; existing != nil {
		ts.active = existing.active
	}
	m.types[l.Type] = ts
}

// ActiveCount returns the number of active jobs for a type.
func (m *Manager) ActiveCount(jobType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.types[jobType]; ts != nil {
		return ts.active
	}
	return 0
}
