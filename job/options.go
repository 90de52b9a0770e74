package job

import "time"

// Options configures per-job behavior such as priority and attempts.
type Options struct {
	// Priority determines dequeue ordering. High is processed first.
	Priority Priority

	// MaxAttempts is the total number of attempts, including the first,
	// before the job is moved to the failed list.
	MaxAttempts int

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Priority:    PriorityMedium,
		MaxAttempts: 3,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithPriority sets the job priority.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithMaxAttempts sets the total number of attempts.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithDelay schedules the job to run d from now.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.RunAt = time.Now().Add(d)
	}
}
