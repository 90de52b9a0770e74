package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/middleware"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/worker"
)

// Queue is the email job queue: it validates and persists new jobs,
// drains them with a bounded worker pool and exposes the aggregate counts
// and the failed list.
type Queue struct {
	store      store.Store
	registry   *job.Registry
	extensions *ext.Registry
	dlq        *dlq.Service
	manager    *Manager
	pool       *worker.Pool
	logger     *slog.Logger

	maxAttempts       int
	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	staleThreshold    time.Duration
	backoff           backoff.Strategy
	retention         dlq.Retention
	middleware        []middleware.Middleware
	exts              []ext.Extension
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger for the queue and its workers.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) Option {
	return func(q *Queue) { q.concurrency = n }
}

// WithPollInterval sets how long an idle worker waits before polling again.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) { q.pollInterval = d }
}

// WithMaxAttempts sets the attempt budget for jobs enqueued without an
// explicit job.WithMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(q *Queue) { q.backoff = s }
}

// WithHeartbeat sets the heartbeat interval for active jobs and the age
// after which a silent active job is returned to waiting.
func WithHeartbeat(interval, staleThreshold time.Duration) Option {
	return func(q *Queue) {
		q.heartbeatInterval = interval
		q.staleThreshold = staleThreshold
	}
}

// WithRetention bounds the failed list.
func WithRetention(r dlq.Retention) Option {
	return func(q *Queue) { q.retention = r }
}

// WithLimits sets per-type rate limits and concurrency caps.
func WithLimits(limits ...Limit) Option {
	return func(q *Queue) { q.manager = NewManager(limits...) }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(q *Queue) { q.exts = append(q.exts, e) }
}

// WithMiddleware appends job middleware. Recover is always installed
// as the innermost wrapper.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(q *Queue) { q.middleware = append(q.middleware, mws...) }
}

// New creates a Queue over s. Handlers are looked up in registry when a
// job is executed, so definitions may be registered after New.
func New(s store.Store, registry *job.Registry, opts ...Option) *Queue {
	q := &Queue{
		store:             s,
		registry:          registry,
		logger:            slog.Default(),
		maxAttempts:       3,
		concurrency:       5,
		pollInterval:      500 * time.Millisecond,
		heartbeatInterval: 10 * time.Second,
		staleThreshold:    time.Minute,
		backoff:           backoff.DefaultStrategy(),
		retention:         dlq.DefaultRetention(),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.extensions = ext.NewRegistry(q.logger)
	for _, e := range q.exts {
		q.extensions.Register(e)
	}
	if q.manager == nil {
		q.manager = NewManager()
	}

	q.dlq = dlq.NewService(s, s, dlq.WithRetention(q.retention), dlq.WithLogger(q.logger))

	mws := append([]middleware.Middleware{}, q.middleware...)
	mws = append(mws, middleware.Recover(q.logger))
	executor := worker.NewExecutor(registry, q.extensions, s, q.dlq, q.backoff, q.logger, mws...)

	q.pool = worker.NewPool(s, executor, q.extensions, q.logger,
		worker.WithPoolConcurrency(q.concurrency),
		worker.WithPollInterval(q.pollInterval),
		worker.WithHeartbeatInterval(q.heartbeatInterval),
		worker.WithStaleJobThreshold(q.staleThreshold),
		worker.WithQueueManager(q.manager),
	)
	return q
}

// Enqueue validates and persists a new job and returns it. data is
// JSON-encoded into the job payload; a json.RawMessage is stored as is.
//
// Unknown types, invalid priorities and a missing recipient are contract
// errors and are returned without touching the store.
func (q *Queue) Enqueue(ctx context.Context, t job.Type, email string, data any, opts ...job.Option) (*job.Job, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", herald.ErrUnknownJobType, t)
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, herald.ErrMissingEmail
	}

	raw, err := encodeData(data)
	if err != nil {
		return nil, fmt.Errorf("herald: encode %s job data: %w", t, err)
	}

	o := q.registry.Defaults(t)
	if q.maxAttempts > 0 {
		o.MaxAttempts = q.maxAttempts
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.Priority.Valid() {
		return nil, fmt.Errorf("%w: %d", herald.ErrInvalidPriority, int(o.Priority))
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}

	now := time.Now().UTC()
	runAt := o.RunAt
	if runAt.IsZero() {
		runAt = now
	}

	j := &job.Job{
		ID:          id.NewJobID(),
		Type:        t,
		Email:       email,
		Data:        raw,
		Priority:    o.Priority,
		State:       job.StateWaiting,
		MaxAttempts: o.MaxAttempts,
		RunAt:       runAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	q.extensions.EmitJobEnqueued(ctx, j)
	q.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.String("priority", j.Priority.String()),
	)
	return j, nil
}

// Get returns a queued (waiting, active or delayed) job.
func (q *Queue) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// Counts returns the aggregate view of the queue.
func (q *Queue) Counts(ctx context.Context) (job.Counts, error) {
	counts, err := q.store.CountJobs(ctx)
	if err != nil {
		return job.Counts{}, err
	}
	failed, err := q.dlq.Count(ctx)
	if err != nil {
		return job.Counts{}, err
	}
	counts.Failed = failed
	return counts, nil
}

// Failed lists failed jobs, most recent first.
func (q *Queue) Failed(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	return q.dlq.List(ctx, opts)
}

// FailedJob returns one failed job by ID.
func (q *Queue) FailedJob(ctx context.Context, jobID id.JobID) (*dlq.Entry, error) {
	return q.dlq.Get(ctx, jobID)
}

// Retry moves a failed job back to waiting with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := q.dlq.Retry(ctx, jobID)
	if err != nil {
		return j, err
	}
	q.extensions.EmitJobEnqueued(ctx, j)
	q.logger.Info("failed job retried", slog.String("job_id", jobID.String()))
	return j, nil
}

// Discard drops a failed job permanently.
func (q *Queue) Discard(ctx context.Context, jobID id.JobID) error {
	if err := q.dlq.Discard(ctx, jobID); err != nil {
		return err
	}
	q.logger.Info("failed job discarded", slog.String("job_id", jobID.String()))
	return nil
}

// Ping checks the backing store.
func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}

// Extensions returns the lifecycle hook registry.
func (q *Queue) Extensions() *ext.Registry { return q.extensions }

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) error {
	return q.pool.Start(ctx)
}

// Stop stops claiming new jobs, waits for in-flight attempts until ctx
// expires and notifies Shutdown hooks.
func (q *Queue) Stop(ctx context.Context) error {
	err := q.pool.Stop(ctx)
	q.extensions.EmitShutdown(ctx)
	return err
}

func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(v) > 0 && !json.Valid(v) {
			return nil, errors.New("invalid JSON")
		}
		return v, nil
	}
	return json.Marshal(data)
}
