// Package worker provides the email job execution engine: an Executor
// that runs one attempt through middleware and the registered handler,
// and a Pool of worker goroutines that claim jobs from the store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/middleware"
)

// Executor runs a single attempt of a job, then settles the outcome:
// completion, a delayed retry, or the failed list.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs one attempt of an active job.
//
// On success the job is removed and counted as completed. On failure with
// attempts left it is delayed by the backoff for the attempt number. On
// failure with attempts exhausted, or when no handler exists for its type,
// it is moved to the failed list.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	j.Attempts++

	handler, ok := e.registry.Get(j.Type)
	if !ok {
		err := fmt.Errorf("%w: %q", herald.ErrUnknownJobType, j.Type)
		j.LastError = err.Error()
		return e.moveToFailed(ctx, j, err)
	}

	start := time.Now()
	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload())
	}
	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	j.UpdatedAt = time.Now().UTC()

	if err != nil {
		return e.handleFailure(ctx, j, err)
	}
	return e.handleSuccess(ctx, j, elapsed)
}

// handleSuccess removes the job and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	if err := e.store.CompleteJob(ctx, j.ID); err != nil {
		e.logger.Error("failed to complete job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
		return err
	}

	j.State = job.StateCompleted
	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure either schedules another attempt or gives up.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error) error {
	j.LastError = handlerErr.Error()

	// Contract violations never succeed on retry.
	if errors.Is(handlerErr, herald.ErrUnknownJobType) || !j.AttemptsLeft() {
		return e.moveToFailed(ctx, j, handlerErr)
	}
	return e.scheduleRetry(ctx, j, handlerErr)
}

// scheduleRetry delays the job by the backoff for its attempt count.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error) error {
	delay := e.backoff.Delay(j.Attempts)
	nextRunAt := time.Now().UTC().Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateDelayed
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to schedule job retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("%s job attempt %d/%d: %w", j.Type, j.Attempts, j.MaxAttempts, handlerErr)
}

// moveToFailed records the job in the failed list, removes it from the
// queue and emits JobFailed.
func (e *Executor) moveToFailed(ctx context.Context, j *job.Job, jobErr error) error {
	j.State = job.StateFailed

	if e.dlqService != nil {
		if err := e.dlqService.Push(ctx, j, jobErr); err != nil {
			// The job stays active; the reaper returns it to waiting.
			e.logger.Error("failed to record failed job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return err
		}
	}

	if err := e.store.DeleteJob(ctx, j.ID); err != nil && !errors.Is(err, herald.ErrJobNotFound) {
		e.logger.Error("failed to remove failed job from queue",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobFailed(ctx, j, jobErr)

	e.logger.Warn("job failed permanently",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempts", j.Attempts),
		slog.String("error", jobErr.Error()),
	)

	return jobErr
}
