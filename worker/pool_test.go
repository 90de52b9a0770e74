package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/middleware"
	"github.com/xraph/herald/store/memory"
	"github.com/xraph/herald/store/storetest"
	"github.com/xraph/herald/worker"
)

type courseData struct {
	CourseID string `json:"courseId"`
}

type harness struct {
	pool    *worker.Pool
	store   *memory.Store
	reg     *job.Registry
	dlq     *dlq.Service
	tracker *trackingExt
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, concurrency int, opts ...worker.PoolOption) *harness {
	t.Helper()
	logger := testLogger()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)
	tracker := &trackingExt{}
	extensions.Register(tracker)

	dlqSvc := dlq.NewService(s, s, dlq.WithLogger(logger))
	executor := worker.NewExecutor(
		reg, extensions, s, dlqSvc, backoff.NewConstant(time.Millisecond), logger,
		middleware.Recover(logger),
	)

	opts = append([]worker.PoolOption{
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(5 * time.Millisecond),
	}, opts...)
	pool := worker.NewPool(s, executor, extensions, logger, opts...)

	h := &harness{pool: pool, store: s, reg: reg, dlq: dlqSvc, tracker: tracker}
	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func (h *harness) enqueue(t *testing.T, j *job.Job) *job.Job {
	t.Helper()
	if err := h.store.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return j
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestPool_StartStop(t *testing.T) {
	h := setup(t, 2)

	h.start(t)
	// Double start is a no-op.
	h.start(t)
	h.stop(t)
	// Double stop is a no-op.
	h.stop(t)
}

func TestPool_ProcessesJob(t *testing.T) {
	h := setup(t, 1)

	var got atomic.Value
	job.RegisterDefinition(h.reg, job.NewDefinition(job.TypeEnrollment,
		func(_ context.Context, email string, d courseData) error {
			got.Store(email + "/" + d.CourseID)
			return nil
		}))

	j := h.enqueue(t, storetest.NewJob(job.TypeEnrollment, job.PriorityMedium))
	h.start(t)
	waitFor(t, "completion", func() bool { return h.tracker.completedCount() == 1 })

	if v, _ := got.Load().(string); v != "learner@example.com/c1" {
		t.Errorf("handler saw %q, want %q", v, "learner@example.com/c1")
	}
	if _, err := h.store.GetJob(context.Background(), j.ID); !errors.Is(err, herald.ErrJobNotFound) {
		t.Errorf("GetJob after completion error = %v, want %v", err, herald.ErrJobNotFound)
	}
	counts, _ := h.store.CountJobs(context.Background())
	if counts.Completed != 1 {
		t.Errorf("Completed = %d, want 1", counts.Completed)
	}
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	h := setup(t, 1)

	var calls atomic.Int32
	job.RegisterDefinition(h.reg, job.NewDefinition(job.TypeWelcome,
		func(_ context.Context, _ string, _ struct{}) error {
			if calls.Add(1) <= 2 {
				return errors.New("smtp: connection reset")
			}
			return nil
		}))

	h.enqueue(t, storetest.NewJob(job.TypeWelcome, job.PriorityMedium))
	h.start(t)
	waitFor(t, "completion", func() bool { return h.tracker.completedCount() == 1 })

	if got := calls.Load(); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
	if got := h.tracker.lastAttempts(); got != 3 {
		t.Errorf("Attempts at completion = %d, want 3", got)
	}
	if got := h.tracker.retryingCount(); got != 2 {
		t.Errorf("retrying events = %d, want 2", got)
	}
}

func TestPool_ExhaustedJobMovesToFailedList(t *testing.T) {
	h := setup(t, 1)

	var fail atomic.Bool
	fail.Store(true)
	job.RegisterDefinition(h.reg, job.NewDefinition(job.TypeVerification,
		func(_ context.Context, _ string, _ struct{}) error {
			if fail.Load() {
				return errors.New("smtp: 550 mailbox unavailable")
			}
			return nil
		}))

	j := h.enqueue(t, storetest.NewJob(job.TypeVerification, job.PriorityHigh))
	h.start(t)
	waitFor(t, "failure", func() bool { return h.tracker.failedCount() == 1 })

	ctx := context.Background()
	entry, err := h.dlq.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("failed list Get: %v", err)
	}
	if entry.Attempts != 3 {
		t.Errorf("entry.Attempts = %d, want 3", entry.Attempts)
	}
	if entry.Error != "smtp: 550 mailbox unavailable" {
		t.Errorf("entry.Error = %q", entry.Error)
	}
	if _, err := h.store.GetJob(ctx, j.ID); !errors.Is(err, herald.ErrJobNotFound) {
		t.Errorf("failed job still queued: %v", err)
	}

	// Retrying from the failed list puts the same job back to work.
	fail.Store(false)
	retried, err := h.dlq.Retry(ctx, j.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.ID != j.ID || retried.Attempts != 0 {
		t.Errorf("Retry = (%s, attempts %d), want (%s, 0)", retried.ID, retried.Attempts, j.ID)
	}
	waitFor(t, "retried completion", func() bool { return h.tracker.completedCount() == 1 })
	if n, _ := h.dlq.Count(ctx); n != 0 {
		t.Errorf("failed list count = %d, want 0", n)
	}
}

func TestPool_UnknownTypeFailsWithoutRetry(t *testing.T) {
	h := setup(t, 1)

	j := h.enqueue(t, storetest.NewJob(job.TypeCompletion, job.PriorityLow))
	h.start(t)
	waitFor(t, "failure", func() bool { return h.tracker.failedCount() == 1 })

	if got := h.tracker.retryingCount(); got != 0 {
		t.Errorf("retrying events = %d, want 0", got)
	}
	entry, err := h.dlq.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("failed list Get: %v", err)
	}
	if entry.Attempts != 1 {
		t.Errorf("entry.Attempts = %d, want 1", entry.Attempts)
	}
	if !errors.Is(h.tracker.lastErr(), herald.ErrUnknownJobType) {
		t.Errorf("failure error = %v, want %v", h.tracker.lastErr(), herald.ErrUnknownJobType)
	}
}

func TestPool_PriorityOrder(t *testing.T) {
	h := setup(t, 1)

	var mu sync.Mutex
	var order []string
	job.RegisterDefinition(h.reg, job.NewDefinition(job.TypeEnrollment,
		func(_ context.Context, _ string, d courseData) error {
			mu.Lock()
			order = append(order, d.CourseID)
			mu.Unlock()
			return nil
		}))

	for _, tc := range []struct {
		course   string
		priority job.Priority
	}{
		{"low", job.PriorityLow},
		{"high-1", job.PriorityHigh},
		{"medium", job.PriorityMedium},
		{"high-2", job.PriorityHigh},
	} {
		j := storetest.NewJob(job.TypeEnrollment, tc.priority)
		j.Data = []byte(`{"courseId":"` + tc.course + `"}`)
		h.enqueue(t, j)
	}

	h.start(t)
	waitFor(t, "all jobs", func() bool { return h.tracker.completedCount() == 4 })

	want := []string{"high-1", "high-2", "medium", "low"}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPool_PanicIsAnAttemptFailure(t *testing.T) {
	h := setup(t, 1)

	var calls atomic.Int32
	job.RegisterDefinition(h.reg, job.NewDefinition(job.TypePasswordReset,
		func(_ context.Context, _ string, _ struct{}) error {
			if calls.Add(1) == 1 {
				panic("nil template")
			}
			return nil
		}))

	h.enqueue(t, storetest.NewJob(job.TypePasswordReset, job.PriorityHigh))
	h.start(t)
	waitFor(t, "completion", func() bool { return h.tracker.completedCount() == 1 })

	if got := h.tracker.lastAttempts(); got != 2 {
		t.Errorf("Attempts at completion = %d, want 2", got)
	}
}

func TestPool_RateLimitedJobKeepsAttempts(t *testing.T) {
	qm := &denyFirst{remaining: 3}
	h := setup(t, 1, worker.WithQueueManager(qm))

	job.RegisterDefinition(h.reg, job.NewDefinition(job.TypeWelcome,
		func(_ context.Context, _ string, _ struct{}) error { return nil }))

	h.enqueue(t, storetest.NewJob(job.TypeWelcome, job.PriorityMedium))
	h.start(t)
	waitFor(t, "completion", func() bool { return h.tracker.completedCount() == 1 })

	if got := h.tracker.lastAttempts(); got != 1 {
		t.Errorf("Attempts at completion = %d, want 1", got)
	}
	if got := qm.released.Load(); got != 1 {
		t.Errorf("Release calls = %d, want 1", got)
	}
}

func TestPool_RateLimitedJobWaitsForDelay(t *testing.T) {
	qm := &denyFirst{remaining: 1}
	h := setup(t, 1,
		worker.WithQueueManager(qm),
		worker.WithRateLimitDelay(backoff.NewConstant(time.Hour)),
	)

	job.RegisterDefinition(h.reg, job.NewDefinition(job.TypeWelcome,
		func(_ context.Context, _ string, _ struct{}) error { return nil }))

	j := h.enqueue(t, storetest.NewJob(job.TypeWelcome, job.PriorityMedium))
	before := time.Now()
	h.start(t)

	var got *job.Job
	waitFor(t, "deferral", func() bool {
		var err error
		got, err = h.store.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateDelayed
	})
	if got.RunAt.Before(before.Add(59 * time.Minute)) {
		t.Errorf("RunAt = %v, want about an hour after %v", got.RunAt, before)
	}
	if got.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", got.Attempts)
	}
	if n := h.tracker.completedCount(); n != 0 {
		t.Errorf("completed = %d, want 0 while deferred", n)
	}
}

func TestPool_ReapsStalledJob(t *testing.T) {
	h := setup(t, 1, worker.WithStaleJobThreshold(30*time.Millisecond))

	job.RegisterDefinition(h.reg, job.NewDefinition(job.TypeEnrollment,
		func(_ context.Context, _ string, _ struct{}) error { return nil }))

	// Claim the job as a worker that then disappears.
	ctx := context.Background()
	j := h.enqueue(t, storetest.NewJob(job.TypeEnrollment, job.PriorityMedium))
	claimed, err := h.store.DequeueJob(ctx, id.NewWorkerID())
	if err != nil || claimed == nil || claimed.ID != j.ID {
		t.Fatalf("DequeueJob = (%v, %v), want %s", claimed, err, j.ID)
	}

	h.start(t)
	waitFor(t, "reaped completion", func() bool { return h.tracker.completedCount() == 1 })

	if got := h.tracker.lastAttempts(); got != 1 {
		t.Errorf("Attempts at completion = %d, want 1", got)
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// trackingExt records which hooks fired.
type trackingExt struct {
	mu        sync.Mutex
	completed int
	retrying  int
	failed    int
	attempts  int
	err       error
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed++
	e.attempts = j.Attempts
	return nil
}

func (e *trackingExt) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retrying++
	return nil
}

func (e *trackingExt) OnJobFailed(_ context.Context, j *job.Job, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed++
	e.attempts = j.Attempts
	e.err = err
	return nil
}

func (e *trackingExt) completedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

func (e *trackingExt) retryingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retrying
}

func (e *trackingExt) failedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

func (e *trackingExt) lastAttempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

func (e *trackingExt) lastErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// denyFirst rejects the first remaining acquisitions.
type denyFirst struct {
	mu        sync.Mutex
	remaining int
	released  atomic.Int32
}

func (d *denyFirst) Acquire(_ string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remaining > 0 {
		d.remaining--
		return false
	}
	return true
}

func (d *denyFirst) Release(_ string) { d.released.Add(1) }
