package dlq_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(opts ...dlq.Option) (*dlq.Service, *memory.Store) {
	s := memory.New()
	opts = append([]dlq.Option{dlq.WithLogger(testLogger())}, opts...)
	return dlq.NewService(s, s, opts...), s
}

func newFailedJob(t job.Type) *job.Job {
	created := time.Now().UTC().Add(-time.Minute)
	return &job.Job{
		ID:          id.NewJobID(),
		Type:        t,
		Email:       "learner@example.com",
		Data:        json.RawMessage(`{"courseId":"c1"}`),
		Priority:    job.PriorityHigh,
		State:       job.StateFailed,
		Attempts:    3,
		MaxAttempts: 3,
		LastError:   "smtp timeout",
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	j := newFailedJob(job.TypeEnrollment)
	if err := svc.Push(ctx, j, errors.New("smtp timeout")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entry, err := svc.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Type != job.TypeEnrollment {
		t.Errorf("Type = %q, want %q", entry.Type, job.TypeEnrollment)
	}
	if entry.Email != j.Email {
		t.Errorf("Email = %q, want %q", entry.Email, j.Email)
	}
	if string(entry.Data) != `{"courseId":"c1"}` {
		t.Errorf("Data = %s, want %s", entry.Data, `{"courseId":"c1"}`)
	}
	if entry.Priority != job.PriorityHigh {
		t.Errorf("Priority = %v, want %v", entry.Priority, job.PriorityHigh)
	}
	if entry.Attempts != 3 || entry.MaxAttempts != 3 {
		t.Errorf("Attempts = %d/%d, want 3/3", entry.Attempts, entry.MaxAttempts)
	}
	if entry.Error != "smtp timeout" {
		t.Errorf("Error = %q, want %q", entry.Error, "smtp timeout")
	}
	if !entry.EnqueuedAt.Equal(j.CreatedAt) {
		t.Errorf("EnqueuedAt = %v, want %v", entry.EnqueuedAt, j.CreatedAt)
	}
	if entry.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
}

func TestService_Push_TrimsToMaxEntries(t *testing.T) {
	svc, _ := newService(dlq.WithRetention(dlq.Retention{MaxEntries: 2}))
	ctx := context.Background()

	var jobs []*job.Job
	for range 3 {
		j := newFailedJob(job.TypeWelcome)
		if err := svc.Push(ctx, j, errors.New("fail")); err != nil {
			t.Fatalf("Push: %v", err)
		}
		jobs = append(jobs, j)
		time.Sleep(2 * time.Millisecond)
	}

	if n, _ := svc.Count(ctx); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
	if _, err := svc.Get(ctx, jobs[0].ID); !errors.Is(err, herald.ErrDLQNotFound) {
		t.Errorf("oldest entry Get error = %v, want %v", err, herald.ErrDLQNotFound)
	}
	if _, err := svc.Get(ctx, jobs[2].ID); err != nil {
		t.Errorf("newest entry Get error = %v, want nil", err)
	}
}

func TestService_Push_PurgesExpired(t *testing.T) {
	svc, s := newService(dlq.WithRetention(dlq.Retention{MaxAge: time.Hour}))
	ctx := context.Background()

	stale := &dlq.Entry{
		JobID:    id.NewJobID(),
		Type:     job.TypeCompletion,
		Email:    "old@example.com",
		Error:    "fail",
		FailedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	if err := s.PushDLQ(ctx, stale); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}

	if err := svc.Push(ctx, newFailedJob(job.TypeWelcome), errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if n, _ := svc.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if _, err := svc.Get(ctx, stale.JobID); !errors.Is(err, herald.ErrDLQNotFound) {
		t.Errorf("expired entry Get error = %v, want %v", err, herald.ErrDLQNotFound)
	}
}

func TestService_Retry_KeepsIDAndResetsAttempts(t *testing.T) {
	svc, s := newService()
	ctx := context.Background()

	j := newFailedJob(job.TypeVerification)
	if err := svc.Push(ctx, j, errors.New("smtp timeout")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	retried, err := svc.Retry(ctx, j.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.ID != j.ID {
		t.Errorf("retried ID = %s, want %s", retried.ID, j.ID)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateWaiting {
		t.Errorf("State = %q, want %q", got.State, job.StateWaiting)
	}
	if got.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", got.Attempts)
	}
	if got.Priority != job.PriorityHigh {
		t.Errorf("Priority = %v, want %v", got.Priority, job.PriorityHigh)
	}
	if string(got.Data) != string(j.Data) {
		t.Errorf("Data = %s, want %s", got.Data, j.Data)
	}

	if n, _ := svc.Count(ctx); n != 0 {
		t.Errorf("Count after retry = %d, want 0", n)
	}
}

func TestService_Retry_NotFound(t *testing.T) {
	svc, _ := newService()

	_, err := svc.Retry(context.Background(), id.NewJobID())
	if !errors.Is(err, herald.ErrDLQNotFound) {
		t.Fatalf("Retry error = %v, want %v", err, herald.ErrDLQNotFound)
	}
}

func TestService_Discard(t *testing.T) {
	svc, s := newService()
	ctx := context.Background()

	j := newFailedJob(job.TypePasswordReset)
	if err := svc.Push(ctx, j, errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := svc.Discard(ctx, j.ID); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if err := svc.Discard(ctx, j.ID); !errors.Is(err, herald.ErrDLQNotFound) {
		t.Errorf("second Discard error = %v, want %v", err, herald.ErrDLQNotFound)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, herald.ErrJobNotFound) {
		t.Errorf("Discard re-enqueued the job: %v", err)
	}
}
