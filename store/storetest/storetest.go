// Package storetest is a conformance suite for store.Store backends.
// Each backend's tests call Run with a constructor for a fresh, empty
// store.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes every conformance test against the backend.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"EnqueueDuplicate", testEnqueueDuplicate},
		{"DequeueEmpty", testDequeueEmpty},
		{"DequeuePriorityOrder", testDequeuePriorityOrder},
		{"DequeueFIFOWithinTier", testDequeueFIFOWithinTier},
		{"DelayedPromotion", testDelayedPromotion},
		{"UpdateRequeues", testUpdateRequeues},
		{"UpdateRejectsTerminalState", testUpdateRejectsTerminalState},
		{"CompleteCounts", testCompleteCounts},
		{"Delete", testDelete},
		{"HeartbeatAndReap", testHeartbeatAndReap},
		{"Counts", testCounts},
		{"DLQPushGetDelete", testDLQPushGetDelete},
		{"DLQListNewestFirst", testDLQListNewestFirst},
		{"DLQPurge", testDLQPurge},
		{"DLQTrim", testDLQTrim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// NewJob returns a waiting job eligible immediately.
func NewJob(t job.Type, p job.Priority) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		ID:          id.NewJobID(),
		Type:        t,
		Email:       "learner@example.com",
		Data:        json.RawMessage(`{"courseId":"c1"}`),
		Priority:    p,
		State:       job.StateWaiting,
		MaxAttempts: 3,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func mustEnqueue(t *testing.T, s store.Store, j *job.Job) {
	t.Helper()
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

func mustDequeue(t *testing.T, s store.Store) *job.Job {
	t.Helper()
	j, err := s.DequeueJob(context.Background(), id.NewWorkerID())
	if err != nil {
		t.Fatalf("DequeueJob: %v", err)
	}
	if j == nil {
		t.Fatal("DequeueJob returned nil, want a job")
	}
	return j
}

func testEnqueueAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(job.TypeEnrollment, job.PriorityHigh)
	mustEnqueue(t, s, j)

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID {
		t.Errorf("ID = %v, want %v", got.ID, j.ID)
	}
	if got.Type != job.TypeEnrollment {
		t.Errorf("Type = %q, want %q", got.Type, job.TypeEnrollment)
	}
	if got.Email != j.Email {
		t.Errorf("Email = %q, want %q", got.Email, j.Email)
	}
	if string(got.Data) != string(j.Data) {
		t.Errorf("Data = %s, want %s", got.Data, j.Data)
	}
	if got.Priority != job.PriorityHigh {
		t.Errorf("Priority = %v, want high", got.Priority)
	}
	if got.State != job.StateWaiting {
		t.Errorf("State = %q, want waiting", got.State)
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, herald.ErrJobNotFound) {
		t.Errorf("GetJob(unknown) error = %v, want %v", err, herald.ErrJobNotFound)
	}
}

func testEnqueueDuplicate(t *testing.T, s store.Store) {
	j := NewJob(job.TypeWelcome, job.PriorityLow)
	mustEnqueue(t, s, j)
	if err := s.EnqueueJob(context.Background(), j); !errors.Is(err, herald.ErrJobAlreadyExists) {
		t.Errorf("second EnqueueJob error = %v, want %v", err, herald.ErrJobAlreadyExists)
	}
}

func testDequeueEmpty(t *testing.T, s store.Store) {
	j, err := s.DequeueJob(context.Background(), id.NewWorkerID())
	if err != nil {
		t.Fatalf("DequeueJob: %v", err)
	}
	if j != nil {
		t.Errorf("DequeueJob on empty store = %v, want nil", j.ID)
	}
}

func testDequeuePriorityOrder(t *testing.T, s store.Store) {
	low := NewJob(job.TypeWelcome, job.PriorityLow)
	high1 := NewJob(job.TypeVerification, job.PriorityHigh)
	medium := NewJob(job.TypeEnrollment, job.PriorityMedium)
	high2 := NewJob(job.TypePasswordReset, job.PriorityHigh)
	for _, j := range []*job.Job{low, high1, medium, high2} {
		mustEnqueue(t, s, j)
	}

	want := []id.JobID{high1.ID, high2.ID, medium.ID, low.ID}
	for i, w := range want {
		got := mustDequeue(t, s)
		if got.ID != w {
			t.Errorf("dequeue[%d] = %v (%v), want %v", i, got.ID, got.Priority, w)
		}
		if got.State != job.StateActive {
			t.Errorf("dequeue[%d].State = %q, want active", i, got.State)
		}
	}
}

func testDequeueFIFOWithinTier(t *testing.T, s store.Store) {
	var ids []id.JobID
	for range 5 {
		j := NewJob(job.TypeEnrollment, job.PriorityMedium)
		mustEnqueue(t, s, j)
		ids = append(ids, j.ID)
	}
	for i, w := range ids {
		if got := mustDequeue(t, s); got.ID != w {
			t.Errorf("dequeue[%d] = %v, want %v", i, got.ID, w)
		}
	}
}

func testDelayedPromotion(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(job.TypeCompletion, job.PriorityHigh)
	j.RunAt = time.Now().Add(150 * time.Millisecond)
	mustEnqueue(t, s, j)

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateDelayed {
		t.Errorf("State = %q, want delayed", got.State)
	}

	if early, _ := s.DequeueJob(ctx, id.NewWorkerID()); early != nil {
		t.Fatalf("delayed job dequeued before RunAt")
	}

	time.Sleep(200 * time.Millisecond)
	if got := mustDequeue(t, s); got.ID != j.ID {
		t.Errorf("dequeued %v, want promoted %v", got.ID, j.ID)
	}
}

func testUpdateRequeues(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewJob(job.TypeEnrollment, job.PriorityMedium)
	b := NewJob(job.TypeEnrollment, job.PriorityMedium)
	mustEnqueue(t, s, a)
	mustEnqueue(t, s, b)

	got := mustDequeue(t, s)
	if got.ID != a.ID {
		t.Fatalf("dequeued %v, want %v", got.ID, a.ID)
	}
	got.State = job.StateWaiting
	got.Attempts = 1
	got.LastError = "smtp timeout"
	if err := s.UpdateJob(ctx, got); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	// a re-entered waiting after b, so b is next.
	if next := mustDequeue(t, s); next.ID != b.ID {
		t.Errorf("dequeued %v, want %v", next.ID, b.ID)
	}
	again := mustDequeue(t, s)
	if again.ID != a.ID {
		t.Fatalf("dequeued %v, want %v", again.ID, a.ID)
	}
	if again.Attempts != 1 || again.LastError != "smtp timeout" {
		t.Errorf("updated fields = (%d, %q), want (1, smtp timeout)", again.Attempts, again.LastError)
	}

	again.State = job.StateDelayed
	again.RunAt = time.Now().Add(time.Hour)
	if err := s.UpdateJob(ctx, again); err != nil {
		t.Fatalf("UpdateJob delayed: %v", err)
	}
	if j, _ := s.DequeueJob(ctx, id.NewWorkerID()); j != nil {
		t.Errorf("delayed job %v dequeued before RunAt", j.ID)
	}

	missing := NewJob(job.TypeWelcome, job.PriorityLow)
	if err := s.UpdateJob(ctx, missing); !errors.Is(err, herald.ErrJobNotFound) {
		t.Errorf("UpdateJob(missing) error = %v, want %v", err, herald.ErrJobNotFound)
	}
}

func testUpdateRejectsTerminalState(t *testing.T, s store.Store) {
	j := NewJob(job.TypeWelcome, job.PriorityLow)
	mustEnqueue(t, s, j)
	j.State = job.StateCompleted
	if err := s.UpdateJob(context.Background(), j); !errors.Is(err, herald.ErrInvalidState) {
		t.Errorf("UpdateJob(completed) error = %v, want %v", err, herald.ErrInvalidState)
	}
}

func testCompleteCounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	for range 2 {
		j := NewJob(job.TypeWelcome, job.PriorityLow)
		mustEnqueue(t, s, j)
		got := mustDequeue(t, s)
		if err := s.CompleteJob(ctx, got.ID); err != nil {
			t.Fatalf("CompleteJob: %v", err)
		}
		if _, err := s.GetJob(ctx, got.ID); !errors.Is(err, herald.ErrJobNotFound) {
			t.Errorf("completed job still stored: %v", err)
		}
	}

	c, err := s.CountJobs(ctx)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if c.Completed != 2 {
		t.Errorf("Completed = %d, want 2", c.Completed)
	}
	if c.Active != 0 {
		t.Errorf("Active = %d, want 0", c.Active)
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(job.TypeWelcome, job.PriorityLow)
	mustEnqueue(t, s, j)

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, herald.ErrJobNotFound) {
		t.Errorf("second DeleteJob error = %v, want %v", err, herald.ErrJobNotFound)
	}
	if got, _ := s.DequeueJob(ctx, id.NewWorkerID()); got != nil {
		t.Errorf("deleted job %v was dequeued", got.ID)
	}
	c, _ := s.CountJobs(ctx)
	if c.Completed != 0 {
		t.Errorf("Completed = %d after delete, want 0", c.Completed)
	}
}

func testHeartbeatAndReap(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(job.TypeEnrollment, job.PriorityMedium)
	mustEnqueue(t, s, j)
	got := mustDequeue(t, s)

	time.Sleep(60 * time.Millisecond)
	stale, err := s.ReapStaleJobs(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != got.ID {
		t.Fatalf("ReapStaleJobs = %d jobs, want [%v]", len(stale), got.ID)
	}

	if err := s.HeartbeatJob(ctx, got.ID, id.NewWorkerID()); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}
	stale, err = s.ReapStaleJobs(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("ReapStaleJobs after heartbeat = %d jobs, want 0", len(stale))
	}

	if err := s.HeartbeatJob(ctx, id.NewJobID(), id.NewWorkerID()); !errors.Is(err, herald.ErrJobNotFound) {
		t.Errorf("HeartbeatJob(unknown) error = %v, want %v", err, herald.ErrJobNotFound)
	}
}

func testCounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	for range 3 {
		mustEnqueue(t, s, NewJob(job.TypeWelcome, job.PriorityLow))
	}
	delayed := NewJob(job.TypeWelcome, job.PriorityLow)
	delayed.RunAt = time.Now().Add(time.Hour)
	mustEnqueue(t, s, delayed)
	mustDequeue(t, s)

	c, err := s.CountJobs(ctx)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	want := job.Counts{Waiting: 2, Active: 1, Delayed: 1}
	if c != want {
		t.Errorf("CountJobs = %+v, want %+v", c, want)
	}
}

func newEntry(failedAt time.Time) *dlq.Entry {
	return &dlq.Entry{
		JobID:       id.NewJobID(),
		Type:        job.TypeEnrollment,
		Email:       "learner@example.com",
		Data:        json.RawMessage(`{"courseId":"c1"}`),
		Priority:    job.PriorityMedium,
		Attempts:    3,
		MaxAttempts: 3,
		Error:       "smtp: 554 rejected",
		EnqueuedAt:  failedAt.Add(-time.Minute),
		FailedAt:    failedAt,
	}
}

func testDLQPushGetDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newEntry(time.Now().UTC())
	if err := s.PushDLQ(ctx, e); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}

	got, err := s.GetDLQ(ctx, e.JobID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.Type != e.Type || got.Email != e.Email || got.Error != e.Error {
		t.Errorf("GetDLQ = %+v, want %+v", got, e)
	}
	if got.Priority != e.Priority || got.Attempts != 3 || got.MaxAttempts != 3 {
		t.Errorf("GetDLQ counters = (%v, %d, %d)", got.Priority, got.Attempts, got.MaxAttempts)
	}
	if string(got.Data) != string(e.Data) {
		t.Errorf("Data = %s, want %s", got.Data, e.Data)
	}
	if !got.FailedAt.Equal(e.FailedAt) {
		t.Errorf("FailedAt = %v, want %v", got.FailedAt, e.FailedAt)
	}

	if err := s.DeleteDLQ(ctx, e.JobID); err != nil {
		t.Fatalf("DeleteDLQ: %v", err)
	}
	if _, err := s.GetDLQ(ctx, e.JobID); !errors.Is(err, herald.ErrDLQNotFound) {
		t.Errorf("GetDLQ after delete error = %v, want %v", err, herald.ErrDLQNotFound)
	}
	if err := s.DeleteDLQ(ctx, e.JobID); !errors.Is(err, herald.ErrDLQNotFound) {
		t.Errorf("second DeleteDLQ error = %v, want %v", err, herald.ErrDLQNotFound)
	}
}

func testDLQListNewestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	var entries []*dlq.Entry
	for i := range 4 {
		e := newEntry(base.Add(time.Duration(i) * time.Minute))
		entries = append(entries, e)
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	got, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("ListDLQ = %d entries, want 4", len(got))
	}
	for i := range got {
		if want := entries[len(entries)-1-i].JobID; got[i].JobID != want {
			t.Errorf("ListDLQ[%d] = %v, want %v", i, got[i].JobID, want)
		}
	}

	page, err := s.ListDLQ(ctx, dlq.ListOpts{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListDLQ page: %v", err)
	}
	if len(page) != 2 || page[0].JobID != entries[2].JobID || page[1].JobID != entries[1].JobID {
		t.Errorf("ListDLQ page mismatch: %d entries", len(page))
	}

	if n, _ := s.CountDLQ(ctx); n != 4 {
		t.Errorf("CountDLQ = %d, want 4", n)
	}
}

func testDLQPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	old := newEntry(now.Add(-48 * time.Hour))
	fresh := newEntry(now)
	for _, e := range []*dlq.Entry{old, fresh} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	n, err := s.PurgeDLQ(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeDLQ = %d, want 1", n)
	}
	if _, err := s.GetDLQ(ctx, old.JobID); !errors.Is(err, herald.ErrDLQNotFound) {
		t.Error("expired entry survived purge")
	}
	if _, err := s.GetDLQ(ctx, fresh.JobID); err != nil {
		t.Errorf("fresh entry purged: %v", err)
	}
}

func testDLQTrim(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	var entries []*dlq.Entry
	for i := range 5 {
		e := newEntry(base.Add(time.Duration(i) * time.Second))
		entries = append(entries, e)
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	n, err := s.TrimDLQ(ctx, 3)
	if err != nil {
		t.Fatalf("TrimDLQ: %v", err)
	}
	if n != 2 {
		t.Errorf("TrimDLQ = %d, want 2", n)
	}
	for _, e := range entries[:2] {
		if _, err := s.GetDLQ(ctx, e.JobID); !errors.Is(err, herald.ErrDLQNotFound) {
			t.Errorf("oldest entry %v survived trim", e.JobID)
		}
	}
	if c, _ := s.CountDLQ(ctx); c != 3 {
		t.Errorf("CountDLQ = %d, want 3", c)
	}

	if n, _ := s.TrimDLQ(ctx, 10); n != 0 {
		t.Errorf("TrimDLQ above size = %d, want 0", n)
	}
}
