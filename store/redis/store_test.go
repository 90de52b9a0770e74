package redis_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/store"
	redisstore "github.com/xraph/herald/store/redis"
	"github.com/xraph/herald/store/storetest"
)

func newStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.New(client, redisstore.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))), mr
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, _ := newStore(t)
		return s
	})
}

func TestPing(t *testing.T) {
	s, mr := newStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("Ping after server close should fail")
	}
}

func TestPayloadWireFormat(t *testing.T) {
	s, mr := newStore(t)
	j := storetest.NewJob(job.TypeEnrollment, job.PriorityHigh)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got := mr.HGet("herald:job:"+j.ID.String(), "payload")
	want := `{"type":"enrollment","email":"learner@example.com","data":{"courseId":"c1"}}`
	if got != want {
		t.Errorf("payload = %s, want %s", got, want)
	}
	if rank := mr.HGet("herald:job:"+j.ID.String(), "priority"); rank != "1" {
		t.Errorf("priority rank = %q, want 1", rank)
	}
}

func TestDequeueSharedAcrossStores(t *testing.T) {
	// Two stores on the same server behave like two processes: each job is
	// claimed exactly once.
	mr := miniredis.RunT(t)
	a := redisstore.New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	b := redisstore.New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	for range 4 {
		if err := a.EnqueueJob(ctx, storetest.NewJob(job.TypeWelcome, job.PriorityLow)); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	seen := map[id.JobID]bool{}
	for i := range 4 {
		s := a
		if i%2 == 1 {
			s = b
		}
		j, err := s.DequeueJob(ctx, id.NewWorkerID())
		if err != nil || j == nil {
			t.Fatalf("DequeueJob = (%v, %v)", j, err)
		}
		if seen[j.ID] {
			t.Fatalf("job %v claimed twice", j.ID)
		}
		seen[j.ID] = true
	}
	if j, _ := b.DequeueJob(ctx, id.NewWorkerID()); j != nil {
		t.Errorf("extra job %v dequeued", j.ID)
	}
}
