package event_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemoryBus(t *testing.T) *event.Bus {
	t.Helper()
	b := event.NewBus(event.NewMemoryTransport(0), event.WithLogger(testLogger()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newRedisBus(t *testing.T) (*event.Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tr := event.NewRedisTransport(client, event.WithRedisLogger(testLogger()))
	b := event.NewBus(tr, event.WithLogger(testLogger()))
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// waitSubscribed waits until miniredis reports n subscribers on channel.
func waitSubscribed(t *testing.T, mr *miniredis.Miniredis, channel event.Channel, n int) {
	t.Helper()
	waitFor(t, func() bool {
		return mr.PubSubNumSub(string(channel))[string(channel)] == n
	})
}

// fanOutCase subscribes two handlers, one of which fails, and checks
// both run exactly once per publish.
func fanOutCase(t *testing.T, b *event.Bus, ready func()) {
	t.Helper()
	ctx := context.Background()

	var good, bad atomic.Int32
	if !b.Subscribe(ctx, event.ChannelEnrollment, func(context.Context, *event.Envelope) error {
		good.Add(1)
		return nil
	}) {
		t.Fatal("Subscribe(good) = false")
	}
	if !b.Subscribe(ctx, event.ChannelEnrollment, func(context.Context, *event.Envelope) error {
		if bad.Add(1) == 1 {
			return errors.New("handler exploded")
		}
		panic("handler panicked")
	}) {
		t.Fatal("Subscribe(bad) = false")
	}
	if ready != nil {
		ready()
	}

	for range 2 {
		if !b.PublishEnrollment(ctx, "u1", "c1", "Go Basics") {
			t.Fatal("PublishEnrollment = false")
		}
	}

	waitFor(t, func() bool { return good.Load() == 2 && bad.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := good.Load(); got != 2 {
		t.Errorf("good handler calls = %d, want 2", got)
	}
	if got := bad.Load(); got != 2 {
		t.Errorf("bad handler calls = %d, want 2", got)
	}
}

func TestBus_FanOutIsolatesFailures_Memory(t *testing.T) {
	t.Parallel()
	fanOutCase(t, newMemoryBus(t), nil)
}

func TestBus_FanOutIsolatesFailures_Redis(t *testing.T) {
	t.Parallel()
	b, mr := newRedisBus(t)
	fanOutCase(t, b, func() { waitSubscribed(t, mr, event.ChannelEnrollment, 1) })
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mb := newMemoryBus(t)
	if !mb.Publish(ctx, "course:unheard", map[string]string{"k": "v"}) {
		t.Error("memory Publish with no subscribers = false, want true")
	}

	rb, _ := newRedisBus(t)
	if !rb.Publish(ctx, "course:unheard", map[string]string{"k": "v"}) {
		t.Error("redis Publish with no subscribers = false, want true")
	}
}

func TestBus_EnvelopeShape(t *testing.T) {
	t.Parallel()
	b, mr := newRedisBus(t)
	ctx := context.Background()

	got := make(chan event.EnrollmentEvent, 1)
	var at time.Time
	var mu sync.Mutex
	ok := event.On(ctx, b, event.ChannelEnrollment, func(_ context.Context, ts time.Time, e event.EnrollmentEvent) error {
		mu.Lock()
		at = ts
		mu.Unlock()
		got <- e
		return nil
	})
	if !ok {
		t.Fatal("On = false")
	}
	waitSubscribed(t, mr, event.ChannelEnrollment, 1)

	before := time.Now().UTC().Add(-time.Second)
	b.PublishEnrollment(ctx, "u1", "c1", "Go Basics")

	select {
	case e := <-got:
		want := event.EnrollmentEvent{UserID: "u1", CourseID: "c1", CourseName: "Go Basics", Event: "enrolled"}
		if e != want {
			t.Errorf("payload = %+v, want %+v", e, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("enrollment event not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if at.Before(before) {
		t.Errorf("timestamp = %v, want after %v", at, before)
	}
}

func TestBus_UnsubscribeRemovesAllHandlers(t *testing.T) {
	t.Parallel()
	b, mr := newRedisBus(t)
	ctx := context.Background()

	var calls atomic.Int32
	h := func(context.Context, *event.Envelope) error { calls.Add(1); return nil }
	b.Subscribe(ctx, event.ChannelProgress, h)
	b.Subscribe(ctx, event.ChannelProgress, h)
	if got := b.Handlers(event.ChannelProgress); got != 2 {
		t.Fatalf("Handlers = %d, want 2", got)
	}
	waitSubscribed(t, mr, event.ChannelProgress, 1)

	if !b.Unsubscribe(ctx, event.ChannelProgress) {
		t.Fatal("Unsubscribe = false")
	}
	if got := b.Handlers(event.ChannelProgress); got != 0 {
		t.Errorf("Handlers after Unsubscribe = %d, want 0", got)
	}
	waitSubscribed(t, mr, event.ChannelProgress, 0)

	b.PublishProgress(ctx, event.ProgressEvent{UserID: "u1", CourseID: "c1", Progress: 50})
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("calls after Unsubscribe = %d, want 0", got)
	}

	if !b.Unsubscribe(ctx, "course:never") {
		t.Error("Unsubscribe of an unknown channel = false, want true")
	}
}

func TestBus_UserChannel(t *testing.T) {
	t.Parallel()
	b := newMemoryBus(t)
	ctx := context.Background()

	got := make(chan event.Notification, 1)
	event.On(ctx, b, event.UserChannel("u7"), func(_ context.Context, _ time.Time, n event.Notification) error {
		got <- n
		return nil
	})

	b.NotifyUser(ctx, "u8", event.Notification{Type: "info", Title: "not yours"})
	b.NotifyUser(ctx, "u7", event.Notification{Type: "course_complete", Title: "Done", Message: "Congratulations"})

	select {
	case n := <-got:
		if n.Title != "Done" {
			t.Errorf("Title = %q, want %q", n.Title, "Done")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestBus_InvalidChannel(t *testing.T) {
	t.Parallel()
	b := newMemoryBus(t)
	ctx := context.Background()

	for _, ch := range []event.Channel{"", "course:*", "has space"} {
		if b.Publish(ctx, ch, 1) {
			t.Errorf("Publish(%q) = true, want false", ch)
		}
		if b.Subscribe(ctx, ch, func(context.Context, *event.Envelope) error { return nil }) {
			t.Errorf("Subscribe(%q) = true, want false", ch)
		}
		if err := event.ValidateChannel(ch); !errors.Is(err, herald.ErrInvalidChannel) {
			t.Errorf("ValidateChannel(%q) = %v, want %v", ch, err, herald.ErrInvalidChannel)
		}
	}
}

func TestBus_PanicsOnUnserializable(t *testing.T) {
	t.Parallel()
	b := newMemoryBus(t)

	defer func() {
		if recover() == nil {
			t.Error("expected panic for non-serializable data")
		}
	}()
	b.Publish(context.Background(), event.ChannelProgress, make(chan int))
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	b := event.NewBus(event.NewMemoryTransport(0), event.WithLogger(testLogger()))
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if b.Publish(context.Background(), event.ChannelProgress, 1) {
		t.Error("Publish after Close = true, want false")
	}
}

type recorder struct {
	mu        sync.Mutex
	published map[string]int
	handled   map[string]int
}

func (r *recorder) EventPublished(kind string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.published[kind]++
	}
}

func (r *recorder) EventHandled(kind string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled[kind]++
}

func TestBus_Recorder(t *testing.T) {
	t.Parallel()
	rec := &recorder{published: map[string]int{}, handled: map[string]int{}}
	b := event.NewBus(event.NewMemoryTransport(0), event.WithLogger(testLogger()), event.WithRecorder(rec))
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	b.Subscribe(ctx, event.UserChannel("u1"), func(context.Context, *event.Envelope) error { return nil })
	b.NotifyUser(ctx, "u1", event.Notification{Title: "hi"})

	waitFor(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.handled["user_notification"] == 1
	})
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if got := rec.published["user_notification"]; got != 1 {
		t.Errorf("published[user_notification] = %d, want 1", got)
	}
}

func TestChannel_Kind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		channel event.Channel
		want    event.Kind
	}{
		{event.ChannelEnrollment, event.KindEnrollment},
		{event.ChannelProgress, event.KindProgress},
		{event.ChannelModuleCompletion, event.KindModuleCompletion},
		{event.UserChannel("u1"), event.KindUserNotification},
		{"user::notifications", event.KindCustom},
		{"ops:alerts", event.KindCustom},
	}
	for _, tt := range tests {
		if got := tt.channel.Kind(); got != tt.want {
			t.Errorf("%q.Kind() = %v, want %v", tt.channel, got, tt.want)
		}
	}

	if uid, ok := event.UserChannel("u42").UserID(); !ok || uid != "u42" {
		t.Errorf("UserID = (%q, %v), want (u42, true)", uid, ok)
	}
}
