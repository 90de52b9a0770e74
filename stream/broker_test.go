package stream

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/xraph/herald"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
		return nil
	}
}

func assertEmpty(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Errorf("subscriber %s got unexpected %q", sub.ID(), evt.Name)
	default:
	}
}

func TestBrokerEmitToRoomExcludesSender(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	room := CourseRoom("c1")
	a := b.Subscribe("conn-a", room)
	c := b.Subscribe("conn-b", room)
	outsider := b.Subscribe("conn-c", CourseRoom("c2"))

	n := b.EmitToRoom(room, NewEvent(EventProgressUpdated, map[string]any{"progress": 40}), a.ID())
	if n != 1 {
		t.Errorf("EmitToRoom delivered = %d, want 1", n)
	}

	evt := receive(t, c)
	if evt.Name != EventProgressUpdated {
		t.Errorf("Name = %q, want %q", evt.Name, EventProgressUpdated)
	}
	if evt.Room != room {
		t.Errorf("Room = %q, want %q", evt.Room, room)
	}
	assertEmpty(t, a)
	assertEmpty(t, outsider)
}

func TestBrokerEmitToUserReachesEveryConnection(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	tab1 := b.Subscribe("conn-1", UserRoom("u1"))
	tab2 := b.Subscribe("conn-2", UserRoom("u1"))
	other := b.Subscribe("conn-3", UserRoom("u2"))

	if n := b.EmitToUser("u1", NewEvent(EventNotification, nil)); n != 2 {
		t.Errorf("EmitToUser delivered = %d, want 2", n)
	}
	receive(t, tab1)
	receive(t, tab2)
	assertEmpty(t, other)

	if n := b.EmitToUser("nobody", NewEvent(EventNotification, nil)); n != 0 {
		t.Errorf("EmitToUser(offline) delivered = %d, want 0", n)
	}
}

func TestBrokerEmitToAll(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	subs := []*Subscriber{
		b.Subscribe("conn-1", UserRoom("u1")),
		b.Subscribe("conn-2"),
	}
	if n := b.EmitToAll(NewEvent(EventNotification, map[string]string{"title": "maintenance"})); n != 2 {
		t.Errorf("EmitToAll delivered = %d, want 2", n)
	}
	for _, s := range subs {
		evt := receive(t, s)
		var data map[string]string
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
		if data["title"] != "maintenance" {
			t.Errorf("title = %q, want %q", data["title"], "maintenance")
		}
	}
}

func TestBrokerJoinLeave(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("conn-1", UserRoom("u1"))

	if !b.Join("conn-1", CourseRoom("c1")) {
		t.Fatal("Join = false")
	}
	if b.Join("conn-missing", CourseRoom("c1")) {
		t.Error("Join for unknown subscriber = true")
	}
	rooms := sub.Rooms()
	sort.Strings(rooms)
	if len(rooms) != 2 || rooms[0] != "course:c1" || rooms[1] != "user:u1" {
		t.Errorf("Rooms = %v, want [course:c1 user:u1]", rooms)
	}

	b.Leave("conn-1", CourseRoom("c1"))
	if sub.InRoom(CourseRoom("c1")) {
		t.Error("still in course room after Leave")
	}
	if got := b.Rooms().MemberCount(CourseRoom("c1")); got != 0 {
		t.Errorf("MemberCount = %d, want 0", got)
	}
	if b.EmitToRoom(CourseRoom("c1"), NewEvent(EventUserTyping, nil), "") != 0 {
		t.Error("emit to left room was delivered")
	}
}

func TestBrokerRemoveSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("conn-1", UserRoom("u1"), CourseRoom("c1"))
	b.RemoveSubscriber("conn-1")

	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed after RemoveSubscriber")
	}
	if got := b.Rooms().RoomCount(); got != 0 {
		t.Errorf("RoomCount = %d, want 0", got)
	}
	if b.EmitTo("conn-1", NewEvent(EventPong, nil)) {
		t.Error("EmitTo removed subscriber = true")
	}
	// Closing twice is safe.
	sub.Close()
}

func TestBrokerDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithBufferSize(1))
	sub := b.Subscribe("conn-1", UserRoom("u1"))

	b.EmitToUser("u1", NewEvent(EventNotification, nil))
	if n := b.EmitToUser("u1", NewEvent(EventNotification, nil)); n != 0 {
		t.Errorf("emit into full buffer delivered = %d, want 0", n)
	}

	stats := b.Stats()
	if stats.TotalPublished != 1 || stats.TotalDropped != 1 {
		t.Errorf("Stats = %+v, want published 1 dropped 1", stats)
	}
	receive(t, sub)
}

func TestBrokerStats(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	b.Subscribe("conn-1", UserRoom("u1"), CourseRoom("c1"))
	b.Subscribe("conn-2", UserRoom("u2"), CourseRoom("c1"))

	stats := b.Stats()
	if stats.SubscriberCount != 2 {
		t.Errorf("SubscriberCount = %d, want 2", stats.SubscriberCount)
	}
	if stats.RoomCount != 3 {
		t.Errorf("RoomCount = %d, want 3", stats.RoomCount)
	}

	b.Close()
	if got := b.Stats().SubscriberCount; got != 0 {
		t.Errorf("SubscriberCount after Close = %d, want 0", got)
	}
}

func TestValidateRoom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		room    string
		wantErr bool
	}{
		{"user:u1", false},
		{"course:c1", false},
		{"course:", true},
		{"user", true},
		{"", true},
		{"lesson:l1", true},
	}
	for _, tt := range tests {
		err := ValidateRoom(tt.room)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateRoom(%q) error = %v, wantErr %v", tt.room, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, herald.ErrInvalidRoom) {
			t.Errorf("ValidateRoom(%q) error = %v, want %v", tt.room, err, herald.ErrInvalidRoom)
		}
	}
}

func TestNewEventPanicsOnUnserializable(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for non-serializable data")
		}
	}()
	NewEvent(EventNotification, make(chan int))
}
