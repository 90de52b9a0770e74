package stream

import (
	"sync"
)

// Subscriber receives events for the rooms it has joined. Sends are
// non-blocking: when the buffer is full the event is dropped.
type Subscriber struct {
	id string
	ch chan *Event

	// rooms tracks which rooms this subscriber is in.
	rooms   map[string]struct{}
	roomsMu sync.RWMutex

	// mu guards closed against concurrent send.
	mu     sync.RWMutex
	closed bool
}

// NewSubscriber creates a subscriber with the given buffer size.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		id:    id,
		ch:    make(chan *Event, bufferSize),
		rooms: make(map[string]struct{}),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel. It is closed by Close.
func (s *Subscriber) C() <-chan *Event { return s.ch }

func (s *Subscriber) addRoom(room string) {
	s.roomsMu.Lock()
	s.rooms[room] = struct{}{}
	s.roomsMu.Unlock()
}

func (s *Subscriber) removeRoom(room string) {
	s.roomsMu.Lock()
	delete(s.rooms, room)
	s.roomsMu.Unlock()
}

// Rooms returns a copy of the joined room names.
func (s *Subscriber) Rooms() []string {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	return out
}

// InRoom reports whether the subscriber has joined room.
func (s *Subscriber) InRoom(room string) bool {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

// send attempts delivery without blocking. Returns false if the event was
// dropped because the buffer is full or the subscriber is closed.
func (s *Subscriber) send(evt *Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

// Close closes the event channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
