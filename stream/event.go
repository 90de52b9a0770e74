// Package stream fans realtime events out to gateway connections grouped
// into rooms. Every connection owns a buffered Subscriber; emits never
// block, and an event for a full buffer is dropped and counted.
package stream

import (
	"encoding/json"
	"time"
)

// Name identifies a realtime event.
type Name string

// Server-to-client events.
const (
	EventConnected           Name = "connected"
	EventEnrollmentSuccess   Name = "enrollment:success"
	EventProgressUpdated     Name = "progress:updated"
	EventModuleCompleted     Name = "module:completed"
	EventUserEnrolled        Name = "user:enrolled"
	EventUserModuleCompleted Name = "user:module_completed"
	EventUserTyping          Name = "user:typing"
	EventUserStoppedTyping   Name = "user:stopped_typing"
	EventNotification        Name = "notification"
	EventError               Name = "error"
	EventPong                Name = "pong"
)

// Event is what a subscriber receives.
type Event struct {
	// Name identifies the event.
	Name Name `json:"event" msgpack:"event"`

	// Room is the room the event was emitted to. Empty for direct and
	// broadcast emits.
	Room string `json:"room,omitempty" msgpack:"room,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Timestamp is when the event was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// NewEvent builds an event with data JSON-encoded. It panics if data is
// not serializable (programming error).
func NewEvent(name Name, data any) *Event {
	evt := &Event{Name: name, Timestamp: time.Now().UTC()}
	if data != nil {
		evt.Data = mustMarshal(data)
	}
	return evt
}

// ConnectedData is the payload of EventConnected.
type ConnectedData struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// TypingData is the payload of EventUserTyping and EventUserStoppedTyping.
type TypingData struct {
	UserID   string `json:"userId"`
	CourseID string `json:"courseId"`
}

// ErrorData is the payload of EventError.
type ErrorData struct {
	Message string `json:"message"`
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}
