package stream

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xraph/herald"
)

// Room names follow a pattern:
//
//	user:<userID>      private room of one user's connections
//	course:<courseID>  everyone currently viewing a course

const (
	roomUser   = "user"
	roomCourse = "course"
)

// UserRoom returns the private room name for a user.
func UserRoom(userID string) string { return roomUser + ":" + userID }

// CourseRoom returns the shared room name for a course.
func CourseRoom(courseID string) string { return roomCourse + ":" + courseID }

// ParseRoom extracts the kind and ID from a room name.
// For example, "course:c1" returns ("course", "c1").
func ParseRoom(room string) (kind, id string) {
	idx := strings.IndexByte(room, ':')
	if idx < 0 {
		return "", ""
	}
	return room[:idx], room[idx+1:]
}

// ValidateRoom checks whether room is a well-formed room name.
func ValidateRoom(room string) error {
	kind, id := ParseRoom(room)
	if kind == "" || id == "" {
		return fmt.Errorf("%w: %q", herald.ErrInvalidRoom, room)
	}
	switch kind {
	case roomUser, roomCourse:
		return nil
	default:
		return fmt.Errorf("%w: unknown room kind %q", herald.ErrInvalidRoom, kind)
	}
}

// RoomRegistry manages subscriber sets per room.
// It is safe for concurrent use.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Subscriber // room → subscriberID → subscriber
}

// NewRoomRegistry creates an empty room registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]map[string]*Subscriber),
	}
}

// Join adds a subscriber to a room, creating the room if needed.
func (rr *RoomRegistry) Join(room string, sub *Subscriber) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	subs, ok := rr.rooms[room]
	if !ok {
		subs = make(map[string]*Subscriber)
		rr.rooms[room] = subs
	}
	subs[sub.ID()] = sub
	sub.addRoom(room)
}

// Leave removes a subscriber from a room. Empty rooms are dropped.
func (rr *RoomRegistry) Leave(room, subscriberID string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	subs, ok := rr.rooms[room]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeRoom(room)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(rr.rooms, room)
	}
}

// LeaveAll removes a subscriber from every room.
func (rr *RoomRegistry) LeaveAll(subscriberID string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	for room, subs := range rr.rooms {
		if sub, ok := subs[subscriberID]; ok {
			sub.removeRoom(room)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(rr.rooms, room)
		}
	}
}

// members returns a snapshot of a room's subscribers except excludeID.
func (rr *RoomRegistry) members(room, excludeID string) []*Subscriber {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	subs := rr.rooms[room]
	out := make([]*Subscriber, 0, len(subs))
	for id, s := range subs {
		if id != excludeID {
			out = append(out, s)
		}
	}
	return out
}

// RoomCount returns the number of non-empty rooms.
func (rr *RoomRegistry) RoomCount() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return len(rr.rooms)
}

// MemberCount returns the number of subscribers in a room.
func (rr *RoomRegistry) MemberCount(room string) int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return len(rr.rooms[room])
}
