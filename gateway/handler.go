package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/herald"
	"github.com/xraph/herald/stream"
)

// Client-to-server events.
const (
	EventJoinCourse     stream.Name = "join:course"
	EventLeaveCourse    stream.Name = "leave:course"
	EventProgressUpdate stream.Name = "progress:update"
	EventTypingStart    stream.Name = "typing:start"
	EventTypingStop     stream.Name = "typing:stop"
	EventPing           stream.Name = "ping"
)

// handleFrame decodes and dispatches one client event. Problems are
// reported to the sender as error events; they never close the connection.
func (s *Server) handleFrame(c *Connection, data []byte) {
	frame, err := c.Codec.Decode(data)
	if err != nil {
		s.emitError(c, "invalid frame: "+err.Error())
		return
	}
	if !c.allow() {
		s.logger.Debug("gateway event rate limited",
			slog.String("conn_id", c.ID),
			slog.String("event", string(frame.Name)),
		)
		s.emitError(c, "rate limit exceeded")
		return
	}

	switch frame.Name {
	case EventPing:
		s.broker.EmitTo(c.ID, &stream.Event{Name: stream.EventPong, Data: frame.Data, Timestamp: frame.Timestamp})

	case EventJoinCourse, EventLeaveCourse:
		courseID, err := courseIDFrom(frame.Data)
		if err != nil {
			s.emitError(c, err.Error())
			return
		}
		room := stream.CourseRoom(courseID)
		if frame.Name == EventJoinCourse {
			s.broker.Join(c.ID, room)
		} else {
			s.broker.Leave(c.ID, room)
		}
		s.logger.Debug("gateway room change",
			slog.String("conn_id", c.ID),
			slog.String("event", string(frame.Name)),
			slog.String("room", room),
		)

	case EventProgressUpdate:
		payload, courseID, err := progressPayload(frame.Data, c.Identity.UserID)
		if err != nil {
			s.emitError(c, err.Error())
			return
		}
		s.broker.EmitToRoom(stream.CourseRoom(courseID), stream.NewEvent(stream.EventProgressUpdated, payload), c.ID)

	case EventTypingStart, EventTypingStop:
		courseID, err := courseIDFrom(frame.Data)
		if err != nil {
			s.emitError(c, err.Error())
			return
		}
		name := stream.EventUserTyping
		if frame.Name == EventTypingStop {
			name = stream.EventUserStoppedTyping
		}
		s.broker.EmitToRoom(stream.CourseRoom(courseID), stream.NewEvent(name, stream.TypingData{
			UserID:   c.Identity.UserID,
			CourseID: courseID,
		}), c.ID)

	default:
		s.emitError(c, fmt.Sprintf("unknown event %q", frame.Name))
	}
}

func (s *Server) emitError(c *Connection, msg string) {
	s.broker.EmitTo(c.ID, stream.NewEvent(stream.EventError, stream.ErrorData{Message: msg}))
}

// courseIDFrom accepts either a bare JSON string or an object with a
// courseId field.
func courseIDFrom(data json.RawMessage) (string, error) {
	var courseID string
	if err := json.Unmarshal(data, &courseID); err != nil {
		var obj struct {
			CourseID string `json:"courseId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", fmt.Errorf("%w: expected course id", herald.ErrInvalidRoom)
		}
		courseID = obj.CourseID
	}
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return "", fmt.Errorf("%w: empty course id", herald.ErrInvalidRoom)
	}
	return courseID, nil
}

// progressPayload stamps the sender's user id onto a progress update so
// receivers cannot be told someone else made it.
func progressPayload(data json.RawMessage, userID string) (map[string]json.RawMessage, string, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		return nil, "", errors.New("progress update must be an object")
	}
	courseID, err := courseIDFrom(payload["courseId"])
	if err != nil {
		return nil, "", err
	}
	uid, _ := json.Marshal(userID) //nolint:errcheck // strings always marshal
	payload["userId"] = uid
	return payload, courseID, nil
}
