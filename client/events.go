package client

import (
	"encoding/json"

	"github.com/xraph/herald/gateway"
	"github.com/xraph/herald/stream"
)

// JoinCourse joins the course's shared room. The client rejoins it
// automatically after a reconnect.
func (c *Client) JoinCourse(courseID string) error {
	if err := c.Emit(gateway.EventJoinCourse, courseID); err != nil {
		return err
	}
	c.coursesMu.Lock()
	c.courses[courseID] = struct{}{}
	c.coursesMu.Unlock()
	return nil
}

// LeaveCourse leaves the course's shared room.
func (c *Client) LeaveCourse(courseID string) error {
	c.coursesMu.Lock()
	delete(c.courses, courseID)
	c.coursesMu.Unlock()
	return c.Emit(gateway.EventLeaveCourse, courseID)
}

// UpdateProgress reports progress to the other members of the course room.
// fields are sent alongside courseId.
func (c *Client) UpdateProgress(courseID string, fields map[string]any) error {
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["courseId"] = courseID
	return c.Emit(gateway.EventProgressUpdate, payload)
}

// Typing announces that the user started (true) or stopped typing in a
// course.
func (c *Client) Typing(courseID string, typing bool) error {
	name := gateway.EventTypingStop
	if typing {
		name = gateway.EventTypingStart
	}
	return c.Emit(name, map[string]string{"courseId": courseID})
}

// Ping asks the gateway for a pong event.
func (c *Client) Ping() error {
	return c.Emit(gateway.EventPing, nil)
}

// Decode unmarshals an event's data into dst.
func Decode(evt *stream.Event, dst any) error {
	return decodeData(evt, dst)
}

func decodeData(evt *stream.Event, dst any) error {
	if len(evt.Data) == 0 {
		return nil
	}
	return json.Unmarshal(evt.Data, dst)
}

func marshalData(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
