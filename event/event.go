package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/herald"
)

// Channel is a named pub/sub topic.
type Channel string

// Well-known channels. Each carries a fixed payload shape.
const (
	ChannelEnrollment       Channel = "course:enrollment"
	ChannelProgress         Channel = "course:progress"
	ChannelModuleCompletion Channel = "course:module_completion"
)

const (
	userChannelPrefix = "user:"
	userChannelSuffix = ":notifications"
)

// UserChannel returns the per-user notification channel for userID.
func UserChannel(userID string) Channel {
	return Channel(userChannelPrefix + userID + userChannelSuffix)
}

// Kind classifies a channel by the payload it carries.
type Kind int

// Channel kinds.
const (
	KindCustom Kind = iota
	KindEnrollment
	KindProgress
	KindModuleCompletion
	KindUserNotification
)

var kindNames = map[Kind]string{
	KindCustom:           "custom",
	KindEnrollment:       "enrollment",
	KindProgress:         "progress",
	KindModuleCompletion: "module_completion",
	KindUserNotification: "user_notification",
}

// String returns the kind's label, suitable for metrics.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Kind returns the kind of c. Channels not known at compile time are
// KindCustom.
func (c Channel) Kind() Kind {
	switch c {
	case ChannelEnrollment:
		return KindEnrollment
	case ChannelProgress:
		return KindProgress
	case ChannelModuleCompletion:
		return KindModuleCompletion
	}
	if _, ok := c.UserID(); ok {
		return KindUserNotification
	}
	return KindCustom
}

// UserID extracts the user id from a per-user notification channel.
func (c Channel) UserID() (string, bool) {
	s := string(c)
	if !strings.HasPrefix(s, userChannelPrefix) || !strings.HasSuffix(s, userChannelSuffix) {
		return "", false
	}
	uid := s[len(userChannelPrefix) : len(s)-len(userChannelSuffix)]
	if uid == "" {
		return "", false
	}
	return uid, true
}

// ValidateChannel rejects empty names, whitespace and glob metacharacters.
// Subscriptions are exact-match, so a pattern would silently never fire.
func ValidateChannel(c Channel) error {
	if c == "" {
		return fmt.Errorf("%w: empty channel", herald.ErrInvalidChannel)
	}
	if strings.ContainsAny(string(c), " \t\r\n*?[]") {
		return fmt.Errorf("%w: %q", herald.ErrInvalidChannel, c)
	}
	return nil
}

// Envelope is the wire form of every published message.
type Envelope struct {
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Decode unmarshals the envelope's data into dst.
func (e *Envelope) Decode(dst any) error {
	return json.Unmarshal(e.Data, dst)
}

// ── Payloads ──────────────────────────────────────

// EnrollmentEvent is published on ChannelEnrollment.
type EnrollmentEvent struct {
	UserID     string `json:"userId"`
	CourseID   string `json:"courseId"`
	CourseName string `json:"courseName"`
	Event      string `json:"event"`
}

// EnrollmentEnrolled is the only EnrollmentEvent.Event value.
const EnrollmentEnrolled = "enrolled"

// ProgressEvent is published on ChannelProgress.
type ProgressEvent struct {
	UserID           string   `json:"userId"`
	CourseID         string   `json:"courseId"`
	ModuleID         string   `json:"moduleId,omitempty"`
	Progress         float64  `json:"progress"`
	CompletedModules []string `json:"completedModules,omitempty"`
}

// ModuleCompletionEvent is published on ChannelModuleCompletion.
type ModuleCompletionEvent struct {
	UserID     string `json:"userId"`
	CourseID   string `json:"courseId"`
	ModuleID   string `json:"moduleId"`
	ModuleName string `json:"moduleName"`
}

// Notification is published on a per-user channel.
type Notification struct {
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}
