package job

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
)

// Type identifies which side effect a job performs. Each type maps to
// exactly one handler.
type Type string

const (
	// TypeVerification sends the email address verification link.
	TypeVerification Type = "verification"
	// TypePasswordReset sends the password reset link.
	TypePasswordReset Type = "password_reset"
	// TypeWelcome sends the welcome email after verification.
	TypeWelcome Type = "welcome"
	// TypeEnrollment confirms a course enrollment.
	TypeEnrollment Type = "enrollment"
	// TypeCompletion congratulates a user on completing a course.
	TypeCompletion Type = "completion"
)

// Types returns every known job type.
func Types() []Type {
	return []Type{TypeVerification, TypePasswordReset, TypeWelcome, TypeEnrollment, TypeCompletion}
}

// Valid reports whether t is one of the known job types.
func (t Type) Valid() bool {
	switch t {
	case TypeVerification, TypePasswordReset, TypeWelcome, TypeEnrollment, TypeCompletion:
		return true
	}
	return false
}

// Priority is the numeric rank understood by the queue scheduler. Lower
// ranks are dequeued first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

// Valid reports whether p is high, medium or low.
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority parses "high", "medium", "low" or their ranks "1".."3".
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "1":
		return PriorityHigh, nil
	case "medium", "2", "":
		return PriorityMedium, nil
	case "low", "3":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("%w: %q", herald.ErrInvalidPriority, s)
}

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is ready to be picked up by a worker.
	StateWaiting State = "waiting"
	// StateActive means a worker is currently executing the job.
	StateActive State = "active"
	// StateDelayed means the job is waiting for its RunAt, either because
	// it was scheduled for later or because it is backing off after a
	// failed attempt.
	StateDelayed State = "delayed"
	// StateCompleted means the job succeeded. Completed jobs are removed
	// from the store immediately.
	StateCompleted State = "completed"
	// StateFailed means every attempt failed. The job is kept in the
	// failed list for inspection.
	StateFailed State = "failed"
)

// Payload is the queued wire record: {type, email, data}.
type Payload struct {
	Type  Type            `json:"type"`
	Email string          `json:"email"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Job is a unit of email work.
type Job struct {
	ID          id.JobID        `json:"id"`
	Type        Type            `json:"type"`
	Email       string          `json:"email"`
	Data        json.RawMessage `json:"data,omitempty"`
	Priority    Priority        `json:"priority"`
	State       State           `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	WorkerID    id.WorkerID     `json:"worker_id,omitempty"`
	RunAt       time.Time       `json:"run_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	HeartbeatAt *time.Time      `json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Payload returns the job's wire record.
func (j *Job) Payload() Payload {
	return Payload{Type: j.Type, Email: j.Email, Data: j.Data}
}

// AttemptsLeft reports whether another attempt is allowed after the
// attempts recorded so far.
func (j *Job) AttemptsLeft() bool {
	return j.Attempts < j.MaxAttempts
}

// Counts is the aggregate view of the queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}
