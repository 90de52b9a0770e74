package dlq

import (
	"encoding/json"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Entry is a job that exhausted its attempts, kept for inspection and
// manual retry. Entries are keyed by the original job ID.
type Entry struct {
	JobID       id.JobID        `json:"job_id"`
	Type        job.Type        `json:"type"`
	Email       string          `json:"email"`
	Data        json.RawMessage `json:"data,omitempty"`
	Priority    job.Priority    `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Error       string          `json:"error"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	FailedAt    time.Time       `json:"failed_at"`
}
