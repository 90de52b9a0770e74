package job

import (
	"context"
	"time"

	"github.com/xraph/herald/id"
)

// Store defines the persistence contract for queued jobs. Completed and
// failed jobs leave the store: completed ones are counted, failed ones are
// handed to the failed list.
type Store interface {
	// EnqueueJob persists a new job. Jobs whose RunAt is in the future are
	// stored as delayed, all others as waiting.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJob promotes due delayed jobs, then atomically claims the next
	// waiting job: lowest priority rank first, FIFO within a rank. The job
	// is marked active and assigned to workerID. It returns nil, nil when
	// nothing is waiting.
	DequeueJob(ctx context.Context, workerID id.WorkerID) (*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job and moves it into the
	// index for its State. A job set back to waiting goes to the tail of
	// its priority tier.
	UpdateJob(ctx context.Context, j *Job) error

	// CompleteJob removes a finished job and increments the completed
	// counter.
	CompleteJob(ctx context.Context, jobID id.JobID) error

	// DeleteJob removes a job by ID without counting it.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// HeartbeatJob records that workerID is still executing the job.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns active jobs whose last heartbeat is older than
	// threshold, indicating the worker may have crashed.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// CountJobs returns waiting, active, delayed and completed counts.
	// Failed is left zero; the failed list owns that number.
	CountJobs(ctx context.Context) (Counts, error)
}
