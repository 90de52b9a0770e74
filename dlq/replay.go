package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Retry re-enqueues a failed entry as a waiting job and removes it from
// the failed list. The job keeps its ID, payload and priority; its attempt
// count starts over.
func (s *Service) Retry(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:          entry.JobID,
		Type:        entry.Type,
		Email:       entry.Email,
		Data:        entry.Data,
		Priority:    entry.Priority,
		State:       job.StateWaiting,
		MaxAttempts: entry.MaxAttempts,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Remove the entry first: a worker may fail the job again and write a
	// new entry under the same ID before this call returns.
	if err := s.store.DeleteDLQ(ctx, jobID); err != nil {
		return nil, err
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		if restoreErr := s.store.PushDLQ(ctx, entry); restoreErr != nil {
			s.logger.Error("failed list: restore entry after failed retry",
				slog.String("job_id", jobID.String()),
				slog.String("error", restoreErr.Error()),
			)
		}
		return nil, err
	}

	s.logger.Debug("failed job re-enqueued", slog.String("job_id", jobID.String()))
	return j, nil
}
