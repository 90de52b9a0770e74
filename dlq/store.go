package dlq

import (
	"context"
	"time"

	"github.com/xraph/herald/id"
)

// ListOpts controls pagination and filtering for failed-list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Store defines the persistence contract for the failed list.
type Store interface {
	// PushDLQ adds an entry. An existing entry for the same job is replaced.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries, most recently failed first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves the entry for a job.
	GetDLQ(ctx context.Context, jobID id.JobID) (*Entry, error)

	// DeleteDLQ removes the entry for a job.
	DeleteDLQ(ctx context.Context, jobID id.JobID) error

	// PurgeDLQ removes entries with FailedAt before the given time and
	// returns how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// TrimDLQ keeps the keep most recently failed entries and removes the
	// rest, returning how many were removed.
	TrimDLQ(ctx context.Context, keep int) (int64, error)

	// CountDLQ returns the number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
