package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Retention bounds the failed list. Zero fields disable that bound.
type Retention struct {
	MaxEntries int
	MaxAge     time.Duration
}

// DefaultRetention keeps at most 1000 entries for at most seven days.
func DefaultRetention() Retention {
	return Retention{MaxEntries: 1000, MaxAge: 7 * 24 * time.Hour}
}

// Option configures a Service.
type Option func(*Service)

// WithRetention sets the retention bound enforced on every push.
func WithRetention(r Retention) Option {
	return func(s *Service) { s.retention = r }
}

// WithLogger sets the logger for the service.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service provides failed-list operations over a Store.
type Service struct {
	store     Store
	jobStore  job.Store
	retention Retention
	logger    *slog.Logger
}

// NewService creates a failed-list service.
func NewService(store Store, jobStore job.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		jobStore:  jobStore,
		retention: DefaultRetention(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push builds an Entry from a job that exhausted its attempts, persists it
// and applies the retention bound.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	entry := &Entry{
		JobID:       j.ID,
		Type:        j.Type,
		Email:       j.Email,
		Data:        j.Data,
		Priority:    j.Priority,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Error:       jobErr.Error(),
		EnqueuedAt:  j.CreatedAt,
		FailedAt:    time.Now().UTC(),
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return err
	}
	s.enforceRetention(ctx)
	return nil
}

// List returns failed entries, most recent first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Get returns the failed entry for a job.
func (s *Service) Get(ctx context.Context, jobID id.JobID) (*Entry, error) {
	return s.store.GetDLQ(ctx, jobID)
}

// Count returns the number of failed entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}

// Discard removes a failed entry without retrying it.
func (s *Service) Discard(ctx context.Context, jobID id.JobID) error {
	return s.store.DeleteDLQ(ctx, jobID)
}

func (s *Service) enforceRetention(ctx context.Context) {
	if s.retention.MaxAge > 0 {
		n, err := s.store.PurgeDLQ(ctx, time.Now().UTC().Add(-s.retention.MaxAge))
		if err != nil {
			s.logger.Warn("failed list: purge expired entries",
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			s.logger.Info("failed list: purged expired entries", slog.Int64("removed", n))
		}
	}
	if s.retention.MaxEntries > 0 {
		n, err := s.store.TrimDLQ(ctx, s.retention.MaxEntries)
		if err != nil {
			s.logger.Warn("failed list: trim",
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			s.logger.Info("failed list: trimmed oldest entries", slog.Int64("removed", n))
		}
	}
}
