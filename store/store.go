package store

import (
	"context"

	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/job"
)

// Store is the aggregate persistence interface. A single backend
// implements both subsystem stores.
type Store interface {
	job.Store
	dlq.Store

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store. It does not close
	// connections the caller passed in.
	Close() error
}
