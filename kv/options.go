package kv

import (
	"log/slog"
	"time"

	"github.com/xraph/herald/backoff"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithOpTimeout bounds every individual store operation.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) { s.opTimeout = d }
}

// WithDialRetries sets how many times a failed dial is retried.
func WithDialRetries(n int) Option {
	return func(s *Store) { s.dialRetries = n }
}

// WithReconnectBackoff sets the delay strategy between dial retries.
func WithReconnectBackoff(b backoff.Strategy) Option {
	return func(s *Store) { s.reconnect = b }
}

// WithPoolSize sets the connection pool size.
func WithPoolSize(n int) Option {
	return func(s *Store) { s.poolSize = n }
}

// WithCircuitCooldown sets how long operations short-circuit after the
// server reports it is a read-only replica.
func WithCircuitCooldown(d time.Duration) Option {
	return func(s *Store) { s.cooldown = d }
}
