// Package kv is the process-wide key-value store: a thin wrapper over a
// single shared Redis connection. Values are JSON-encoded on write and
// decoded on read.
//
// Every operation is independently fallible. Operational failures (network
// down, timeout, read-only replica) are logged and converted to neutral
// values (false, nil, 0) so callers degrade to "uncached" instead of
// failing. Only Connect returns an error, and only Client panics.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/backoff"
)

// Store owns the process's Redis connection.
type Store struct {
	url         string
	logger      *slog.Logger
	opTimeout   time.Duration
	dialRetries int
	poolSize    int
	reconnect   backoff.Strategy
	cooldown    time.Duration

	mu      sync.RWMutex
	client  *redis.Client
	closed  bool
	circuit circuit
}

// New creates a Store for the given redis:// URL. No connection is made
// until Connect or the first operation.
func New(url string, opts ...Option) *Store {
	s := &Store{
		url:         url,
		logger:      slog.Default(),
		opTimeout:   5 * time.Second,
		dialRetries: 10,
		reconnect:   backoff.Reconnect(),
		cooldown:    time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect establishes the shared connection and verifies it with PING.
// It is idempotent: once connected, later calls return nil immediately.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}
	s.closed = false

	opts, err := redis.ParseURL(s.url)
	if err != nil {
		return fmt.Errorf("herald/kv: parse url: %w", err)
	}
	opts.ReadTimeout = s.opTimeout
	opts.WriteTimeout = s.opTimeout
	if s.poolSize > 0 {
		opts.PoolSize = s.poolSize
	}

	client := redis.NewClient(opts)
	client.AddHook(&hook{store: s})

	pingCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("herald/kv: connect: %w", err)
	}

	s.client = client
	s.logger.Info("key-value store connected", slog.String("addr", opts.Addr), slog.Int("db", opts.DB))
	return nil
}

// Disconnect releases the shared connection. Safe to call more than once.
func (s *Store) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.logger.Info("key-value store disconnected")
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("herald/kv: disconnect: %w", err)
	}
	return nil
}

// Client returns the underlying Redis client for subsystems that share the
// connection (job store, event transport). It panics when called before
// Connect: that is a wiring bug, not an operational failure.
func (s *Store) Client() *redis.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		panic("kv: Client called before Connect: " + herald.ErrNotConnected.Error())
	}
	return s.client
}

// Connected reports whether Connect has succeeded and Disconnect has not
// been called since.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

// Ping checks connectivity. Unlike the data operations it returns the
// error so health checks can report it.
func (s *Store) Ping(ctx context.Context) error {
	c := s.conn(ctx)
	if c == nil {
		return herald.ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return c.Ping(ctx).Err()
}

// Set stores value under key. A ttl <= 0 stores without expiry. Set panics
// if value cannot be JSON-encoded.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data := mustEncode(key, value)

	c := s.conn(ctx)
	if c == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := c.Set(ctx, key, data, ttl).Err(); err != nil {
		s.warn("set", key, err)
		return false
	}
	return true
}

// Get decodes the value stored under key into dst. It returns false when
// the key is missing, expired, undecodable, or the store is unreachable.
func (s *Store) Get(ctx context.Context, key string, dst any) bool {
	data, ok := s.GetBytes(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.warn("decode", key, err)
		return false
	}
	return true
}

// GetBytes returns the raw encoded value stored under key.
func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, bool) {
	c := s.conn(ctx)
	if c == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.warn("get", key, err)
		}
		return nil, false
	}
	return data, true
}

// Del removes key. It returns true only if a key was actually removed.
func (s *Store) Del(ctx context.Context, key string) bool {
	c := s.conn(ctx)
	if c == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	n, err := c.Del(ctx, key).Result()
	if err != nil {
		s.warn("del", key, err)
		return false
	}
	return n > 0
}

// DelPattern deletes every key matching the glob pattern in one DEL and
// returns how many were removed. A malformed pattern returns
// herald.ErrBadPattern; every other failure returns 0 and a nil error.
func (s *Store) DelPattern(ctx context.Context, pattern string) (int64, error) {
	if err := ValidatePattern(pattern); err != nil {
		return 0, err
	}

	c := s.conn(ctx)
	if c == nil {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var keys []string
	iter := c.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.warn("scan", pattern, err)
		return 0, nil
	}
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := c.Del(ctx, keys...).Result()
	if err != nil {
		s.warn("del pattern", pattern, err)
		return 0, nil
	}
	return n, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) bool {
	c := s.conn(ctx)
	if c == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	n, err := c.Exists(ctx, key).Result()
	if err != nil {
		s.warn("exists", key, err)
		return false
	}
	return n > 0
}

// Incr atomically increments the integer stored at key and returns the new
// value, or 0 on failure.
func (s *Store) Incr(ctx context.Context, key string) int64 {
	c := s.conn(ctx)
	if c == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	n, err := c.Incr(ctx, key).Result()
	if err != nil {
		s.warn("incr", key, err)
		return 0
	}
	return n
}

// Expire sets a ttl on an existing key. It returns false if the key does
// not exist.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	c := s.conn(ctx)
	if c == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	ok, err := c.Expire(ctx, key, ttl).Result()
	if err != nil {
		s.warn("expire", key, err)
		return false
	}
	return ok
}

// ValidatePattern reports whether pattern is a well-formed glob.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", herald.ErrBadPattern)
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("%w: %q", herald.ErrBadPattern, pattern)
	}
	return nil
}

// conn returns the live client, connecting lazily on first use. It returns
// nil when the store is unreachable or the read-only circuit is open.
func (s *Store) conn(ctx context.Context) *redis.Client {
	if s.circuit.isOpen() {
		return nil
	}

	s.mu.RLock()
	c, closed := s.client, s.closed
	s.mu.RUnlock()
	if c != nil {
		return c
	}
	if closed {
		return nil
	}

	if err := s.Connect(ctx); err != nil {
		s.logger.Warn("key-value store unavailable", slog.String("error", err.Error()))
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Store) warn(op, key string, err error) {
	s.logger.Warn("key-value operation failed",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// mustEncode marshals v to JSON, panicking on error (programming error).
func mustEncode(key string, v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("kv: value for %q is not serializable: %v", key, err))
	}
	return data
}
