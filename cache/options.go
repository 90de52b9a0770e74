package cache

import (
	"log/slog"
	"time"
)

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for the cache.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithDefaultTTL sets the ttl used by Wrap when it is given a ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Cache) { c.defaultTTL = d }
}

// WithDisabled turns every lookup into a pass-through. Responses are still
// served by the downstream handler; nothing is read or written.
func WithDisabled(disabled bool) Option {
	return func(c *Cache) { c.disabled = disabled }
}

// WithRecorder sets the recorder that receives lookup outcomes.
func WithRecorder(r Recorder) Option {
	return func(c *Cache) { c.recorder = r }
}
