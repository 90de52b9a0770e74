package kv

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// hook retries dials with the store's reconnect backoff and trips the
// read-only circuit when the server answers READONLY (a replica that has
// not yet been promoted after failover).
type hook struct {
	store *Store
}

var _ redis.Hook = (*hook)(nil)

func (h *hook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		for attempt := 1; err != nil && attempt <= h.store.dialRetries; attempt++ {
			delay := h.store.reconnect.Delay(attempt)
			h.store.logger.Debug("redis dial failed, retrying",
				slog.String("addr", addr),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			conn, err = next(ctx, network, addr)
		}
		return conn, err
	}
}

func (h *hook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.observe(err)
		return err
	}
}

func (h *hook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		h.observe(err)
		return err
	}
}

func (h *hook) observe(err error) {
	if !isReadOnly(err) {
		return
	}
	if h.store.circuit.trip(h.store.cooldown) {
		h.store.logger.Warn("redis replied READONLY, pausing key-value operations",
			slog.Duration("cooldown", h.store.cooldown),
		)
	}
}

func isReadOnly(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	return strings.HasPrefix(err.Error(), "READONLY")
}

// circuit short-circuits store operations until openUntil passes.
type circuit struct {
	openUntil atomic.Int64 // unix nanos
}

// trip opens the circuit for d. It returns true if the circuit was closed.
func (c *circuit) trip(d time.Duration) bool {
	now := time.Now().UnixNano()
	prev := c.openUntil.Swap(now + d.Nanoseconds())
	return prev < now
}

func (c *circuit) isOpen() bool {
	return time.Now().UnixNano() < c.openUntil.Load()
}
