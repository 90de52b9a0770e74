package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport carries envelopes over Redis PUBLISH/SUBSCRIBE. Publishing
// uses the shared client; subscriptions share one dedicated PubSub
// connection opened on the first Subscribe.
type RedisTransport struct {
	client redis.UniversalClient
	logger *slog.Logger

	mu     sync.Mutex
	ps     *redis.PubSub
	out    chan Message
	done   chan struct{}
	closed bool
}

var _ Transport = (*RedisTransport)(nil)

// RedisOption configures a RedisTransport.
type RedisOption func(*RedisTransport)

// WithRedisLogger sets the transport's logger.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(t *RedisTransport) { t.logger = l }
}

// NewRedisTransport creates a transport over client. The caller owns the
// client's lifecycle.
func NewRedisTransport(client redis.UniversalClient, opts ...RedisOption) *RedisTransport {
	t := &RedisTransport{
		client: client,
		logger: slog.Default(),
		out:    make(chan Message, 256),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Publish sends payload to every subscriber of channel across processes.
func (t *RedisTransport) Publish(ctx context.Context, channel Channel, payload []byte) error {
	if err := t.client.Publish(ctx, string(channel), payload).Err(); err != nil {
		return fmt.Errorf("herald/event: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe adds channel to the PubSub connection, opening it on first use
// and waiting for the server's confirmation.
func (t *RedisTransport) Subscribe(ctx context.Context, channel Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("herald/event: subscribe %s: transport closed", channel)
	}

	if t.ps != nil {
		if err := t.ps.Subscribe(ctx, string(channel)); err != nil {
			return fmt.Errorf("herald/event: subscribe %s: %w", channel, err)
		}
		return nil
	}

	ps := t.client.Subscribe(ctx, string(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("herald/event: subscribe %s: %w", channel, err)
	}
	t.ps = ps
	go t.pump(ps.Channel())
	return nil
}

// Unsubscribe releases the channel subscription.
func (t *RedisTransport) Unsubscribe(ctx context.Context, channel Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ps == nil {
		return nil
	}
	if err := t.ps.Unsubscribe(ctx, string(channel)); err != nil {
		return fmt.Errorf("herald/event: unsubscribe %s: %w", channel, err)
	}
	return nil
}

// Messages returns the delivery channel.
func (t *RedisTransport) Messages() <-chan Message { return t.out }

// Close closes the PubSub connection. Safe to call more than once.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	if t.ps == nil {
		return nil
	}
	err := t.ps.Close()
	t.ps = nil
	return err
}

func (t *RedisTransport) pump(in <-chan *redis.Message) {
	for {
		select {
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case t.out <- Message{Channel: Channel(m.Channel), Payload: []byte(m.Payload)}:
			case <-t.done:
				return
			}
		case <-t.done:
			return
		}
	}
}
