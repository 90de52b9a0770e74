package event

import (
	"context"
	"errors"
	"sync"
)

// Message is a raw payload received on a channel.
type Message struct {
	Channel Channel
	Payload []byte
}

// Transport moves serialized envelopes between publishers and subscribers.
// Subscribe and Unsubscribe manage the transport-level subscription for a
// channel; every message for a subscribed channel is delivered on Messages.
type Transport interface {
	Publish(ctx context.Context, channel Channel, payload []byte) error
	Subscribe(ctx context.Context, channel Channel) error
	Unsubscribe(ctx context.Context, channel Channel) error
	Messages() <-chan Message
	Close() error
}

var errTransportFull = errors.New("event: transport buffer full")

// MemoryTransport is an in-process Transport. Messages published to
// channels with no subscription are dropped.
type MemoryTransport struct {
	mu     sync.RWMutex
	subs   map[Channel]struct{}
	out    chan Message
	closed bool
}

var _ Transport = (*MemoryTransport)(nil)

// NewMemoryTransport creates an in-process transport holding up to buffer
// undelivered messages.
func NewMemoryTransport(buffer int) *MemoryTransport {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryTransport{
		subs: make(map[Channel]struct{}),
		out:  make(chan Message, buffer),
	}
}

// Publish enqueues payload if channel is subscribed. It never blocks.
func (t *MemoryTransport) Publish(_ context.Context, channel Channel, payload []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return errors.New("event: transport closed")
	}
	if _, ok := t.subs[channel]; !ok {
		return nil
	}
	select {
	case t.out <- Message{Channel: channel, Payload: payload}:
		return nil
	default:
		return errTransportFull
	}
}

// Subscribe marks channel as subscribed.
func (t *MemoryTransport) Subscribe(_ context.Context, channel Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[channel] = struct{}{}
	return nil
}

// Unsubscribe removes the channel subscription.
func (t *MemoryTransport) Unsubscribe(_ context.Context, channel Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, channel)
	return nil
}

// Messages returns the delivery channel.
func (t *MemoryTransport) Messages() <-chan Message { return t.out }

// Close stops accepting publishes. The delivery channel stays open so
// readers never observe a spurious zero Message.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
