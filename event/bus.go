package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler processes one delivered envelope. Returned errors are logged.
type Handler func(ctx context.Context, env *Envelope) error

// Recorder observes bus traffic.
type Recorder interface {
	EventPublished(kind string, ok bool)
	EventHandled(kind string, err error)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithRecorder sets the traffic recorder.
func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

// Bus is a process-local handler registry on top of a Transport.
type Bus struct {
	transport Transport
	logger    *slog.Logger
	recorder  Recorder

	mu       sync.RWMutex
	handlers map[Channel][]Handler
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBus creates a bus over t and starts delivering messages.
func NewBus(t Transport, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		transport: t,
		logger:    slog.Default(),
		handlers:  make(map[Channel][]Handler),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

// Publish wraps data in a timestamped envelope and publishes it. Delivery
// is best-effort: transport failures are logged and reported as false.
// A channel nobody subscribes to is a successful no-op.
//
// Publish panics if data cannot be JSON-encoded.
func (b *Bus) Publish(ctx context.Context, channel Channel, data any) bool {
	if err := ValidateChannel(channel); err != nil {
		b.logger.Error("event publish rejected", slog.String("error", err.Error()))
		return false
	}

	raw, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("event: data for %q is not serializable: %v", channel, err))
	}
	payload, err := json.Marshal(Envelope{Timestamp: time.Now().UTC(), Data: raw})
	if err != nil {
		panic(fmt.Sprintf("event: envelope for %q is not serializable: %v", channel, err))
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		b.logger.Warn("event publish after close", slog.String("channel", string(channel)))
		b.record(channel, false)
		return false
	}

	if err := b.transport.Publish(ctx, channel, payload); err != nil {
		b.logger.Warn("event publish failed",
			slog.String("channel", string(channel)),
			slog.String("error", err.Error()),
		)
		b.record(channel, false)
		return false
	}
	b.record(channel, true)
	return true
}

// Subscribe attaches h to channel. Handlers are additive: every handler on
// a channel runs for every message. The transport subscription is opened
// with the first handler.
func (b *Bus) Subscribe(ctx context.Context, channel Channel, h Handler) bool {
	if err := ValidateChannel(channel); err != nil {
		b.logger.Error("event subscribe rejected", slog.String("error", err.Error()))
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if len(b.handlers[channel]) == 0 {
		if err := b.transport.Subscribe(ctx, channel); err != nil {
			b.logger.Warn("event subscribe failed",
				slog.String("channel", string(channel)),
				slog.String("error", err.Error()),
			)
			return false
		}
	}
	b.handlers[channel] = append(b.handlers[channel], h)
	b.logger.Debug("event handler subscribed",
		slog.String("channel", string(channel)),
		slog.Int("handlers", len(b.handlers[channel])),
	)
	return true
}

// Unsubscribe removes every handler on channel and releases the transport
// subscription. It returns false only if the transport refused.
func (b *Bus) Unsubscribe(ctx context.Context, channel Channel) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.handlers[channel]; !ok {
		return true
	}
	delete(b.handlers, channel)
	if err := b.transport.Unsubscribe(ctx, channel); err != nil {
		b.logger.Warn("event unsubscribe failed",
			slog.String("channel", string(channel)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// Handlers returns how many handlers are attached to channel.
func (b *Bus) Handlers(channel Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[channel])
}

// Close stops delivery and closes the transport. Safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handlers = make(map[Channel][]Handler)
	b.mu.Unlock()

	b.cancel()
	<-b.done
	return b.transport.Close()
}

func (b *Bus) run() {
	defer close(b.done)
	msgs := b.transport.Messages()
	for {
		select {
		case m := <-msgs:
			b.dispatch(m)
		case <-b.ctx.Done():
			return
		}
	}
}

// dispatch fans one message out to every handler on its channel. Handlers
// run concurrently; a failing or panicking handler does not affect the rest.
func (b *Bus) dispatch(m Message) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[m.Channel]...)
	b.mu.RUnlock()
	if len(hs) == 0 {
		return
	}

	var env Envelope
	if err := json.Unmarshal(m.Payload, &env); err != nil {
		b.logger.Warn("event dropped: malformed envelope",
			slog.String("channel", string(m.Channel)),
			slog.String("error", err.Error()),
		)
		return
	}

	var g errgroup.Group
	for _, h := range hs {
		g.Go(func() error {
			err := b.invoke(h, &env)
			if err != nil {
				b.logger.Warn("event handler failed",
					slog.String("channel", string(m.Channel)),
					slog.String("error", err.Error()),
				)
			}
			if b.recorder != nil {
				b.recorder.EventHandled(m.Channel.Kind().String(), err)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // handlers never return errors to the group
}

func (b *Bus) invoke(h Handler, env *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in event handler: %v", r)
		}
	}()
	return h(b.ctx, env)
}

func (b *Bus) record(channel Channel, ok bool) {
	if b.recorder != nil {
		b.recorder.EventPublished(channel.Kind().String(), ok)
	}
}
