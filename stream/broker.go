package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker routes events to subscribers by room. All emits are
// fire-and-forget.
type Broker struct {
	rooms  *RoomRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// NewBroker creates a new room broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		rooms:      NewRoomRegistry(),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Rooms returns the room registry.
func (b *Broker) Rooms() *RoomRegistry { return b.rooms }

// Subscribe creates a subscriber and joins it to the given rooms.
func (b *Broker) Subscribe(subscriberID string, rooms ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	b.subscribers.Store(subscriberID, sub)
	for _, room := range rooms {
		b.rooms.Join(room, sub)
	}
	return sub
}

// Join adds an existing subscriber to a room. It reports false for an
// unknown subscriber.
func (b *Broker) Join(subscriberID, room string) bool {
	sub, ok := b.GetSubscriber(subscriberID)
	if !ok {
		return false
	}
	b.rooms.Join(room, sub)
	return true
}

// Leave removes a subscriber from a room.
func (b *Broker) Leave(subscriberID, room string) {
	b.rooms.Leave(room, subscriberID)
}

// RemoveSubscriber removes a subscriber from all rooms and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.rooms.LeaveAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// EmitToRoom delivers evt to every member of room except excludeID and
// returns how many received it.
func (b *Broker) EmitToRoom(room string, evt *Event, excludeID string) int {
	e := *evt
	e.Room = room
	return b.deliver(b.rooms.members(room, excludeID), &e)
}

// EmitToUser delivers evt to every connection of a user.
func (b *Broker) EmitToUser(userID string, evt *Event) int {
	e := *evt
	e.Room = ""
	return b.deliver(b.rooms.members(UserRoom(userID), ""), &e)
}

// EmitToAll delivers evt to every subscriber.
func (b *Broker) EmitToAll(evt *Event) int {
	var targets []*Subscriber
	b.subscribers.Range(func(_, v any) bool {
		targets = append(targets, v.(*Subscriber)) //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return b.deliver(targets, evt)
}

// EmitTo delivers evt to a single subscriber.
func (b *Broker) EmitTo(subscriberID string, evt *Event) bool {
	sub, ok := b.GetSubscriber(subscriberID)
	if !ok {
		return false
	}
	return b.deliver([]*Subscriber{sub}, evt) == 1
}

func (b *Broker) deliver(targets []*Subscriber, evt *Event) int {
	delivered := 0
	for _, s := range targets {
		if s.send(evt) {
			delivered++
			continue
		}
		b.totalDropped.Add(1)
		b.logger.Debug("stream event dropped",
			slog.String("subscriber", s.ID()),
			slog.String("event", string(evt.Name)),
		)
	}
	b.totalPublished.Add(int64(delivered))
	return delivered
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		RoomCount:       b.rooms.RoomCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	RoomCount       int   `json:"room_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Close closes every subscriber.
func (b *Broker) Close() {
	b.subscribers.Range(func(key, value any) bool {
		b.rooms.LeaveAll(key.(string)) //nolint:errcheck // sync.Map always stores string keys
		value.(*Subscriber).Close()    //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
}
