package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventType identifies the kind of event carried on the bus.
type EventType string

// Event types published by the hub. Availability transitions ride on
// device_state_changed with an "online" payload field rather than
// their own types; plugin lifecycle transitions carry their new state
// in a "status" payload field.
const (
	EventDeviceAdded         EventType = "device_added"
	EventDeviceRemoved       EventType = "device_removed"
	EventDeviceStateChanged  EventType = "device_state_changed"
	EventPluginStatusChanged EventType = "plugin_status_changed"
	EventActionDispatched    EventType = "action_dispatched"
	EventActionFailed        EventType = "action_failed"
	EventVoiceCommand        EventType = "voice_command"
)

// Event is a single occurrence delivered to subscribers.
type Event struct {
	// ID is a unique identifier for this event instance.
	ID string `json:"id"`

	// Type classifies the event.
	Type EventType `json:"type"`

	// DeviceID is set for device-scoped events, empty otherwise.
	DeviceID string `json:"device_id,omitempty"`

	// Plugin names the plugin that originated the event, if any.
	Plugin string `json:"plugin,omitempty"`

	// Payload carries event-specific data.
	Payload map[string]any `json:"payload,omitempty"`

	// Timestamp records when the event was published.
	Timestamp time.Time `json:"timestamp"`
}

// Subscription is a registered consumer of events.
//
// Events arrive on C in publish order. When the subscriber falls behind
// and its buffer fills, the oldest buffered event is discarded to make
// room for the newest; Dropped() reports how many were discarded.
type Subscription struct {
	// C delivers events to the subscriber.
	C <-chan Event

	id      string
	types   map[EventType]struct{} // nil means all types
	ch      chan Event
	dropped atomic.Uint64
	bus     *Bus
}

// Dropped returns the number of events discarded because this
// subscriber's buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close removes the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Bus is an in-process publish/subscribe event bus.
//
// Publish never blocks on slow consumers: each subscriber has its own
// bounded buffer, and overflow discards that subscriber's oldest event.
// Events for the same device are delivered to each subscriber in the
// order they were published.
type Bus struct {
	mu         sync.Mutex
	subs       map[string]*Subscription
	bufferSize int
	closed     bool
	published  atomic.Uint64
	logger     Logger
}

// DefaultBufferSize is the per-subscriber buffer used when New is given
// a non-positive size.
const DefaultBufferSize = 256

// New creates an event bus with the given per-subscriber buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:       make(map[string]*Subscription),
		bufferSize: bufferSize,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

// Subscribe registers a consumer for the given event types.
// With no types, the subscriber receives every event.
func (b *Bus) Subscribe(types ...EventType) *Subscription {
	sub := &Subscription{
		id:  uuid.NewString(),
		ch:  make(chan Event, b.bufferSize),
		bus: b,
	}
	sub.C = sub.ch

	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers an event to all matching subscribers and returns
// immediately. The event ID and timestamp are filled in if unset.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.published.Add(1)

	for _, sub := range b.subs {
		if sub.types != nil {
			if _, ok := sub.types[event.Type]; !ok {
				continue
			}
		}
		b.deliver(sub, event)
	}
}

// deliver appends an event to a subscriber's buffer, discarding the
// oldest buffered event if the buffer is full. Called with b.mu held,
// which keeps the drain-then-send pair atomic with respect to other
// publishers.
func (b *Bus) deliver(sub *Subscription, event Event) {
	select {
	case sub.ch <- event:
		return
	default:
	}

	// Buffer full: drop the oldest, then retry. The receiver may have
	// drained the channel between the two selects, so the second send
	// can still need a default arm.
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}

	select {
	case sub.ch <- event:
	default:
		sub.dropped.Add(1)
	}
}

// unsubscribe removes a subscription and closes its channel.
func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
}

// Close shuts down the bus, closing every subscriber channel.
// Publish and Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Stats reports bus activity for monitoring.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// GetStats returns current bus statistics.
func (b *Bus) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		Subscribers: len(b.subs),
		Published:   b.published.Load(),
	}
	for _, sub := range b.subs {
		stats.Dropped += sub.dropped.Load()
	}
	return stats
}
