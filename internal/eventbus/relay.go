package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher is the outbound transport the relay mirrors events onto.
// Satisfied by the infrastructure/mqtt Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Relay mirrors bus events onto an external transport so other systems
// (dashboards, bridges) can observe hub activity.
//
// Topics follow the pattern <prefix>/event/<type>, e.g.
// hearth/event/device_state_changed.
type Relay struct {
	bus       *Bus
	publisher Publisher
	prefix    string
	qos       byte
	logger    Logger
}

// NewRelay creates a relay from the bus to the given publisher.
func NewRelay(bus *Bus, publisher Publisher, prefix string, qos byte) *Relay {
	return &Relay{
		bus:       bus,
		publisher: publisher,
		prefix:    prefix,
		qos:       qos,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the relay.
func (r *Relay) SetLogger(logger Logger) {
	r.logger = logger
}

// Run subscribes to all bus events and mirrors them until ctx is
// cancelled or the bus closes. Publish failures are logged and skipped;
// a flaky broker must not stall event delivery.
func (r *Relay) Run(ctx context.Context) {
	sub := r.bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if err := r.relay(event); err != nil {
				r.logger.Warn("event relay failed",
					"event_type", event.Type,
					"device_id", event.DeviceID,
					"error", err,
				)
			}
		}
	}
}

// relay serialises and publishes a single event.
func (r *Relay) relay(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	topic := fmt.Sprintf("%s/event/%s", r.prefix, event.Type)
	return r.publisher.Publish(topic, payload, r.qos, false)
}
