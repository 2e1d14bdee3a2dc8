package mqtt

import (
	"fmt"
)

// Payload ceiling of 1MB, in line with common broker defaults.
const maxPayloadSize = 1 << 20

// Publish sends a message to an MQTT topic.
//
// Parameters:
//   - topic: destination topic (e.g. "hearth/event/device_state_changed")
//   - payload: message body, typically JSON, at most 1MB
//   - qos: Quality of Service level (0 at-most-once, 1 at-least-once,
//     2 exactly-once)
//   - retained: ask the broker to keep the last message for new
//     subscribers; use for state topics, never for events or commands
//
// Returns:
//   - error: nil on success, or a wrapped sentinel describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishString publishes a string payload. Equivalent to Publish
// with []byte(payload).
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// PublishRetained publishes a retained message at the configured
// default QoS. Intended for state topics where a late subscriber
// should see the current value immediately.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
