package mqtt

import (
	"errors"
	"testing"
)

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device state", topics.DeviceState("light_001"), "hearth/device/light_001/state"},
		{"event", topics.Event("device_state_changed"), "hearth/event/device_state_changed"},
		{"plugin status", topics.PluginStatus("hue"), "hearth/plugin/hue/status"},
		{"system status", topics.SystemStatus(), "hearth/system/status"},
		{"all device states", topics.AllDeviceStates(), "hearth/device/+/state"},
		{"all events", topics.AllEvents(), "hearth/event/+"},
		{"all topics", topics.AllTopics(), "hearth/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublish_Validation(t *testing.T) {
	// A zero-value client is never connected; validation errors must
	// surface before any connection check that would panic.
	c := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 0, ErrInvalidTopic},
		{"invalid qos", "hearth/system/status", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "hearth/system/status", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if err == nil {
				t.Fatal("Publish() expected error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 0, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("hearth/#", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("hearth/#", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
}

func TestSubscriptionTracking(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
	if c.HasSubscription("hearth/event/+") {
		t.Error("HasSubscription() = true on empty client")
	}

	c.subMu.Lock()
	c.subscriptions["hearth/event/+"] = subscription{topic: "hearth/event/+", qos: 1}
	c.subMu.Unlock()

	if c.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", c.SubscriptionCount())
	}
	if !c.HasSubscription("hearth/event/+") {
		t.Error("HasSubscription() = false for tracked topic")
	}
}
