package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestPublish_DeliversToSubscriber(t *testing.T) {
	bus := New(8)
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(Event{Type: EventDeviceStateChanged, DeviceID: "light_001"})

	select {
	case event := <-sub.C:
		if event.Type != EventDeviceStateChanged {
			t.Errorf("event type = %q, want %q", event.Type, EventDeviceStateChanged)
		}
		if event.DeviceID != "light_001" {
			t.Errorf("device id = %q, want light_001", event.DeviceID)
		}
		if event.ID == "" {
			t.Error("event ID not generated")
		}
		if event.Timestamp.IsZero() {
			t.Error("event timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribe_TypeFilter(t *testing.T) {
	bus := New(8)
	defer bus.Close()

	sub := bus.Subscribe(EventDeviceRemoved)
	defer sub.Close()

	bus.Publish(Event{Type: EventDeviceStateChanged, DeviceID: "light_001"})
	bus.Publish(Event{Type: EventDeviceRemoved, DeviceID: "sensor_001"})

	select {
	case event := <-sub.C:
		if event.Type != EventDeviceRemoved {
			t.Errorf("received filtered-out event type %q", event.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	// No second event should be buffered.
	select {
	case event := <-sub.C:
		t.Errorf("unexpected extra event: %v", event.Type)
	default:
	}
}

func TestPublish_PreservesOrderPerSubscriber(t *testing.T) {
	bus := New(64)
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Close()

	const n = 50
	for i := 0; i < n; i++ {
		bus.Publish(Event{
			Type:     EventDeviceStateChanged,
			DeviceID: "light_001",
			Payload:  map[string]any{"seq": i},
		})
	}

	for i := 0; i < n; i++ {
		select {
		case event := <-sub.C:
			if seq := event.Payload["seq"].(int); seq != i {
				t.Fatalf("event %d arrived out of order: seq = %d", i, seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPublish_DropsOldestOnOverflow(t *testing.T) {
	bus := New(4)
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Close()

	// Publish more than the buffer holds without draining.
	for i := 0; i < 10; i++ {
		bus.Publish(Event{
			Type:    EventDeviceStateChanged,
			Payload: map[string]any{"seq": i},
		})
	}

	if dropped := sub.Dropped(); dropped != 6 {
		t.Errorf("Dropped() = %d, want 6", dropped)
	}

	// The survivors are the newest four, still in order.
	want := []int{6, 7, 8, 9}
	for _, w := range want {
		select {
		case event := <-sub.C:
			if seq := event.Payload["seq"].(int); seq != w {
				t.Errorf("surviving event seq = %d, want %d", seq, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for surviving event %d", w)
		}
	}
}

func TestPublish_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := New(2)
	defer bus.Close()

	slow := bus.Subscribe()
	defer slow.Close()
	fast := bus.Subscribe()
	defer fast.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: EventDeviceStateChanged})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The fast subscriber still receives the newest events.
	received := 0
	for {
		select {
		case <-fast.C:
			received++
		default:
			if received == 0 {
				t.Error("fast subscriber received nothing")
			}
			return
		}
	}
}

func TestSubscription_Close(t *testing.T) {
	bus := New(8)
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	if _, ok := <-sub.C; ok {
		t.Error("channel not closed after Close()")
	}

	// Publishing after close must not panic.
	bus.Publish(Event{Type: EventDeviceStateChanged})
}

func TestBus_Close(t *testing.T) {
	bus := New(8)
	sub := bus.Subscribe()

	bus.Close()
	bus.Close() // idempotent

	if _, ok := <-sub.C; ok {
		t.Error("subscriber channel not closed on bus close")
	}

	// Post-close operations are no-ops.
	bus.Publish(Event{Type: EventDeviceStateChanged})
	late := bus.Subscribe()
	if _, ok := <-late.C; ok {
		t.Error("subscription after close should have a closed channel")
	}
}

func TestPublish_Concurrent(t *testing.T) {
	bus := New(1024)
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Close()

	const publishers = 8
	const perPublisher = 50

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				bus.Publish(Event{Type: EventDeviceStateChanged})
			}
		}()
	}
	wg.Wait()

	stats := bus.GetStats()
	if stats.Published != publishers*perPublisher {
		t.Errorf("Published = %d, want %d", stats.Published, publishers*perPublisher)
	}

	received := 0
	for {
		select {
		case <-sub.C:
			received++
		default:
			if received != publishers*perPublisher {
				t.Errorf("received %d events, want %d", received, publishers*perPublisher)
			}
			return
		}
	}
}

// mockPublisher records published messages for relay tests.
type mockPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

type publishedMessage struct {
	topic   string
	payload []byte
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, publishedMessage{topic: topic, payload: payload})
	return nil
}

func (m *mockPublisher) published() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishedMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

func TestRelay_MirrorsEvents(t *testing.T) {
	bus := New(8)
	defer bus.Close()

	pub := &mockPublisher{}
	relay := NewRelay(bus, pub, "hearth", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Run(ctx)
	}()

	bus.Publish(Event{Type: EventDeviceStateChanged, DeviceID: "light_001"})

	deadline := time.After(2 * time.Second)
	for {
		if msgs := pub.published(); len(msgs) > 0 {
			msg := msgs[0]
			if msg.topic != "hearth/event/device_state_changed" {
				t.Errorf("topic = %q, want hearth/event/device_state_changed", msg.topic)
			}
			var event Event
			if err := json.Unmarshal(msg.payload, &event); err != nil {
				t.Fatalf("unmarshalling relayed event: %v", err)
			}
			if event.DeviceID != "light_001" {
				t.Errorf("relayed device id = %q, want light_001", event.DeviceID)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for relayed event")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}
