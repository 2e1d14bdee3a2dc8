package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emberfield/hearth-core/internal/eventbus"
	"github.com/emberfield/hearth-core/internal/infrastructure/config"
)

// fakeWriter records metrics in memory.
type fakeWriter struct {
	mu      sync.Mutex
	metrics []metric
}

type metric struct {
	deviceID    string
	measurement string
	value       float64
}

func (f *fakeWriter) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, metric{deviceID: deviceID, measurement: measurement, value: value})
}

func (f *fakeWriter) snapshot() []metric {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]metric, len(f.metrics))
	copy(out, f.metrics)
	return out
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met within deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRecorder_WritesNumericReadings(t *testing.T) {
	bus := eventbus.New(16)
	defer bus.Close()
	writer := &fakeWriter{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewRecorder(bus, writer).Run(ctx)

	// Subscription needs to be live before publishing.
	waitFor(t, func() bool { return bus.GetStats().Subscribers > 0 })

	bus.Publish(eventbus.Event{
		Type:     eventbus.EventDeviceStateChanged,
		DeviceID: "mihome_158d0001a2b3c4",
		Payload: map[string]any{
			"changes": map[string]any{
				"temperature": 21.5,
				"humidity":    48.0,
				"battery":     85,
			},
		},
	})

	waitFor(t, func() bool { return len(writer.snapshot()) == 3 })

	byName := map[string]metric{}
	for _, m := range writer.snapshot() {
		byName[m.measurement] = m
	}
	if byName["temperature"].value != 21.5 {
		t.Errorf("temperature = %v", byName["temperature"].value)
	}
	if byName["battery"].value != 85 {
		t.Errorf("battery = %v", byName["battery"].value)
	}
	if byName["temperature"].deviceID != "mihome_158d0001a2b3c4" {
		t.Errorf("device_id = %q", byName["temperature"].deviceID)
	}
}

func TestRecorder_SkipsNonNumericProperties(t *testing.T) {
	bus := eventbus.New(16)
	defer bus.Close()
	writer := &fakeWriter{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewRecorder(bus, writer).Run(ctx)
	waitFor(t, func() bool { return bus.GetStats().Subscribers > 0 })

	bus.Publish(eventbus.Event{
		Type:     eventbus.EventDeviceStateChanged,
		DeviceID: "light_001",
		Payload: map[string]any{
			"changes": map[string]any{
				"power":      true,
				"color":      "blue",
				"brightness": 75,
			},
		},
	})

	waitFor(t, func() bool { return len(writer.snapshot()) == 1 })
	m := writer.snapshot()[0]
	if m.measurement != "brightness" || m.value != 75 {
		t.Errorf("recorded %+v, want brightness=75 only", m)
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.TelemetryConfig{Enabled: false})
	if err != ErrDisabled {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}
