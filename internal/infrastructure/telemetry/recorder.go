package telemetry

import (
	"context"

	"github.com/emberfield/hearth-core/internal/eventbus"
)

// Logger defines the logging interface used by the Recorder.
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

// MetricWriter receives the numeric readings the recorder extracts.
// *Client satisfies it.
type MetricWriter interface {
	WriteDeviceMetric(deviceID string, measurement string, value float64)
}

// Recorder mirrors numeric device readings from the event bus into the
// time-series store. Boolean and string properties are skipped; power
// state and colour belong in the registry, not a metrics bucket.
type Recorder struct {
	bus    *eventbus.Bus
	writer MetricWriter
	logger Logger
}

// NewRecorder creates a recorder over the bus and metric writer.
func NewRecorder(bus *eventbus.Bus, writer MetricWriter) *Recorder {
	return &Recorder{
		bus:    bus,
		writer: writer,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Run consumes state-change events until ctx is cancelled or the bus
// closes. Call in its own goroutine.
func (r *Recorder) Run(ctx context.Context) {
	sub := r.bus.Subscribe(eventbus.EventDeviceStateChanged)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			r.record(event)
		}
	}
}

// record writes the numeric readings carried by one state change.
func (r *Recorder) record(event eventbus.Event) {
	changes, ok := event.Payload["changes"].(map[string]any)
	if !ok {
		return
	}

	for name, raw := range changes {
		value, ok := numeric(raw)
		if !ok {
			continue
		}
		r.writer.WriteDeviceMetric(event.DeviceID, name, value)
	}

	r.logger.Debug("telemetry recorded", "device_id", event.DeviceID)
}

// numeric extracts a float from the value types properties carry.
func numeric(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
