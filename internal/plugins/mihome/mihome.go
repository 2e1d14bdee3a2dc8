package mihome

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emberfield/hearth-core/internal/device"
	"github.com/emberfield/hearth-core/internal/infrastructure/mqtt"
	"github.com/emberfield/hearth-core/internal/plugin"
)

const defaultTopicPrefix = "mihome"

// Logger defines the logging interface used by the plugin.
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

// Broker is the subset of the MQTT client the plugin uses.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Sink receives state pushed by the gateway between discovery cycles.
// *device.Registry satisfies it.
type Sink interface {
	ApplyStateChange(ctx context.Context, id string, changes device.Properties) error
	SetOnline(ctx context.Context, id string, online bool) error
}

// sensorReport is the JSON payload the gateway bridge publishes on
// <prefix>/sensor/<sid>.
type sensorReport struct {
	SID     string         `json:"sid"`
	Model   string         `json:"model"`
	Name    string         `json:"name"`
	Data    map[string]any `json:"data"`
	Battery *int           `json:"battery,omitempty"`
}

// Plugin integrates Xiaomi gateway sensors pushed over MQTT.
//
// The gateway bridge publishes sensor reports as they arrive; the
// plugin forwards them to the sink immediately and keeps a snapshot
// for discovery cycles. Sensors are read only: the only supported
// action is get_status.
type Plugin struct {
	broker Broker
	sink   Sink
	logger Logger

	mu          sync.Mutex
	gatewayIP   string
	token       string
	topicPrefix string
	running     bool

	// tracked holds the latest snapshot per sensor, keyed by hub
	// device ID. Served by Discover and get_status.
	tracked map[string]device.Device
}

// New creates the MiHome plugin. The sink receives pushed state and is
// typically the device registry.
func New(broker Broker, sink Sink) *Plugin {
	return &Plugin{
		broker:  broker,
		sink:    sink,
		logger:  noopLogger{},
		tracked: make(map[string]device.Device),
	}
}

// SetLogger sets the logger for the plugin.
func (p *Plugin) SetLogger(logger Logger) {
	p.logger = logger
}

// Info returns plugin metadata.
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "mihome",
		Version:     "1.0.0",
		Description: "Xiaomi gateway sensors over MQTT",
		Author:      "Emberfield",
		SupportedDevices: []device.DeviceType{
			device.DeviceTypeSensor,
			device.DeviceTypeGateway,
		},
		Capabilities: []device.Capability{
			device.CapTemperatureReport,
			device.CapHumidityReport,
			device.CapMotion,
			device.CapContact,
			device.CapBatteryReport,
		},
		ConfigSchema: map[string]plugin.FieldSpec{
			"gateway_ip":    {Type: "string", Required: true},
			"gateway_token": {Type: "string", Required: true},
			"topic_prefix":  {Type: "string", Required: false},
		},
	}
}

// Initialize validates the configuration.
// Required settings: gateway_ip, gateway_token. Optional: topic_prefix.
func (p *Plugin) Initialize(_ context.Context, config map[string]any) error {
	if err := plugin.ValidateConfig(config, []string{"gateway_ip", "gateway_token"}, []string{"topic_prefix"}); err != nil {
		return err
	}

	gatewayIP, err := plugin.StringSetting(config, "gateway_ip")
	if err != nil {
		return err
	}
	token, err := plugin.StringSetting(config, "gateway_token")
	if err != nil {
		return err
	}

	prefix := defaultTopicPrefix
	if _, ok := config["topic_prefix"]; ok {
		if prefix, err = plugin.StringSetting(config, "topic_prefix"); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.gatewayIP = gatewayIP
	p.token = token
	p.topicPrefix = prefix
	return nil
}

// Start subscribes to the gateway's sensor topics.
func (p *Plugin) Start(_ context.Context) error {
	p.mu.Lock()
	topic := p.sensorTopic()
	p.mu.Unlock()

	if err := p.broker.Subscribe(topic, 0, p.handleMessage); err != nil {
		return fmt.Errorf("mihome: subscribing to %s: %w", topic, err)
	}

	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	p.logger.Info("mihome gateway subscribed", "gateway_ip", p.gatewayIP, "topic", topic)
	return nil
}

// Stop unsubscribes from the gateway's sensor topics.
func (p *Plugin) Stop(_ context.Context) error {
	p.mu.Lock()
	topic := p.sensorTopic()
	p.running = false
	p.mu.Unlock()

	if err := p.broker.Unsubscribe(topic); err != nil {
		return fmt.Errorf("mihome: unsubscribing from %s: %w", topic, err)
	}
	return nil
}

// Discover returns the sensors seen since startup. The gateway pushes
// reports asynchronously, so discovery serves the tracked snapshot
// rather than probing hardware.
func (p *Plugin) Discover(_ context.Context) ([]device.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	devices := make([]device.Device, 0, len(p.tracked))
	for _, dev := range p.tracked {
		devices = append(devices, *dev.DeepCopy())
	}
	return devices, nil
}

// HandleAction serves get_status from the tracked snapshot. Sensors
// accept no other actions.
func (p *Plugin) HandleAction(_ context.Context, dev *device.Device, action device.Action, _ map[string]any) (device.Properties, error) {
	if action != device.ActionGetStatus {
		return nil, fmt.Errorf("mihome: sensors are read only, cannot %s", action)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	tracked, ok := p.tracked[dev.ID]
	if !ok {
		return nil, fmt.Errorf("mihome: unknown sensor %s: %w", dev.ID, device.ErrDeviceNotFound)
	}
	return tracked.DeepCopy().Properties, nil
}

// handleMessage processes a sensor report published by the gateway.
func (p *Plugin) handleMessage(topic string, payload []byte) error {
	var report sensorReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return fmt.Errorf("mihome: decoding report on %s: %w", topic, err)
	}
	if report.SID == "" || report.Model == "" {
		return fmt.Errorf("mihome: report on %s missing sid or model", topic)
	}

	caps, devType, ok := sensorProfile(report.Model)
	if !ok {
		p.logger.Debug("ignoring unsupported sensor model", "model", report.Model, "sid", report.SID)
		return nil
	}

	id := deviceID(report.SID)
	changes := sensorProperties(report)

	p.mu.Lock()
	dev, known := p.tracked[id]
	if !known {
		dev = device.Device{
			ID:           id,
			Name:         sensorName(report),
			Type:         devType,
			Manufacturer: "Xiaomi",
			Model:        report.Model,
			Plugin:       "mihome",
			Capabilities: caps,
			Properties:   device.Properties{},
		}
	}
	for k, v := range changes {
		dev.Properties[k] = v
	}
	p.tracked[id] = dev
	running := p.running
	p.mu.Unlock()

	if !running {
		return nil
	}

	// Push the update straight to the registry rather than waiting
	// for the next discovery cycle.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.sink.ApplyStateChange(ctx, id, changes); err != nil {
		if !known {
			// First report for this sensor: the registry learns
			// about it on the next discovery cycle.
			p.logger.Debug("sensor not yet registered", "device_id", id)
			return nil
		}
		return fmt.Errorf("mihome: applying report for %s: %w", id, err)
	}
	return nil
}

// sensorTopic returns the wildcard subscription for sensor reports.
func (p *Plugin) sensorTopic() string {
	return p.topicPrefix + "/sensor/+"
}

// deviceID derives a stable hub device ID from a gateway sensor ID.
func deviceID(sid string) string {
	return "mihome_" + strings.ToLower(strings.ReplaceAll(sid, ":", ""))
}

// sensorName builds a display name when the report carries none.
func sensorName(report sensorReport) string {
	if report.Name != "" {
		return report.Name
	}
	return fmt.Sprintf("%s %s", report.Model, report.SID)
}

// sensorProfile maps a gateway model string to hub capabilities.
func sensorProfile(model string) ([]device.Capability, device.DeviceType, bool) {
	switch model {
	case "sensor_ht", "weather.v1":
		return []device.Capability{
			device.CapTemperatureReport,
			device.CapHumidityReport,
			device.CapBatteryReport,
		}, device.DeviceTypeSensor, true
	case "magnet", "sensor_magnet.aq2":
		return []device.Capability{
			device.CapContact,
			device.CapBatteryReport,
		}, device.DeviceTypeSensor, true
	case "motion", "sensor_motion.aq2":
		return []device.Capability{
			device.CapMotion,
			device.CapBatteryReport,
		}, device.DeviceTypeSensor, true
	default:
		return nil, "", false
	}
}

// sensorProperties extracts hub properties from a report's data block.
func sensorProperties(report sensorReport) device.Properties {
	props := device.Properties{}

	for key, raw := range report.Data {
		switch key {
		case "temperature", "humidity":
			// The gateway reports hundredths of a unit.
			if v, ok := toFloat(raw); ok {
				props[key] = v / 100
			}
		case "status":
			if v, ok := raw.(string); ok {
				props["contact"] = v == "close"
			}
		case "motion":
			if v, ok := raw.(bool); ok {
				props["motion"] = v
				if v {
					props["last_motion"] = time.Now().UTC().Format(time.RFC3339)
				}
			}
		case "voltage":
			if v, ok := toFloat(raw); ok {
				props["battery"] = batteryPercent(v)
			}
		}
	}

	if report.Battery != nil {
		props["battery"] = *report.Battery
	}
	return props
}

// toFloat normalizes numeric JSON values.
func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// batteryPercent estimates charge from a CR2032 voltage reading in
// millivolts. The cells read ~3.1V fresh and cut out near 2.7V.
func batteryPercent(millivolts float64) int {
	const empty, full = 2700.0, 3100.0
	pct := (millivolts - empty) / (full - empty) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return int(pct)
}
