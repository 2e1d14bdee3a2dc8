package hue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/amimof/huego"

	"github.com/emberfield/hearth-core/internal/device"
	"github.com/emberfield/hearth-core/internal/plugin"
)

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

// bridge is the subset of huego.Bridge the plugin uses.
// Narrowed so tests can substitute a fake.
type bridge interface {
	GetLightsContext(ctx context.Context) ([]huego.Light, error)
	SetLightStateContext(ctx context.Context, light int, state huego.State) (*huego.Response, error)
}

// Plugin integrates Philips Hue lights through the bridge's local API.
type Plugin struct {
	mu       sync.Mutex
	bridgeIP string
	username string
	bridge   bridge
	logger   Logger

	// lightIDs maps hub device IDs to bridge light numbers,
	// refreshed on every discovery cycle.
	lightIDs map[string]int
}

// New creates the Hue plugin.
func New() *Plugin {
	return &Plugin{
		logger:   noopLogger{},
		lightIDs: make(map[string]int),
	}
}

// SetLogger sets the logger for the plugin.
func (p *Plugin) SetLogger(logger Logger) {
	p.logger = logger
}

// Info returns plugin metadata.
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:             "hue",
		Version:          "1.0.0",
		Description:      "Philips Hue lights via the bridge local API",
		Author:           "Emberfield",
		SupportedDevices: []device.DeviceType{device.DeviceTypeLight},
		Capabilities: []device.Capability{
			device.CapOnOff,
			device.CapBrightness,
			device.CapColor,
		},
		ConfigSchema: map[string]plugin.FieldSpec{
			"bridge_ip": {Type: "string", Required: true},
			"username":  {Type: "string", Required: true},
		},
	}
}

// Initialize validates the configuration and creates the bridge client.
// Required settings: bridge_ip, username.
func (p *Plugin) Initialize(_ context.Context, config map[string]any) error {
	if err := plugin.ValidateConfig(config, []string{"bridge_ip", "username"}, nil); err != nil {
		return err
	}

	bridgeIP, err := plugin.StringSetting(config, "bridge_ip")
	if err != nil {
		return err
	}
	username, err := plugin.StringSetting(config, "username")
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.bridgeIP = bridgeIP
	p.username = username
	p.bridge = huego.New(bridgeIP, username)
	return nil
}

// Start verifies the bridge is reachable.
func (p *Plugin) Start(ctx context.Context) error {
	p.mu.Lock()
	b := p.bridge
	p.mu.Unlock()

	if _, err := b.GetLightsContext(ctx); err != nil {
		return fmt.Errorf("hue: connecting to bridge %s: %w", p.bridgeIP, err)
	}
	p.logger.Info("hue bridge connected", "bridge_ip", p.bridgeIP)
	return nil
}

// Stop releases the bridge client. The local API is stateless, so there
// is nothing to tear down beyond dropping the light map.
func (p *Plugin) Stop(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lightIDs = make(map[string]int)
	return nil
}

// Discover reports the lights currently reachable through the bridge.
// Unreachable lights are omitted so the registry's grace period marks
// them offline.
func (p *Plugin) Discover(ctx context.Context) ([]device.Device, error) {
	p.mu.Lock()
	b := p.bridge
	p.mu.Unlock()

	lights, err := b.GetLightsContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("hue: listing lights: %w", err)
	}

	ids := make(map[string]int, len(lights))
	devices := make([]device.Device, 0, len(lights))
	for _, l := range lights {
		if l.State == nil || !l.State.Reachable {
			continue
		}

		id := deviceID(l)
		ids[id] = l.ID
		devices = append(devices, device.Device{
			ID:              id,
			Name:            l.Name,
			Type:            device.DeviceTypeLight,
			Manufacturer:    l.ManufacturerName,
			Model:           l.ModelID,
			FirmwareVersion: l.SwVersion,
			Capabilities:    capabilities(l),
			Properties:      lightProperties(l),
		})
	}

	p.mu.Lock()
	p.lightIDs = ids
	p.mu.Unlock()

	return devices, nil
}

// HandleAction executes an action against a light and returns the
// resulting property changes.
func (p *Plugin) HandleAction(ctx context.Context, dev *device.Device, action device.Action, params map[string]any) (device.Properties, error) {
	if action == device.ActionGetStatus {
		return p.getStatus(ctx, dev)
	}

	lightID, err := p.lightID(dev.ID)
	if err != nil {
		return nil, err
	}

	var state huego.State
	var changes device.Properties

	switch action {
	case device.ActionTurnOn:
		pct := intParam(params, "brightness", 100)
		state.On = true
		state.Bri = toBri(pct)
		changes = device.Properties{"power": true, "brightness": clampPct(pct)}
		if color, ok := params["color"].(string); ok {
			if err := applyColor(&state, color); err != nil {
				return nil, err
			}
			changes["color"] = color
		}

	case device.ActionTurnOff:
		state.On = false
		changes = device.Properties{"power": false, "brightness": 0}

	case device.ActionSetBrightness:
		pct := clampPct(intParam(params, "brightness", 50))
		state.On = pct > 0
		state.Bri = toBri(pct)
		changes = device.Properties{"brightness": pct, "power": pct > 0}

	case device.ActionSetColor:
		color, ok := params["color"].(string)
		if !ok || color == "" {
			return nil, fmt.Errorf("hue: set_color requires a color parameter")
		}
		if err := applyColor(&state, color); err != nil {
			return nil, err
		}
		// Setting a colour implies turning the light on.
		state.On = true
		changes = device.Properties{"color": color, "power": true}

	default:
		return nil, fmt.Errorf("hue: unsupported action %q", action)
	}

	if _, err := p.setState(ctx, lightID, state); err != nil {
		return nil, fmt.Errorf("hue: applying %s to light %d: %w", action, lightID, err)
	}
	return changes, nil
}

// getStatus reads the light's current state from the bridge.
func (p *Plugin) getStatus(ctx context.Context, dev *device.Device) (device.Properties, error) {
	p.mu.Lock()
	b := p.bridge
	p.mu.Unlock()

	lights, err := b.GetLightsContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("hue: reading status: %w", err)
	}
	for _, l := range lights {
		if deviceID(l) == dev.ID {
			return lightProperties(l), nil
		}
	}
	return nil, fmt.Errorf("hue: light %s not on bridge: %w", dev.ID, device.ErrDeviceNotFound)
}

// lightID resolves a hub device ID to the bridge's light number.
func (p *Plugin) lightID(id string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lightID, ok := p.lightIDs[id]
	if !ok {
		return 0, fmt.Errorf("hue: unknown light %s: %w", id, device.ErrDeviceNotFound)
	}
	return lightID, nil
}

// setState applies a state change via the bridge.
func (p *Plugin) setState(ctx context.Context, lightID int, state huego.State) (*huego.Response, error) {
	p.mu.Lock()
	b := p.bridge
	p.mu.Unlock()
	return b.SetLightStateContext(ctx, lightID, state)
}

// deviceID derives a stable hub device ID from a bridge light.
// The Zigbee unique ID survives renumbering; the light number does not.
func deviceID(l huego.Light) string {
	if l.UniqueID != "" {
		cleaned := strings.NewReplacer(":", "", "-", "").Replace(l.UniqueID)
		return "hue_" + strings.ToLower(cleaned)
	}
	return fmt.Sprintf("hue_light_%03d", l.ID)
}

// capabilities maps a bridge light type to hub capabilities.
func capabilities(l huego.Light) []device.Capability {
	caps := []device.Capability{device.CapOnOff}

	lightType := strings.ToLower(l.Type)
	if strings.Contains(lightType, "on/off") {
		return caps
	}

	caps = append(caps, device.CapBrightness)
	if strings.Contains(lightType, "color") && !strings.Contains(lightType, "temperature") {
		caps = append(caps, device.CapColor)
	}
	return caps
}

// lightProperties maps a bridge light state to hub properties.
func lightProperties(l huego.Light) device.Properties {
	props := device.Properties{"power": false, "brightness": 0}
	if l.State == nil {
		return props
	}
	props["power"] = l.State.On
	props["brightness"] = fromBri(l.State.Bri)
	return props
}

// namedColors maps colour names the voice grammar produces to bridge
// hue/saturation values. Hue is in the bridge's 0-65535 wheel.
var namedColors = map[string]struct {
	hue uint16
	sat uint8
}{
	"red":    {hue: 0, sat: 254},
	"orange": {hue: 5460, sat: 254},
	"yellow": {hue: 10920, sat: 254},
	"green":  {hue: 21840, sat: 254},
	"blue":   {hue: 43680, sat: 254},
	"purple": {hue: 49150, sat: 254},
	"pink":   {hue: 56100, sat: 200},
	"white":  {hue: 0, sat: 0},
}

// applyColor sets hue/sat fields from a colour name or a #rrggbb hex
// value. The voice interpreter normalises names to hex, but names are
// still accepted for API callers.
func applyColor(state *huego.State, color string) error {
	color = strings.ToLower(color)
	if c, ok := namedColors[color]; ok {
		state.Hue = c.hue
		state.Sat = c.sat
		return nil
	}
	h, s, err := hexToHueSat(color)
	if err != nil {
		return err
	}
	state.Hue = h
	state.Sat = s
	return nil
}

// hexToHueSat converts "#rrggbb" to the bridge's 0-65535 hue wheel and
// 0-254 saturation.
func hexToHueSat(hex string) (uint16, uint8, error) {
	if len(hex) != 7 || hex[0] != '#' {
		return 0, 0, fmt.Errorf("hue: unknown color %q", hex)
	}
	var r, g, b int
	if _, err := fmt.Sscanf(hex[1:], "%02x%02x%02x", &r, &g, &b); err != nil {
		return 0, 0, fmt.Errorf("hue: unknown color %q", hex)
	}

	maxC := max(r, max(g, b))
	minC := min(r, min(g, b))
	delta := maxC - minC

	if maxC == 0 || delta == 0 {
		return 0, 0, nil // grey, including white and black
	}

	// Hue in degrees on the RGB wheel.
	var deg float64
	switch maxC {
	case r:
		deg = 60 * float64(g-b) / float64(delta)
	case g:
		deg = 120 + 60*float64(b-r)/float64(delta)
	default:
		deg = 240 + 60*float64(r-g)/float64(delta)
	}
	if deg < 0 {
		deg += 360
	}

	h := uint16(deg / 360 * 65535)
	s := uint8(delta * 254 / maxC)
	return h, s, nil
}

// clampPct bounds a brightness percentage to 0-100.
func clampPct(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// toBri converts a 0-100 percentage to the bridge's 1-254 range.
func toBri(pct int) uint8 {
	pct = clampPct(pct)
	bri := pct * 254 / 100
	if bri < 1 {
		bri = 1
	}
	return uint8(bri)
}

// fromBri converts the bridge's 1-254 range to a 0-100 percentage.
func fromBri(bri uint8) int {
	return int(bri) * 100 / 254
}

// intParam extracts an integer parameter, tolerating the float64 that
// JSON decoding produces.
func intParam(params map[string]any, key string, fallback int) int {
	raw, ok := params[key]
	if !ok {
		return fallback
	}
	switch v := raw.(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
