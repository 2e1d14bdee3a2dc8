package device

import "time"

// Device represents a controllable or monitorable entity managed by the hub.
// This matches the database schema in migrations/20260801_000000_initial_schema.up.sql.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`
	Room string `json:"room,omitempty"`

	// Classification
	Type DeviceType `json:"type"`

	// Plugin names the integration that owns this device and handles
	// its actions.
	Plugin string `json:"plugin"`

	// Capabilities the device advertises. An action is only dispatched
	// to a device whose capabilities cover it.
	Capabilities []Capability `json:"capabilities"`

	// Properties holds the current state as reported by the plugin.
	// Examples:
	//   - Light: {"power": true, "brightness": 80, "color": "warm_white"}
	//   - Sensor: {"temperature": 21.5, "humidity": 48, "battery": 87}
	Properties Properties `json:"properties"`

	// Availability
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Metadata
	Manufacturer    string `json:"manufacturer,omitempty"`
	Model           string `json:"model,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Properties holds device state as a JSON map.
type Properties map[string]any

// DeepCopy creates a complete independent copy of the Device.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	cpy.Properties = deepCopyMap(d.Properties)

	if d.Capabilities != nil {
		cpy.Capabilities = make([]Capability, len(d.Capabilities))
		copy(cpy.Capabilities, d.Capabilities)
	}

	if d.LastSeen != nil {
		t := *d.LastSeen
		cpy.LastSeen = &t
	}

	return &cpy
}

// HasCapability reports whether the device advertises the given capability.
func (d *Device) HasCapability(capability Capability) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// SupportsAction reports whether the device's capabilities cover the
// given action. get_status is always supported.
func (d *Device) SupportsAction(action Action) bool {
	required, known := ActionCapabilities[action]
	if !known {
		return false
	}
	if required == "" {
		return true
	}
	return d.HasCapability(required)
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}

// DeviceType represents the specific kind of device.
type DeviceType string //nolint:revive // device.DeviceType is clearer than device.Type in calling code

// Device types.
const (
	DeviceTypeLight      DeviceType = "light"
	DeviceTypeSensor     DeviceType = "sensor"
	DeviceTypeSwitch     DeviceType = "switch"
	DeviceTypeClimate    DeviceType = "climate"
	DeviceTypeLock       DeviceType = "lock"
	DeviceTypeMultimedia DeviceType = "multimedia"
	DeviceTypeGateway    DeviceType = "gateway"
)

// AllDeviceTypes returns all valid device type values.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{
		DeviceTypeLight, DeviceTypeSensor, DeviceTypeSwitch, DeviceTypeClimate,
		DeviceTypeLock, DeviceTypeMultimedia, DeviceTypeGateway,
	}
}

// Capability represents what a device can do or report.
type Capability string

// Control capabilities.
const (
	CapOnOff          Capability = "on_off"
	CapBrightness     Capability = "brightness"
	CapColor          Capability = "color"
	CapTemperatureSet Capability = "temperature_set"
	CapVolume         Capability = "volume"
	CapChannel        Capability = "channel"
	CapLockUnlock     Capability = "lock_unlock"
)

// Reporting capabilities.
const (
	CapTemperatureReport Capability = "temperature_report"
	CapHumidityReport    Capability = "humidity_report"
	CapMotion            Capability = "motion"
	CapContact           Capability = "contact"
	CapBatteryReport     Capability = "battery_report"
)

// AllCapabilities returns all valid capability values.
func AllCapabilities() []Capability {
	return []Capability{
		CapOnOff, CapBrightness, CapColor, CapTemperatureSet, CapVolume,
		CapChannel, CapLockUnlock,
		CapTemperatureReport, CapHumidityReport, CapMotion, CapContact,
		CapBatteryReport,
	}
}

// Action identifies an operation that can be dispatched to a device.
type Action string

// Actions.
const (
	ActionTurnOn         Action = "turn_on"
	ActionTurnOff        Action = "turn_off"
	ActionSetBrightness  Action = "set_brightness"
	ActionSetColor       Action = "set_color"
	ActionSetTemperature Action = "set_temperature"
	ActionSetVolume      Action = "set_volume"
	ActionSetChannel     Action = "set_channel"
	ActionLock           Action = "lock"
	ActionUnlock         Action = "unlock"
	ActionGetStatus      Action = "get_status"
)

// ActionCapabilities maps each action to the capability a device must
// advertise to accept it. An empty capability means every device
// supports the action.
var ActionCapabilities = map[Action]Capability{
	ActionTurnOn:         CapOnOff,
	ActionTurnOff:        CapOnOff,
	ActionSetBrightness:  CapBrightness,
	ActionSetColor:       CapColor,
	ActionSetTemperature: CapTemperatureSet,
	ActionSetVolume:      CapVolume,
	ActionSetChannel:     CapChannel,
	ActionLock:           CapLockUnlock,
	ActionUnlock:         CapLockUnlock,
	ActionGetStatus:      "",
}

// AllActions returns all valid action values.
func AllActions() []Action {
	return []Action{
		ActionTurnOn, ActionTurnOff, ActionSetBrightness, ActionSetColor,
		ActionSetTemperature, ActionSetVolume, ActionSetChannel,
		ActionLock, ActionUnlock, ActionGetStatus,
	}
}
