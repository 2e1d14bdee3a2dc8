package mqtt

import "fmt"

// Topic prefixes for the Hearth MQTT hierarchy.
//
// All hub topics live under a single root:
//
//	hearth/device/{device_id}/state    canonical device state (retained)
//	hearth/event/{event_type}          bus events mirrored by the relay
//	hearth/plugin/{plugin}/status      plugin lifecycle status (retained)
//	hearth/system/status               hub online/offline (retained, LWT)
const (
	// TopicPrefix is the root of all Hearth topics.
	TopicPrefix = "hearth"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "hearth/system"
)

// Topics provides builders for Hearth MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// DeviceState returns the canonical state topic for a device.
// This is the authoritative state published by the hub after a change commits.
//
// Example: hearth/device/light_001/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefix, deviceID)
}

// Event returns the topic a bus event is mirrored on.
//
// Example: hearth/event/device_state_changed
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// PluginStatus returns the status topic for a plugin.
//
// Example: hearth/plugin/hue/status
func (Topics) PluginStatus(plugin string) string {
	return fmt.Sprintf("%s/plugin/%s/status", TopicPrefix, plugin)
}

// SystemStatus returns the hub status topic. Carries the retained
// online/offline payload and the Last Will message.
//
// Example: hearth/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: hearth/device/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/device/+/state", TopicPrefix)
}

// AllEvents returns a pattern matching every mirrored event.
//
// Pattern: hearth/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Hearth topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: hearth/#
func (Topics) AllTopics() string {
	return "hearth/#"
}
