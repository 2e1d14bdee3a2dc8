package plugin

import (
	"context"
	"fmt"

	"github.com/emberfield/hearth-core/internal/device"
)

// Info describes a plugin to operators and the API.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`

	// SupportedDevices and Capabilities advertise what the plugin can
	// bring into the registry.
	SupportedDevices []device.DeviceType `json:"supported_devices,omitempty"`
	Capabilities     []device.Capability `json:"capabilities,omitempty"`

	// ConfigSchema declares the plugin's settings. The registry
	// validates configuration against it at Register time, before the
	// plugin ever sees the values.
	ConfigSchema map[string]FieldSpec `json:"config_schema,omitempty"`
}

// FieldSpec is one entry in a plugin's config schema.
type FieldSpec struct {
	// Type is the expected value type: "string", "int", "float", or
	// "bool".
	Type string `json:"type"`

	// Required fields must be present in the configuration.
	Required bool `json:"required"`
}

// ValidateSchema checks a configuration map against a declared schema:
// required fields must be present, unknown fields are rejected, and
// every value must match its declared type. All failures wrap
// ErrConfigInvalid with the field name.
func ValidateSchema(schema map[string]FieldSpec, config map[string]any) error {
	for key, spec := range schema {
		raw, ok := config[key]
		if !ok {
			if spec.Required {
				return fmt.Errorf("%w: missing required setting %q", ErrConfigInvalid, key)
			}
			continue
		}
		if !matchesType(raw, spec.Type) {
			return fmt.Errorf("%w: setting %q must be of type %s", ErrConfigInvalid, key, spec.Type)
		}
	}
	for key := range config {
		if _, ok := schema[key]; !ok {
			return fmt.Errorf("%w: unknown setting %q", ErrConfigInvalid, key)
		}
	}
	return nil
}

func matchesType(v any, t string) bool {
	switch t {
	case "string":
		_, ok := v.(string)
		return ok
	case "int":
		// YAML decodes integers as int; JSON as float64.
		switch v.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case "float":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "bool":
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

// Plugin is the contract every device integration implements.
//
// Lifecycle: the registry calls Initialize once with the plugin's
// configuration, Start when the hub comes up, and Stop on shutdown.
// Between Start and Stop the registry polls Discover on the discovery
// interval and routes device actions to HandleAction.
//
// Implementations must be safe for concurrent HandleAction calls;
// lifecycle calls are serialised by the registry.
type Plugin interface {
	// Info returns static plugin metadata.
	Info() Info

	// Initialize validates the configuration and prepares the plugin.
	// Returns an error wrapping ErrConfigInvalid when the configuration
	// is missing required settings or has unknown ones.
	Initialize(ctx context.Context, config map[string]any) error

	// Start establishes connections to the devices or services the
	// plugin integrates with.
	Start(ctx context.Context) error

	// Stop releases all resources. Called at most once after Start.
	Stop(ctx context.Context) error

	// Discover reports the devices currently reachable by the plugin.
	// The registry merges the result into the device registry.
	Discover(ctx context.Context) ([]device.Device, error)

	// HandleAction executes an action against a device owned by this
	// plugin and returns the resulting property changes.
	HandleAction(ctx context.Context, dev *device.Device, action device.Action, params map[string]any) (device.Properties, error)
}

// ValidateConfig checks a configuration map against required and known
// optional keys. Helper for plugin Initialize implementations.
func ValidateConfig(config map[string]any, required []string, optional []string) error {
	for _, key := range required {
		if _, ok := config[key]; !ok {
			return fmt.Errorf("%w: missing required setting %q", ErrConfigInvalid, key)
		}
	}

	known := make(map[string]struct{}, len(required)+len(optional))
	for _, key := range required {
		known[key] = struct{}{}
	}
	for _, key := range optional {
		known[key] = struct{}{}
	}
	for key := range config {
		if _, ok := known[key]; !ok {
			return fmt.Errorf("%w: unknown setting %q", ErrConfigInvalid, key)
		}
	}

	return nil
}

// StringSetting extracts a non-empty string value from a configuration
// map.
func StringSetting(config map[string]any, key string) (string, error) {
	raw, ok := config[key]
	if !ok {
		return "", fmt.Errorf("%w: missing required setting %q", ErrConfigInvalid, key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: setting %q must be a non-empty string", ErrConfigInvalid, key)
	}
	return s, nil
}
