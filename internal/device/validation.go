package device

import (
	"fmt"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100

	// Size limits for the properties map to prevent memory exhaustion
	// from a misbehaving plugin.
	maxPropertyKeys   = 100
	maxCapabilities   = 32
	maxStringValueLen = 1024
)

// Pre-computed validation sets for O(1) lookups.
var (
	validDeviceTypes  map[DeviceType]struct{}
	validCapabilities map[Capability]struct{}
)

func init() {
	validDeviceTypes = make(map[DeviceType]struct{}, len(AllDeviceTypes()))
	for _, t := range AllDeviceTypes() {
		validDeviceTypes[t] = struct{}{}
	}

	validCapabilities = make(map[Capability]struct{}, len(AllCapabilities()))
	for _, c := range AllCapabilities() {
		validCapabilities[c] = struct{}{}
	}
}

// GenerateID returns a new unique device identifier.
func GenerateID() string {
	return uuid.NewString()
}

// ValidateDevice performs comprehensive validation on a device.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	if d.Plugin == "" {
		return fmt.Errorf("%w: plugin is required", ErrInvalidPlugin)
	}

	if err := ValidateDeviceType(d.Type); err != nil {
		return err
	}

	if len(d.Capabilities) > maxCapabilities {
		return fmt.Errorf("%w: too many capabilities (%d, max %d)",
			ErrInvalidCapability, len(d.Capabilities), maxCapabilities)
	}
	for _, c := range d.Capabilities {
		if _, ok := validCapabilities[c]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidCapability, c)
		}
	}

	if err := validateProperties(d.Properties); err != nil {
		return err
	}

	return nil
}

// ValidateName checks that a device name is non-empty and within limits.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateDeviceType checks that a device type is recognised.
func ValidateDeviceType(t DeviceType) error {
	if _, ok := validDeviceTypes[t]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceType, t)
	}
	return nil
}

// validateProperties applies size limits to the properties map.
func validateProperties(props Properties) error {
	if len(props) > maxPropertyKeys {
		return fmt.Errorf("%w: too many properties (%d, max %d)",
			ErrInvalidDevice, len(props), maxPropertyKeys)
	}
	for k, v := range props {
		if s, ok := v.(string); ok && len(s) > maxStringValueLen {
			return fmt.Errorf("%w: property %q value exceeds %d bytes",
				ErrInvalidDevice, k, maxStringValueLen)
		}
	}
	return nil
}
