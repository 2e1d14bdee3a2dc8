package telemetry

import "errors"

// Sentinel errors returned by the telemetry client. Match with errors.Is.
var (
	// ErrDisabled is returned by Connect when telemetry is turned off
	// in the configuration.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed is returned when the InfluxDB server cannot
	// be reached or reports itself unhealthy.
	ErrConnectionFailed = errors.New("telemetry: connection failed")

	// ErrNotConnected is returned by operations on a closed client.
	ErrNotConnected = errors.New("telemetry: not connected")
)
