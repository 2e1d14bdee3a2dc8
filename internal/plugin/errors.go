package plugin

import "errors"

// Domain errors for the plugin package.
var (
	// ErrConfigInvalid is returned when plugin configuration fails validation.
	ErrConfigInvalid = errors.New("plugin: invalid config")

	// ErrPluginNotFound is returned when a plugin name is not registered.
	ErrPluginNotFound = errors.New("plugin: not found")

	// ErrPluginExists is returned when registering a name twice.
	ErrPluginExists = errors.New("plugin: already registered")

	// ErrInvalidTransition is returned when a lifecycle call is not
	// valid for the plugin's current state, e.g. starting a plugin
	// that was never initialised.
	ErrInvalidTransition = errors.New("plugin: invalid lifecycle transition")

	// ErrNotRunning is returned when an action is routed to a plugin
	// that is not in the running state.
	ErrNotRunning = errors.New("plugin: not running")
)
