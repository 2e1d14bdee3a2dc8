package dispatch

import "errors"

// Sentinel errors returned by the dispatcher. Match with errors.Is.
var (
	// ErrDeviceOffline is returned when the target device is marked
	// offline and the action is not a configured wake action.
	ErrDeviceOffline = errors.New("dispatch: device offline")

	// ErrUnsupportedAction is returned when the action is outside the
	// device's declared capability set.
	ErrUnsupportedAction = errors.New("dispatch: unsupported action")

	// ErrPluginUnavailable is returned when the owning plugin is not
	// running.
	ErrPluginUnavailable = errors.New("dispatch: plugin unavailable")

	// ErrActionTimeout is returned when the plugin call exceeds the
	// dispatch deadline. The action is not retried automatically.
	ErrActionTimeout = errors.New("dispatch: action timed out")

	// ErrActionFailed wraps a failure reported by the plugin itself.
	ErrActionFailed = errors.New("dispatch: action failed")
)
