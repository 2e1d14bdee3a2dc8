package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emberfield/hearth-core/internal/device"
	"github.com/emberfield/hearth-core/internal/eventbus"
)

// Logger defines the logging interface used by the Registry.
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

// EventPublisher is the bus lifecycle events are announced on.
type EventPublisher interface {
	Publish(event eventbus.Event)
}

// noopPublisher discards events. Used until a bus is attached.
type noopPublisher struct{}

func (noopPublisher) Publish(eventbus.Event) {}

// State is a plugin's position in its lifecycle.
type State string

// Lifecycle states. Transitions: unloaded -> initialized -> running -> stopped,
// with stopped -> running for restarts. A failed Initialize leaves the
// plugin unloaded; a failed Start leaves it initialized.
const (
	StateUnloaded    State = "unloaded"
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateStopped     State = "stopped"
)

// entry holds one registered plugin and its lifecycle bookkeeping.
// entry.mu serialises lifecycle calls and discovery for this plugin.
type entry struct {
	mu     sync.Mutex
	name   string
	plugin Plugin
	config map[string]any
	state  State

	// missed counts consecutive discovery cycles each known device
	// has been absent from the plugin's report.
	missed map[string]int
}

// Registry manages plugin registration, lifecycle, and periodic
// device discovery.
//
// Lifecycle calls for a single plugin are serialised; calls for
// different plugins may run concurrently.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // registration order, for deterministic start/stop

	devices *device.Registry
	events  EventPublisher
	logger  Logger

	// grace is how many consecutive missed discovery cycles a device
	// survives before being marked offline.
	grace int
}

// NewRegistry creates a plugin registry backed by the given device registry.
func NewRegistry(devices *device.Registry, grace int) *Registry {
	if grace < 0 {
		grace = 0
	}
	return &Registry{
		entries: make(map[string]*entry),
		devices: devices,
		events:  noopPublisher{},
		logger:  noopLogger{},
		grace:   grace,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetEventPublisher attaches the bus lifecycle events are published on.
func (r *Registry) SetEventPublisher(events EventPublisher) {
	r.events = events
}

// Register adds a plugin under the given name with its configuration.
// When the plugin declares a config schema the configuration is
// validated against it here, before the plugin sees the values. The
// plugin starts in the unloaded state; call Initialize and Start to
// bring it up.
func (r *Registry) Register(name string, p Plugin, config map[string]any) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrPluginNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrPluginExists, name)
	}

	if schema := p.Info().ConfigSchema; len(schema) > 0 {
		if err := ValidateSchema(schema, config); err != nil {
			return fmt.Errorf("plugin %s: %w", name, err)
		}
	}

	r.entries[name] = &entry{
		name:   name,
		plugin: p,
		config: config,
		state:  StateUnloaded,
		missed: make(map[string]int),
	}
	r.order = append(r.order, name)

	r.logger.Info("plugin registered", "plugin", name, "version", p.Info().Version)
	return nil
}

// get returns the entry for a name.
func (r *Registry) get(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return e, nil
}

// Initialize validates the plugin's configuration and prepares it for
// starting. Valid only from the unloaded state; a failed Initialize
// leaves the plugin unloaded so a fixed configuration can be retried.
func (r *Registry) Initialize(ctx context.Context, name string) error {
	e, err := r.get(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateUnloaded {
		return fmt.Errorf("%w: cannot initialize %s from %s", ErrInvalidTransition, name, e.state)
	}

	if err := e.plugin.Initialize(ctx, e.config); err != nil {
		r.logger.Error("plugin initialization failed", "plugin", name, "error", err)
		return fmt.Errorf("initializing plugin %s: %w", name, err)
	}

	e.state = StateInitialized
	r.logger.Info("plugin initialized", "plugin", name)
	return nil
}

// Start brings an initialized or stopped plugin to the running state
// and publishes plugin_status_changed with the new status. A failed
// Start leaves the state unchanged.
func (r *Registry) Start(ctx context.Context, name string) error {
	e, err := r.get(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInitialized && e.state != StateStopped {
		return fmt.Errorf("%w: cannot start %s from %s", ErrInvalidTransition, name, e.state)
	}

	if err := e.plugin.Start(ctx); err != nil {
		r.logger.Error("plugin start failed", "plugin", name, "error", err)
		return fmt.Errorf("starting plugin %s: %w", name, err)
	}

	e.state = StateRunning
	r.events.Publish(eventbus.Event{
		Type:    eventbus.EventPluginStatusChanged,
		Plugin:  name,
		Payload: map[string]any{"name": name, "status": string(StateRunning)},
	})
	r.logger.Info("plugin started", "plugin", name)
	return nil
}

// Stop transitions a running plugin to stopped and publishes
// plugin_status_changed. The plugin's devices are marked offline, not deleted:
// persisted history may still reference them. Stopping a plugin that is
// not running is an error; StopAll skips those instead.
func (r *Registry) Stop(ctx context.Context, name string) error {
	e, err := r.get(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return fmt.Errorf("%w: cannot stop %s from %s", ErrInvalidTransition, name, e.state)
	}

	if err := e.plugin.Stop(ctx); err != nil {
		// The plugin is in an unknown state after a failed Stop; mark
		// it stopped anyway so shutdown can proceed.
		e.state = StateStopped
		r.orphanDevices(ctx, name)
		r.logger.Error("plugin stop failed", "plugin", name, "error", err)
		return fmt.Errorf("stopping plugin %s: %w", name, err)
	}

	e.state = StateStopped
	r.orphanDevices(ctx, name)
	r.events.Publish(eventbus.Event{
		Type:    eventbus.EventPluginStatusChanged,
		Plugin:  name,
		Payload: map[string]any{"name": name, "status": string(StateStopped)},
	})
	r.logger.Info("plugin stopped", "plugin", name)
	return nil
}

// orphanDevices marks every online device owned by a plugin offline.
// Called when the plugin leaves the running state.
func (r *Registry) orphanDevices(ctx context.Context, name string) {
	devices, err := r.devices.GetDevicesByPlugin(ctx, name)
	if err != nil {
		r.logger.Warn("listing devices to orphan failed", "plugin", name, "error", err)
		return
	}
	for i := range devices {
		if !devices[i].Online {
			continue
		}
		if err := r.devices.SetOnline(ctx, devices[i].ID, false); err != nil {
			r.logger.Warn("orphaning device failed",
				"plugin", name, "device_id", devices[i].ID, "error", err)
		}
	}
}

// InitializeAll initializes every registered plugin in registration
// order. A plugin that fails is logged and skipped; one bad
// configuration must not keep the rest of the hub down.
func (r *Registry) InitializeAll(ctx context.Context) {
	for _, name := range r.names() {
		if err := r.Initialize(ctx, name); err != nil {
			r.logger.Warn("skipping plugin", "plugin", name, "error", err)
		}
	}
}

// StartAll starts every initialized plugin in registration order,
// logging and skipping failures.
func (r *Registry) StartAll(ctx context.Context) {
	for _, name := range r.names() {
		e, err := r.get(name)
		if err != nil || e.currentState() != StateInitialized {
			continue
		}
		if err := r.Start(ctx, name); err != nil {
			r.logger.Warn("plugin failed to start", "plugin", name, "error", err)
		}
	}
}

// StopAll stops every running plugin in reverse registration order.
func (r *Registry) StopAll(ctx context.Context) {
	names := r.names()
	for i := len(names) - 1; i >= 0; i-- {
		e, err := r.get(names[i])
		if err != nil || e.currentState() != StateRunning {
			continue
		}
		if err := r.Stop(ctx, names[i]); err != nil {
			r.logger.Warn("plugin failed to stop", "plugin", names[i], "error", err)
		}
	}
}

// Running returns the plugin for routing an action, or ErrNotRunning /
// ErrPluginNotFound. Used by the dispatcher.
func (r *Registry) Running(name string) (Plugin, error) {
	e, err := r.get(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRunning, name, e.state)
	}
	return e.plugin, nil
}

// GetState returns a plugin's current lifecycle state.
func (r *Registry) GetState(name string) (State, error) {
	e, err := r.get(name)
	if err != nil {
		return "", err
	}
	return e.currentState(), nil
}

// currentState reads the entry state under its lock.
func (e *entry) currentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// names returns registered plugin names in registration order.
func (r *Registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Status describes one plugin for the API and logs.
type Status struct {
	Info        Info  `json:"info"`
	State       State `json:"state"`
	DeviceCount int   `json:"device_count"`
}

// GetStatus returns a snapshot of every registered plugin.
func (r *Registry) GetStatus(ctx context.Context) []Status {
	statuses := make([]Status, 0, len(r.names()))
	for _, name := range r.names() {
		e, err := r.get(name)
		if err != nil {
			continue
		}

		count := 0
		if devices, err := r.devices.GetDevicesByPlugin(ctx, name); err == nil {
			count = len(devices)
		}

		statuses = append(statuses, Status{
			Info:        e.plugin.Info(),
			State:       e.currentState(),
			DeviceCount: count,
		})
	}
	return statuses
}

// DiscoverNow runs one discovery cycle for a single running plugin and
// merges the result into the device registry.
//
// Devices reported are upserted and marked online. Devices previously
// known to the plugin but absent from the report accumulate missed
// cycles; a device missing for more than the grace count is marked
// offline. Devices are never deleted by discovery, so a flaky bridge
// cannot erase the inventory.
func (r *Registry) DiscoverNow(ctx context.Context, name string) error {
	e, err := r.get(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, name, e.state)
	}

	discovered, err := e.plugin.Discover(ctx)
	if err != nil {
		// A failed cycle is not a missed cycle for its devices: don't
		// advance the offline countdown on bridge hiccups.
		r.logger.Warn("discovery failed", "plugin", name, "error", err)
		return fmt.Errorf("discovering devices for %s: %w", name, err)
	}

	reported := make(map[string]struct{}, len(discovered))
	for i := range discovered {
		dev := discovered[i]
		dev.Plugin = name
		if err := r.devices.UpsertDevice(ctx, &dev); err != nil {
			r.logger.Warn("discovery upsert failed",
				"plugin", name, "device_id", dev.ID, "error", err)
			continue
		}
		reported[dev.ID] = struct{}{}
		delete(e.missed, dev.ID)
	}

	// Advance the missed count for known devices that did not report.
	known, err := r.devices.GetDevicesByPlugin(ctx, name)
	if err != nil {
		return fmt.Errorf("listing devices for %s: %w", name, err)
	}
	for i := range known {
		dev := known[i]
		if _, ok := reported[dev.ID]; ok {
			continue
		}
		e.missed[dev.ID]++
		if e.missed[dev.ID] > r.grace && dev.Online {
			if err := r.devices.SetOnline(ctx, dev.ID, false); err != nil {
				r.logger.Warn("marking device offline failed",
					"plugin", name, "device_id", dev.ID, "error", err)
			} else {
				r.logger.Info("device missed discovery grace period",
					"plugin", name, "device_id", dev.ID, "missed_cycles", e.missed[dev.ID])
			}
		}
	}

	r.logger.Debug("discovery cycle complete",
		"plugin", name, "reported", len(reported), "known", len(known))
	return nil
}

// DiscoverAll runs a discovery cycle on every running plugin.
func (r *Registry) DiscoverAll(ctx context.Context) {
	for _, name := range r.names() {
		e, err := r.get(name)
		if err != nil || e.currentState() != StateRunning {
			continue
		}
		if err := r.DiscoverNow(ctx, name); err != nil {
			r.logger.Warn("discovery cycle failed", "plugin", name, "error", err)
		}
	}
}

// RunDiscovery runs discovery on the given interval until ctx is
// cancelled. An immediate cycle runs first so the hub has a fresh
// inventory as soon as plugins start.
func (r *Registry) RunDiscovery(ctx context.Context, interval time.Duration) {
	r.DiscoverAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.DiscoverAll(ctx)
		}
	}
}
