package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

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

// EventPublisher is the bus the registry announces changes on.
type EventPublisher interface {
	Publish(event eventbus.Event)
}

// noopPublisher discards events. Used until a bus is attached.
type noopPublisher struct{}

func (noopPublisher) Publish(eventbus.Event) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the mutating operations.
//
// State changes for a single device are serialised: concurrent
// ApplyStateChange calls for the same device apply one at a time, and
// the corresponding event is published before the device's lock is
// released. That gives subscribers events in the order the changes
// were committed.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache

	locks   map[string]*sync.Mutex // Per-device commit locks
	locksMu sync.Mutex             // Protects locks

	events EventPublisher
	logger Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		locks:  make(map[string]*sync.Mutex),
		events: noopPublisher{},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetEventPublisher attaches the bus that change events are published on.
func (r *Registry) SetEventPublisher(events EventPublisher) {
	r.events = events
}

// deviceLock returns the commit lock for a device, creating it on first use.
// Locks are never removed; the set of known devices is small and stable.
func (r *Registry) deviceLock(id string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup, before plugins register
// devices, so discovery merges against the persisted inventory.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	dev, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups (store a deep copy)
	r.cacheMu.Lock()
	r.cache[id] = dev.DeepCopy()
	r.cacheMu.Unlock()

	return dev, nil
}

// ListDevices retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// GetDevicesByPlugin retrieves all devices owned by a specific plugin.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevicesByPlugin(_ context.Context, plugin string) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var devices []Device
	for _, d := range r.cache {
		if d.Plugin == plugin {
			devices = append(devices, *d.DeepCopy())
		}
	}
	return devices, nil
}

// GetDevicesByType retrieves all devices of a specific type.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevicesByType(_ context.Context, deviceType DeviceType) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var devices []Device
	for _, d := range r.cache {
		if d.Type == deviceType {
			devices = append(devices, *d.DeepCopy())
		}
	}
	return devices, nil
}

// GetDevicesByRoom retrieves all devices in a specific room.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevicesByRoom(_ context.Context, room string) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var devices []Device
	for _, d := range r.cache {
		if d.Room == room {
			devices = append(devices, *d.DeepCopy())
		}
	}
	return devices, nil
}

// GetDevicesByCapability retrieves all devices that have a specific capability.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevicesByCapability(_ context.Context, capability Capability) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var devices []Device
	for _, d := range r.cache {
		if d.HasCapability(capability) {
			devices = append(devices, *d.DeepCopy())
		}
	}
	return devices, nil
}

// UpsertDevice creates a device or updates an existing one in place.
// Used by plugin discovery: a device reported again keeps its identity,
// properties are replaced with the latest report, and the device is
// marked online.
//
// Publishes device_added for new devices. Discovery updates to known
// devices publish nothing here; state changes flow through
// ApplyStateChange.
func (r *Registry) UpsertDevice(ctx context.Context, dev *Device) error {
	if dev.ID == "" {
		dev.ID = GenerateID()
	}
	if err := ValidateDevice(dev); err != nil {
		return err
	}

	lock := r.deviceLock(dev.ID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	dev.Online = true
	dev.LastSeen = &now

	existing, err := r.repo.GetByID(ctx, dev.ID)
	switch {
	case err == nil:
		dev.CreatedAt = existing.CreatedAt
		if err := r.repo.Update(ctx, dev); err != nil {
			return err
		}
		r.storeInCache(dev)
		r.logger.Debug("device updated from discovery", "id", dev.ID, "plugin", dev.Plugin)
		return nil

	case errors.Is(err, ErrDeviceNotFound):
		if err := r.repo.Create(ctx, dev); err != nil {
			return err
		}
		r.storeInCache(dev)

		r.events.Publish(eventbus.Event{
			Type:     eventbus.EventDeviceAdded,
			DeviceID: dev.ID,
			Plugin:   dev.Plugin,
			Payload: map[string]any{
				"name": dev.Name,
				"type": string(dev.Type),
			},
		})
		r.logger.Info("device added", "id", dev.ID, "name", dev.Name, "plugin", dev.Plugin)
		return nil

	default:
		return err
	}
}

// RemoveDevice deletes a device from the registry.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) RemoveDevice(ctx context.Context, id string) error {
	lock := r.deviceLock(id)
	lock.Lock()
	defer lock.Unlock()

	var plugin string
	r.cacheMu.RLock()
	if cached, ok := r.cache[id]; ok {
		plugin = cached.Plugin
	}
	r.cacheMu.RUnlock()

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.events.Publish(eventbus.Event{
		Type:     eventbus.EventDeviceRemoved,
		DeviceID: id,
		Plugin:   plugin,
	})
	r.logger.Info("device removed", "id", id)
	return nil
}

// ApplyStateChange merges the given property changes into a device's
// state, persists them, and publishes device_state_changed.
//
// Changes for the same device are applied one at a time under the
// device's commit lock, and the event is published before the lock is
// released: subscribers observe state changes in commit order.
func (r *Registry) ApplyStateChange(ctx context.Context, id string, changes Properties) error {
	if len(changes) == 0 {
		return nil
	}

	lock := r.deviceLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := r.repo.UpdateProperties(ctx, id, changes); err != nil {
		return err
	}

	now := time.Now().UTC()
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		// Atomic replacement so concurrent readers never see a half-merged map
		updated := cached.DeepCopy()
		if updated.Properties == nil {
			updated.Properties = make(Properties, len(changes))
		}
		for k, v := range changes {
			updated.Properties[k] = deepCopyValue(v)
		}
		updated.LastSeen = &now
		updated.UpdatedAt = now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.events.Publish(eventbus.Event{
		Type:     eventbus.EventDeviceStateChanged,
		DeviceID: id,
		Payload:  map[string]any{"changes": deepCopyMap(changes)},
	})
	r.logger.Debug("device state changed", "id", id)
	return nil
}

// SetOnline updates a device's availability, persists it, and publishes
// device_state_changed with an "online" payload flag. Publishing only
// happens on an actual transition; repeated reports of the same
// availability are no-ops.
func (r *Registry) SetOnline(ctx context.Context, id string, online bool) error {
	lock := r.deviceLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	var already bool
	if ok {
		already = cached.Online == online
	}
	r.cacheMu.RUnlock()

	if ok && already {
		return nil
	}

	now := time.Now().UTC()
	if err := r.repo.UpdateOnline(ctx, id, online, now); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.Online = online
		if online {
			updated.LastSeen = &now
		}
		updated.UpdatedAt = now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.events.Publish(eventbus.Event{
		Type:     eventbus.EventDeviceStateChanged,
		DeviceID: id,
		Payload:  map[string]any{"online": online},
	})
	r.logger.Info("device availability changed", "id", id, "online", online)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// storeInCache stores a deep copy of the device in the cache.
func (r *Registry) storeInCache(dev *Device) {
	r.cacheMu.Lock()
	r.cache[dev.ID] = dev.DeepCopy()
	r.cacheMu.Unlock()
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int                `json:"total_devices"`
	Online       int                `json:"online"`
	Offline      int                `json:"offline"`
	ByType       map[DeviceType]int `json:"by_type"`
	ByPlugin     map[string]int     `json:"by_plugin"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByType:       make(map[DeviceType]int),
		ByPlugin:     make(map[string]int),
	}

	for _, d := range r.cache {
		if d.Online {
			stats.Online++
		} else {
			stats.Offline++
		}
		stats.ByType[d.Type]++
		stats.ByPlugin[d.Plugin]++
	}

	return stats
}
