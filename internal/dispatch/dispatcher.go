package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emberfield/hearth-core/internal/device"
	"github.com/emberfield/hearth-core/internal/eventbus"
	"github.com/emberfield/hearth-core/internal/plugin"
)

// DefaultTimeout bounds a plugin call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Logger defines the logging interface used by the Dispatcher.
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

// EventPublisher is the bus dispatch outcomes are announced on.
type EventPublisher interface {
	Publish(event eventbus.Event)
}

// noopPublisher discards events. Used until a bus is attached.
type noopPublisher struct{}

func (noopPublisher) Publish(eventbus.Event) {}

// PluginSource resolves a plugin name to its running instance.
// *plugin.Registry satisfies it.
type PluginSource interface {
	Running(name string) (plugin.Plugin, error)
}

// Request is one action against one device.
type Request struct {
	DeviceID string         `json:"device_id"`
	Action   device.Action  `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
}

// Result reports the outcome of one dispatched request. Err is nil on
// success; Changes holds the property delta the plugin confirmed.
type Result struct {
	DeviceID string
	Action   device.Action
	Changes  device.Properties
	Err      error
}

// Dispatcher routes action requests to the owning plugin and commits
// confirmed state changes to the device registry.
//
// Requests for the same device are serialised; requests for different
// devices run concurrently. Every plugin call carries a bounded
// deadline. A call that outlives the deadline is reported as timed out,
// but its eventual completion is still applied to the registry so a
// slow driver cannot leave stale state behind.
type Dispatcher struct {
	devices *device.Registry
	plugins PluginSource
	events  EventPublisher
	logger  Logger
	timeout time.Duration

	// wake lists actions allowed against offline devices.
	wake map[device.Action]struct{}

	// pluginTimeouts overrides the default deadline per plugin, for
	// drivers with known-slow transports. Written only during wiring.
	pluginTimeouts map[string]time.Duration

	// locks serialises dispatch per device ID. Entries are never
	// removed; the set of devices is small and stable.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a dispatcher. wakeActions lists the actions permitted
// against devices currently marked offline.
func New(devices *device.Registry, plugins PluginSource, timeout time.Duration, wakeActions []string) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	wake := make(map[device.Action]struct{}, len(wakeActions))
	for _, a := range wakeActions {
		wake[device.Action(a)] = struct{}{}
	}

	return &Dispatcher{
		devices:        devices,
		plugins:        plugins,
		events:         noopPublisher{},
		logger:         noopLogger{},
		timeout:        timeout,
		wake:           wake,
		pluginTimeouts: make(map[string]time.Duration),
		locks:          make(map[string]*sync.Mutex),
	}
}

// SetPluginTimeout overrides the action deadline for one plugin's
// devices. Call during wiring, before requests flow.
func (d *Dispatcher) SetPluginTimeout(pluginName string, timeout time.Duration) {
	if timeout > 0 {
		d.pluginTimeouts[pluginName] = timeout
	}
}

// timeoutFor returns the deadline for a plugin's calls.
func (d *Dispatcher) timeoutFor(pluginName string) time.Duration {
	if t, ok := d.pluginTimeouts[pluginName]; ok {
		return t
	}
	return d.timeout
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetEventPublisher attaches the bus dispatch outcomes are published on.
func (d *Dispatcher) SetEventPublisher(events EventPublisher) {
	d.events = events
}

// deviceLock returns the serialisation lock for a device ID.
func (d *Dispatcher) deviceLock(id string) *sync.Mutex {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	lock, ok := d.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[id] = lock
	}
	return lock
}

// Execute runs one action request end to end: resolve the device,
// check its capability set and online state, route to the running
// plugin, and commit the confirmed property delta.
//
// Returns the property delta on success. Failures are reported with
// the dispatch sentinel errors; state is never mutated on failure.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (device.Properties, error) {
	lock := d.deviceLock(req.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	dev, err := d.devices.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	if !dev.Online {
		if _, allowed := d.wake[req.Action]; !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDeviceOffline, req.DeviceID)
		}
	}

	if !dev.SupportsAction(req.Action) {
		return nil, fmt.Errorf("%w: %s does not support %s", ErrUnsupportedAction, req.DeviceID, req.Action)
	}

	p, err := d.plugins.Running(dev.Plugin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrPluginUnavailable, dev.Plugin, err)
	}

	changes, err := d.call(ctx, p, dev, req)
	if err != nil {
		d.events.Publish(eventbus.Event{
			Type:     eventbus.EventActionFailed,
			DeviceID: req.DeviceID,
			Plugin:   dev.Plugin,
			Payload: map[string]any{
				"action": string(req.Action),
				"error":  err.Error(),
			},
		})
		return nil, err
	}

	if err := d.devices.ApplyStateChange(ctx, req.DeviceID, changes); err != nil {
		return nil, fmt.Errorf("committing state for %s: %w", req.DeviceID, err)
	}

	d.events.Publish(eventbus.Event{
		Type:     eventbus.EventActionDispatched,
		DeviceID: req.DeviceID,
		Plugin:   dev.Plugin,
		Payload: map[string]any{
			"action": string(req.Action),
		},
	})
	d.logger.Debug("action dispatched",
		"device_id", req.DeviceID, "action", req.Action, "plugin", dev.Plugin)
	return changes, nil
}

// outcome carries a plugin call's result across the timeout boundary.
type outcome struct {
	changes device.Properties
	err     error
}

// call invokes the plugin with the dispatch deadline.
//
// The plugin runs against a context detached from the caller so a
// dispatch-side timeout does not abort a command already in flight on
// the wire. If the call outlives the deadline the caller gets
// ErrActionTimeout and the late completion is committed in the
// background; it is never reported to the original caller.
func (d *Dispatcher) call(ctx context.Context, p plugin.Plugin, dev *device.Device, req Request) (device.Properties, error) {
	timeout := d.timeoutFor(dev.Plugin)
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*timeout)

	done := make(chan outcome, 1)
	go func() {
		defer cancel()
		changes, err := p.HandleAction(callCtx, dev, req.Action, req.Params)
		done <- outcome{changes: changes, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("%w: %s on %s: %s", ErrActionFailed, req.Action, req.DeviceID, out.err)
		}
		return out.changes, nil

	case <-timer.C:
		go d.applyLate(req, dev.Plugin, done)
		return nil, fmt.Errorf("%w: %s on %s after %s", ErrActionTimeout, req.Action, req.DeviceID, timeout)

	case <-ctx.Done():
		go d.applyLate(req, dev.Plugin, done)
		return nil, fmt.Errorf("%w: %s on %s: %s", ErrActionTimeout, req.Action, req.DeviceID, ctx.Err())
	}
}

// applyLate waits for an abandoned plugin call and commits its result,
// keeping registry state consistent with whatever the device actually
// did.
func (d *Dispatcher) applyLate(req Request, pluginName string, done <-chan outcome) {
	out := <-done
	if out.err != nil {
		d.logger.Warn("late completion failed",
			"device_id", req.DeviceID, "action", req.Action, "error", out.err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.devices.ApplyStateChange(ctx, req.DeviceID, out.changes); err != nil {
		d.logger.Warn("committing late completion failed",
			"device_id", req.DeviceID, "action", req.Action, "error", err)
		return
	}

	d.logger.Info("late completion applied",
		"device_id", req.DeviceID, "action", req.Action, "plugin", pluginName)
}

// ExecuteAll fans a set of requests out concurrently and reports a
// per-request result in input order. Requests for the same device
// still serialise through the per-device lock.
func (d *Dispatcher) ExecuteAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			changes, err := d.Execute(ctx, req)
			results[i] = Result{
				DeviceID: req.DeviceID,
				Action:   req.Action,
				Changes:  changes,
				Err:      err,
			}
		}(i, req)
	}
	wg.Wait()

	return results
}
