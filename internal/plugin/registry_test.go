package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/emberfield/hearth-core/internal/device"
	"github.com/emberfield/hearth-core/internal/device/devicetest"
	"github.com/emberfield/hearth-core/internal/eventbus"
)

// MockPlugin is a scriptable Plugin for testing.
type MockPlugin struct {
	mu     sync.Mutex
	name   string
	schema map[string]FieldSpec

	initErr     error
	startErr    error
	stopErr     error
	discoverErr error

	// devices returned by Discover.
	devices []device.Device

	initCalls     int
	startCalls    int
	stopCalls     int
	discoverCalls int
}

func NewMockPlugin(name string) *MockPlugin {
	return &MockPlugin{name: name}
}

func (m *MockPlugin) Info() Info {
	return Info{Name: m.name, Version: "1.0.0", ConfigSchema: m.schema}
}

func (m *MockPlugin) Initialize(_ context.Context, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCalls++
	return m.initErr
}

func (m *MockPlugin) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls++
	return m.startErr
}

func (m *MockPlugin) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	return m.stopErr
}

func (m *MockPlugin) Discover(_ context.Context) ([]device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoverCalls++
	if m.discoverErr != nil {
		return nil, m.discoverErr
	}
	out := make([]device.Device, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

func (m *MockPlugin) HandleAction(_ context.Context, _ *device.Device, _ device.Action, _ map[string]any) (device.Properties, error) {
	return nil, nil
}

func (m *MockPlugin) setDevices(devices []device.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = devices
}

// eventRecorder captures published events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *eventRecorder) Publish(event eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) ofType(t eventbus.EventType) []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventbus.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func discoveredLight(id string) device.Device {
	return device.Device{
		ID:           id,
		Name:         "Test Light " + id,
		Type:         device.DeviceTypeLight,
		Capabilities: []device.Capability{device.CapOnOff},
		Properties:   device.Properties{"power": false},
	}
}

func newTestRegistry(t *testing.T, grace int) (*Registry, *device.Registry, *eventRecorder) {
	t.Helper()
	devices := device.NewRegistry(devicetest.NewRepository())
	recorder := &eventRecorder{}
	reg := NewRegistry(devices, grace)
	reg.SetEventPublisher(recorder)
	return reg, devices, recorder
}

func TestRegister_Duplicate(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 2)

	if err := reg.Register("hue", NewMockPlugin("hue"), nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register("hue", NewMockPlugin("hue"), nil); !errors.Is(err, ErrPluginExists) {
		t.Errorf("duplicate Register() error = %v, want ErrPluginExists", err)
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	reg, _, recorder := newTestRegistry(t, 2)
	ctx := context.Background()
	mock := NewMockPlugin("hue")

	if err := reg.Register("hue", mock, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	assertState := func(want State) {
		t.Helper()
		state, err := reg.GetState("hue")
		if err != nil {
			t.Fatalf("GetState() error = %v", err)
		}
		if state != want {
			t.Fatalf("state = %s, want %s", state, want)
		}
	}

	assertState(StateUnloaded)

	if err := reg.Initialize(ctx, "hue"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	assertState(StateInitialized)

	if err := reg.Start(ctx, "hue"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	assertState(StateRunning)

	statusEvents := func(status State) []eventbus.Event {
		var matched []eventbus.Event
		for _, event := range recorder.ofType(eventbus.EventPluginStatusChanged) {
			if got, ok := event.Payload["status"].(string); ok && got == string(status) {
				matched = append(matched, event)
			}
		}
		return matched
	}

	running := statusEvents(StateRunning)
	if len(running) != 1 {
		t.Fatalf("running status events = %d, want 1", len(running))
	}
	if name, _ := running[0].Payload["name"].(string); name != "hue" {
		t.Errorf("status event name = %q, want %q", name, "hue")
	}
	if running[0].Plugin != "hue" {
		t.Errorf("status event plugin = %q, want %q", running[0].Plugin, "hue")
	}

	if err := reg.Stop(ctx, "hue"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	assertState(StateStopped)
	if stopped := statusEvents(StateStopped); len(stopped) != 1 {
		t.Errorf("stopped status events = %d, want 1", len(stopped))
	}

	// Restart from stopped.
	if err := reg.Start(ctx, "hue"); err != nil {
		t.Fatalf("restart Start() error = %v", err)
	}
	assertState(StateRunning)
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 2)
	ctx := context.Background()

	if err := reg.Register("hue", NewMockPlugin("hue"), nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Start before Initialize.
	if err := reg.Start(ctx, "hue"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Start() from unloaded error = %v, want ErrInvalidTransition", err)
	}

	// Stop before Start.
	if err := reg.Stop(ctx, "hue"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Stop() from unloaded error = %v, want ErrInvalidTransition", err)
	}

	if err := reg.Initialize(ctx, "hue"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	// Double Initialize.
	if err := reg.Initialize(ctx, "hue"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Initialize() error = %v, want ErrInvalidTransition", err)
	}
}

func TestInitialize_ConfigError_StaysUnloaded(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 2)
	ctx := context.Background()

	mock := NewMockPlugin("hue")
	mock.initErr = ErrConfigInvalid
	if err := reg.Register("hue", mock, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := reg.Initialize(ctx, "hue"); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Initialize() error = %v, want ErrConfigInvalid", err)
	}

	state, _ := reg.GetState("hue")
	if state != StateUnloaded {
		t.Errorf("state after failed Initialize = %s, want unloaded", state)
	}

	// Fixing the config allows a retry.
	mock.initErr = nil
	if err := reg.Initialize(ctx, "hue"); err != nil {
		t.Errorf("retried Initialize() error = %v", err)
	}
}

func TestStartAll_OneFailureDoesNotBlockOthers(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 2)
	ctx := context.Background()

	bad := NewMockPlugin("bad")
	bad.startErr = errors.New("bridge unreachable")
	good := NewMockPlugin("good")

	if err := reg.Register("bad", bad, nil); err != nil {
		t.Fatalf("Register(bad) error = %v", err)
	}
	if err := reg.Register("good", good, nil); err != nil {
		t.Fatalf("Register(good) error = %v", err)
	}

	reg.InitializeAll(ctx)
	reg.StartAll(ctx)

	badState, _ := reg.GetState("bad")
	if badState != StateInitialized {
		t.Errorf("bad plugin state = %s, want initialized", badState)
	}
	goodState, _ := reg.GetState("good")
	if goodState != StateRunning {
		t.Errorf("good plugin state = %s, want running", goodState)
	}
}

func TestStopAll_OnlyStopsRunning(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 2)
	ctx := context.Background()

	running := NewMockPlugin("running")
	idle := NewMockPlugin("idle")
	if err := reg.Register("running", running, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register("idle", idle, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := reg.Initialize(ctx, "running"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := reg.Start(ctx, "running"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	reg.StopAll(ctx)

	if running.stopCalls != 1 {
		t.Errorf("running plugin stop calls = %d, want 1", running.stopCalls)
	}
	if idle.stopCalls != 0 {
		t.Errorf("idle plugin stop calls = %d, want 0", idle.stopCalls)
	}
}

func TestRunning(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 2)
	ctx := context.Background()
	mock := NewMockPlugin("hue")

	if _, err := reg.Running("hue"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Running(unregistered) error = %v, want ErrPluginNotFound", err)
	}

	if err := reg.Register("hue", mock, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := reg.Running("hue"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Running(unloaded) error = %v, want ErrNotRunning", err)
	}

	if err := reg.Initialize(ctx, "hue"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := reg.Start(ctx, "hue"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	p, err := reg.Running("hue")
	if err != nil {
		t.Fatalf("Running() error = %v", err)
	}
	if p.Info().Name != "hue" {
		t.Errorf("Running() returned wrong plugin: %s", p.Info().Name)
	}
}

func startRunningPlugin(t *testing.T, reg *Registry, mock *MockPlugin) {
	t.Helper()
	ctx := context.Background()
	if err := reg.Register(mock.name, mock, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Initialize(ctx, mock.name); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := reg.Start(ctx, mock.name); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func TestStop_OrphansDevices(t *testing.T) {
	reg, devices, _ := newTestRegistry(t, 2)
	ctx := context.Background()

	mock := NewMockPlugin("hue")
	mock.setDevices([]device.Device{discoveredLight("light_001"), discoveredLight("light_002")})
	startRunningPlugin(t, reg, mock)
	if err := reg.DiscoverNow(ctx, "hue"); err != nil {
		t.Fatalf("DiscoverNow() error = %v", err)
	}

	if err := reg.Stop(ctx, "hue"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	owned, _ := devices.GetDevicesByPlugin(ctx, "hue")
	if len(owned) != 2 {
		t.Fatalf("devices after stop = %d, want 2 (orphaned, not deleted)", len(owned))
	}
	for _, d := range owned {
		if d.Online {
			t.Errorf("device %s still online after plugin stop", d.ID)
		}
	}
}

func TestDiscoverNow_MergesDevices(t *testing.T) {
	reg, devices, _ := newTestRegistry(t, 2)
	ctx := context.Background()

	mock := NewMockPlugin("hue")
	mock.setDevices([]device.Device{discoveredLight("light_001"), discoveredLight("light_002")})
	startRunningPlugin(t, reg, mock)

	if err := reg.DiscoverNow(ctx, "hue"); err != nil {
		t.Fatalf("DiscoverNow() error = %v", err)
	}

	owned, _ := devices.GetDevicesByPlugin(ctx, "hue")
	if len(owned) != 2 {
		t.Fatalf("devices after discovery = %d, want 2", len(owned))
	}
	for _, d := range owned {
		if !d.Online {
			t.Errorf("discovered device %s not online", d.ID)
		}
		if d.Plugin != "hue" {
			t.Errorf("device %s plugin = %q, want hue", d.ID, d.Plugin)
		}
	}
}

func TestDiscoverNow_GracePeriod(t *testing.T) {
	reg, devices, _ := newTestRegistry(t, 2)
	ctx := context.Background()

	mock := NewMockPlugin("hue")
	mock.setDevices([]device.Device{discoveredLight("light_001")})
	startRunningPlugin(t, reg, mock)

	if err := reg.DiscoverNow(ctx, "hue"); err != nil {
		t.Fatalf("initial DiscoverNow() error = %v", err)
	}

	// Device disappears from discovery.
	mock.setDevices(nil)

	// Two missed cycles: still within the grace period of 2.
	for i := 0; i < 2; i++ {
		if err := reg.DiscoverNow(ctx, "hue"); err != nil {
			t.Fatalf("DiscoverNow() cycle %d error = %v", i+1, err)
		}
		got, _ := devices.GetDevice(ctx, "light_001")
		if !got.Online {
			t.Fatalf("device offline after %d missed cycles, grace is 2", i+1)
		}
	}

	// Third miss exceeds the grace period.
	if err := reg.DiscoverNow(ctx, "hue"); err != nil {
		t.Fatalf("DiscoverNow() error = %v", err)
	}
	got, _ := devices.GetDevice(ctx, "light_001")
	if got.Online {
		t.Error("device still online after exceeding grace period")
	}

	// Device is retained, not deleted.
	if _, err := devices.GetDevice(ctx, "light_001"); err != nil {
		t.Errorf("device deleted by discovery: %v", err)
	}

	// Reappearing brings it back online and resets the countdown.
	mock.setDevices([]device.Device{discoveredLight("light_001")})
	if err := reg.DiscoverNow(ctx, "hue"); err != nil {
		t.Fatalf("DiscoverNow() error = %v", err)
	}
	got, _ = devices.GetDevice(ctx, "light_001")
	if !got.Online {
		t.Error("reappeared device not back online")
	}
}

func TestDiscoverNow_FailedCycleDoesNotCountAsMissed(t *testing.T) {
	reg, devices, _ := newTestRegistry(t, 0)
	ctx := context.Background()

	mock := NewMockPlugin("hue")
	mock.setDevices([]device.Device{discoveredLight("light_001")})
	startRunningPlugin(t, reg, mock)

	if err := reg.DiscoverNow(ctx, "hue"); err != nil {
		t.Fatalf("initial DiscoverNow() error = %v", err)
	}

	mock.discoverErr = errors.New("bridge timeout")
	for i := 0; i < 3; i++ {
		if err := reg.DiscoverNow(ctx, "hue"); err == nil {
			t.Fatal("DiscoverNow() expected error")
		}
	}

	got, _ := devices.GetDevice(ctx, "light_001")
	if !got.Online {
		t.Error("device marked offline by failed discovery cycles")
	}
}

func TestDiscoverNow_NotRunning(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 2)

	if err := reg.Register("hue", NewMockPlugin("hue"), nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.DiscoverNow(context.Background(), "hue"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("DiscoverNow() error = %v, want ErrNotRunning", err)
	}
}

func TestGetStatus(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 2)
	ctx := context.Background()

	mock := NewMockPlugin("hue")
	mock.setDevices([]device.Device{discoveredLight("light_001")})
	startRunningPlugin(t, reg, mock)

	if err := reg.DiscoverNow(ctx, "hue"); err != nil {
		t.Fatalf("DiscoverNow() error = %v", err)
	}

	statuses := reg.GetStatus(ctx)
	if len(statuses) != 1 {
		t.Fatalf("GetStatus() = %d entries, want 1", len(statuses))
	}
	s := statuses[0]
	if s.Info.Name != "hue" || s.State != StateRunning || s.DeviceCount != 1 {
		t.Errorf("status = %+v, want hue/running/1 device", s)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		config   map[string]any
		required []string
		optional []string
		wantErr  bool
	}{
		{
			name:     "all required present",
			config:   map[string]any{"bridge_ip": "192.168.1.2", "username": "abc"},
			required: []string{"bridge_ip", "username"},
			wantErr:  false,
		},
		{
			name:     "missing required",
			config:   map[string]any{"bridge_ip": "192.168.1.2"},
			required: []string{"bridge_ip", "username"},
			wantErr:  true,
		},
		{
			name:     "unknown key",
			config:   map[string]any{"bridge_ip": "192.168.1.2", "color": "red"},
			required: []string{"bridge_ip"},
			wantErr:  true,
		},
		{
			name:     "optional key accepted",
			config:   map[string]any{"bridge_ip": "192.168.1.2", "poll_interval": 30},
			required: []string{"bridge_ip"},
			optional: []string{"poll_interval"},
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.config, tt.required, tt.optional)
			if tt.wantErr && !errors.Is(err, ErrConfigInvalid) {
				t.Errorf("ValidateConfig() error = %v, want ErrConfigInvalid", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateConfig() error = %v, want nil", err)
			}
		})
	}
}

func TestRegister_SchemaValidation(t *testing.T) {
	schema := map[string]FieldSpec{
		"bridge_ip": {Type: "string", Required: true},
		"poll_secs": {Type: "int", Required: false},
		"verbose":   {Type: "bool", Required: false},
	}

	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{
			name:   "valid full config",
			config: map[string]any{"bridge_ip": "192.168.1.10", "poll_secs": 30, "verbose": true},
		},
		{
			name:   "optional fields omitted",
			config: map[string]any{"bridge_ip": "192.168.1.10"},
		},
		{
			name:    "missing required field",
			config:  map[string]any{"poll_secs": 30},
			wantErr: true,
		},
		{
			name:    "wrong type",
			config:  map[string]any{"bridge_ip": 42},
			wantErr: true,
		},
		{
			name:    "unknown field",
			config:  map[string]any{"bridge_ip": "192.168.1.10", "bogus": "x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _, _ := newTestRegistry(t, 2)
			mock := NewMockPlugin("hue")
			mock.schema = schema

			err := reg.Register("hue", mock, tt.config)
			if tt.wantErr {
				if !errors.Is(err, ErrConfigInvalid) {
					t.Fatalf("Register() error = %v, want ErrConfigInvalid", err)
				}
				if _, getErr := reg.get("hue"); getErr == nil {
					t.Error("plugin was registered despite invalid config")
				}
				return
			}
			if err != nil {
				t.Fatalf("Register() error = %v", err)
			}
		})
	}
}

func TestValidateSchema_NumericCoercion(t *testing.T) {
	schema := map[string]FieldSpec{"interval": {Type: "int", Required: true}}

	// JSON decoding produces float64 for numbers; the schema accepts it.
	if err := ValidateSchema(schema, map[string]any{"interval": float64(30)}); err != nil {
		t.Errorf("ValidateSchema() with float64 = %v, want nil", err)
	}
	if err := ValidateSchema(schema, map[string]any{"interval": "30"}); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("ValidateSchema() with string = %v, want ErrConfigInvalid", err)
	}
}
