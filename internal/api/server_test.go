package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/emberfield/hearth-core/internal/device"
	"github.com/emberfield/hearth-core/internal/device/devicetest"
	"github.com/emberfield/hearth-core/internal/dispatch"
	"github.com/emberfield/hearth-core/internal/eventbus"
	"github.com/emberfield/hearth-core/internal/infrastructure/config"
	"github.com/emberfield/hearth-core/internal/infrastructure/logging"
	"github.com/emberfield/hearth-core/internal/plugin"
	"github.com/emberfield/hearth-core/internal/voice"
)

const testJWTSecret = "test-secret-key-at-least-32-chars!"

// stubPlugin is a scriptable integration for handler tests.
type stubPlugin struct {
	devices []device.Device
	handle  func(action device.Action, params map[string]any) (device.Properties, error)
}

func (p *stubPlugin) Info() plugin.Info { return plugin.Info{Name: "stub", Version: "1.0.0"} }

func (p *stubPlugin) Initialize(context.Context, map[string]any) error { return nil }

func (p *stubPlugin) Start(context.Context) error { return nil }

func (p *stubPlugin) Stop(context.Context) error { return nil }

func (p *stubPlugin) Discover(context.Context) ([]device.Device, error) {
	return p.devices, nil
}

func (p *stubPlugin) HandleAction(_ context.Context, _ *device.Device, action device.Action, params map[string]any) (device.Properties, error) {
	if p.handle != nil {
		return p.handle(action, params)
	}
	return device.Properties{"power": action == "turn_on"}, nil
}

// testEnv bundles the server with its collaborators for assertions.
type testEnv struct {
	server  *Server
	router  http.Handler
	devices *device.Registry
	plugins *plugin.Registry
	bus     *eventbus.Bus
	stub    *stubPlugin
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	devices := device.NewRegistry(devicetest.NewRepository())

	stub := &stubPlugin{
		devices: []device.Device{
			{
				ID:           "stub_light_001",
				Name:         "Desk Lamp",
				Room:         "office",
				Type:         device.DeviceTypeLight,
				Plugin:       "stub",
				Capabilities: []device.Capability{device.CapOnOff, device.CapBrightness},
				Properties:   device.Properties{"power": false},
			},
		},
	}

	plugins := plugin.NewRegistry(devices, 2)
	if err := plugins.Register("stub", stub, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx := context.Background()
	if err := plugins.Initialize(ctx, "stub"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := plugins.Start(ctx, "stub"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := plugins.DiscoverNow(ctx, "stub"); err != nil {
		t.Fatalf("DiscoverNow() error = %v", err)
	}

	dispatcher := dispatch.New(devices, plugins, time.Second, nil)
	interpreter := voice.New(devices, dispatcher)
	bus := eventbus.New(16)
	t.Cleanup(bus.Close)

	server, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 8123},
		WS: config.WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT:   config.JWTConfig{Secret: testJWTSecret, AccessTokenTTL: 15},
			Admin: config.AdminConfig{Username: "admin", Password: "hunter2"},
		},
		Logger:     logging.Default(),
		Devices:    devices,
		Plugins:    plugins,
		Dispatcher: dispatcher,
		Voice:      interpreter,
		Bus:        bus,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Handlers are exercised through the router directly; no listener.
	server.hub = NewHub(server.wsCfg, server.logger)
	server.started = time.Now()

	return &testEnv{
		server:  server,
		router:  server.buildRouter(),
		devices: devices,
		plugins: plugins,
		bus:     bus,
		stub:    stub,
	}
}

// login logs in through the API and returns the bearer token.
func (e *testEnv) login(t *testing.T) string {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "admin", "password": "hunter2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	return resp.AccessToken
}

// do performs a request against the router, attaching the token if set.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	if err == nil {
		t.Fatal("New() error = nil, want missing dependency error")
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "admin", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestLogin_DisabledWithoutPassword(t *testing.T) {
	env := newTestEnv(t)
	env.server.secCfg.Admin.Password = ""

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "admin", "password": ""})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuth_ProtectedRouteRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/devices", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuth_RejectsTokenWithWrongSecret(t *testing.T) {
	env := newTestEnv(t)

	claims := jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("some-other-secret-that-is-long-too"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/devices", signed, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuth_RejectsExpiredToken(t *testing.T) {
	env := newTestEnv(t)

	claims := jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/devices", signed, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestLoginThenAccessProtectedRoute(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/v1/devices", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var body struct {
		Devices []device.Device `json:"devices"`
		Count   int             `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("count = %d, want 1", body.Count)
	}
	if len(body.Devices) != 1 || body.Devices[0].ID != "stub_light_001" {
		t.Errorf("devices = %+v, want stub_light_001", body.Devices)
	}
}

func TestWSTicket_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Ticket string `json:"ticket"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Ticket == "" {
		t.Fatal("ticket is empty")
	}

	subject, ok := env.server.tickets.consume(body.Ticket)
	if !ok {
		t.Fatal("consume() = false, want valid ticket")
	}
	if subject != "admin" {
		t.Errorf("subject = %q, want admin", subject)
	}

	if _, ok := env.server.tickets.consume(body.Ticket); ok {
		t.Error("consume() second use = true, want single-use ticket")
	}
}

func TestTicketStore_Expiry(t *testing.T) {
	ts := newTicketStore()
	ts.mu.Lock()
	ts.tickets["stale"] = ticketEntry{subject: "admin", expiresAt: time.Now().Add(-time.Second)}
	ts.mu.Unlock()

	if _, ok := ts.consume("stale"); ok {
		t.Error("consume() = true for expired ticket, want false")
	}
}

func TestRequestID_HeaderEchoed(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want abc123", got)
	}
}

func TestSystemStatus(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/v1/system/status", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"version", "uptime_seconds", "devices", "plugins", "event_bus", "websocket"} {
		if _, ok := body[key]; !ok {
			t.Errorf("status missing key %q", key)
		}
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	env := newTestEnv(t)

	if err := env.server.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() error = nil before Start, want error")
	}
}
