package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/emberfield/hearth-core/internal/plugin"
)

func TestListPlugins(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/v1/plugins", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Plugins []plugin.Status `json:"plugins"`
		Count   int             `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("count = %d, want 1", body.Count)
	}
	status := body.Plugins[0]
	if status.Info.Name != "stub" {
		t.Errorf("name = %q, want stub", status.Info.Name)
	}
	if status.State != plugin.StateRunning {
		t.Errorf("state = %q, want %q", status.State, plugin.StateRunning)
	}
	if status.DeviceCount != 1 {
		t.Errorf("device count = %d, want 1", status.DeviceCount)
	}
}

func TestStopPlugin_MarksDevicesOffline(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/api/v1/plugins/stub/stop", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	dev, err := env.devices.GetDevice(context.Background(), "stub_light_001")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if dev.Online {
		t.Error("device still online after plugin stop, want offline")
	}
}

func TestStopPlugin_NotRunning(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	env.do(t, http.MethodPost, "/api/v1/plugins/stub/stop", token, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/plugins/stub/stop", token, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestStartPlugin_AfterStop(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	env.do(t, http.MethodPost, "/api/v1/plugins/stub/stop", token, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/plugins/stub/start", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestDiscoverPlugin(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/api/v1/plugins/stub/discover", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestPluginEndpoints_UnknownPlugin(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	for _, path := range []string{
		"/api/v1/plugins/zwave/start",
		"/api/v1/plugins/zwave/stop",
		"/api/v1/plugins/zwave/discover",
	} {
		rec := env.do(t, http.MethodPost, path, token, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want %d", path, rec.Code, http.StatusNotFound)
		}
	}
}
