package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/emberfield/hearth-core/internal/device"
	"github.com/emberfield/hearth-core/internal/dispatch"
)

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - plugin: filter by owning plugin (hue, mihome, etc.)
//   - type: filter by device type (light, sensor, etc.)
//   - room: filter by room
//   - capability: filter by capability (on_off, brightness, etc.)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Check for filters
	if pluginName := r.URL.Query().Get("plugin"); pluginName != "" {
		devices, err := s.devices.GetDevicesByPlugin(ctx, pluginName)
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	if typeStr := r.URL.Query().Get("type"); typeStr != "" {
		devices, err := s.devices.GetDevicesByType(ctx, device.DeviceType(typeStr))
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	if room := r.URL.Query().Get("room"); room != "" {
		devices, err := s.devices.GetDevicesByRoom(ctx, room)
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	if capStr := r.URL.Query().Get("capability"); capStr != "" {
		devices, err := s.devices.GetDevicesByCapability(ctx, device.Capability(capStr))
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	// No filter: return all devices
	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.GetStats())
}

// handleDeleteDevice removes a device from the registry.
//
// Discovery never deletes devices, so this is the only way to drop one
// that has been physically decommissioned.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.devices.RemoveDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// actionRequest is the request body for POST /devices/{id}/actions.
type actionRequest struct {
	Action device.Action  `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// actionResponse is the response body for a successful action dispatch.
type actionResponse struct {
	DeviceID string            `json:"device_id"`
	Action   device.Action     `json:"action"`
	Changes  device.Properties `json:"changes"`
}

// handleDeviceAction dispatches an action to the device's owning plugin.
func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Action == "" {
		writeBadRequest(w, "action is required")
		return
	}

	changes, err := s.dispatcher.Execute(r.Context(), dispatch.Request{
		DeviceID: id,
		Action:   req.Action,
		Params:   req.Params,
	})
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, actionResponse{
		DeviceID: id,
		Action:   req.Action,
		Changes:  changes,
	})
}

// defaultHistoryHours is the history window when none is requested.
const defaultHistoryHours = 24

// handleDeviceHistory returns time-series readings for one device metric.
//
// Query parameters:
//   - measurement: metric name, e.g. temperature (required)
//   - hours: lookback window in hours (default 24)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "telemetry is not configured")
		return
	}

	id := chi.URLParam(r, "id")

	measurement := r.URL.Query().Get("measurement")
	if measurement == "" {
		writeBadRequest(w, "measurement query parameter is required")
		return
	}

	hours := defaultHistoryHours
	if hoursStr := r.URL.Query().Get("hours"); hoursStr != "" {
		parsed, err := strconv.Atoi(hoursStr)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "hours must be a positive integer")
			return
		}
		hours = parsed
	}

	// Confirm the device exists so a typo'd ID reads as 404, not an
	// empty series.
	if _, err := s.devices.GetDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	readings, err := s.history.QueryDeviceHistory(r.Context(), id, measurement, start, end)
	if err != nil {
		s.logger.Error("history query failed", "device_id", id, "measurement", measurement, "error", err)
		writeInternalError(w, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":   id,
		"measurement": measurement,
		"readings":    readings,
		"count":       len(readings),
	})
}
