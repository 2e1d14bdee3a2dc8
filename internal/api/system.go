package api

import (
	"net/http"
	"time"
)

// handleSystemStatus returns a hub-wide snapshot: device and event bus
// statistics, per-plugin state, and uptime.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"devices":        s.devices.GetStats(),
		"plugins":        s.plugins.GetStatus(r.Context()),
		"websocket": map[string]any{
			"clients": s.hub.ClientCount(),
		},
	}
	if s.bus != nil {
		status["event_bus"] = s.bus.GetStats()
	}

	writeJSON(w, http.StatusOK, status)
}
