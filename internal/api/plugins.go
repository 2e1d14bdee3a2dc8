package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emberfield/hearth-core/internal/plugin"
)

// handleListPlugins returns the status of every registered plugin.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	statuses := s.plugins.GetStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"plugins": statuses, "count": len(statuses)})
}

// handleStartPlugin starts a stopped or initialized plugin.
func (s *Server) handleStartPlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.plugins.Start(r.Context(), name); err != nil {
		writePluginError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"plugin": name, "state": plugin.StateRunning})
}

// handleStopPlugin stops a running plugin. Its devices are marked
// offline, not deleted.
func (s *Server) handleStopPlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.plugins.Stop(r.Context(), name); err != nil {
		writePluginError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"plugin": name, "state": plugin.StateStopped})
}

// handleDiscoverPlugin triggers one immediate discovery cycle for a
// running plugin, outside the periodic schedule.
func (s *Server) handleDiscoverPlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.plugins.DiscoverNow(r.Context(), name); err != nil {
		writePluginError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"plugin": name, "status": "discovery complete"})
}

// writePluginError maps plugin lifecycle errors to HTTP responses.
func writePluginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, plugin.ErrPluginNotFound):
		writeNotFound(w, "plugin not found")
	case errors.Is(err, plugin.ErrInvalidTransition), errors.Is(err, plugin.ErrNotRunning):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
