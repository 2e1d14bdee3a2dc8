package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/emberfield/hearth-core/internal/device"
	"github.com/emberfield/hearth-core/internal/dispatch"
	"github.com/emberfield/hearth-core/internal/plugin"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnsupported  = "unsupported_action"
	ErrCodeOffline      = "device_offline"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeTimeout      = "timeout"
	ErrCodeActionFailed = "action_failed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDispatchError maps dispatch and registry errors to HTTP responses.
// Unrecognised errors become a 500.
func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, dispatch.ErrUnsupportedAction):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnsupported, err.Error())
	case errors.Is(err, dispatch.ErrDeviceOffline):
		writeError(w, http.StatusConflict, ErrCodeOffline, err.Error())
	case errors.Is(err, dispatch.ErrPluginUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, dispatch.ErrActionTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, dispatch.ErrActionFailed):
		writeError(w, http.StatusBadGateway, ErrCodeActionFailed, err.Error())
	case errors.Is(err, plugin.ErrPluginNotFound):
		writeNotFound(w, "plugin not found")
	default:
		writeInternalError(w, "action dispatch failed")
	}
}
