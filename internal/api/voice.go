package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/emberfield/hearth-core/internal/voice"
)

// voiceRequest is the request body for POST /voice/command.
type voiceRequest struct {
	Text string `json:"text"`
}

// voiceResult is one per-device dispatch outcome in a voice response.
type voiceResult struct {
	DeviceID string `json:"device_id"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// voiceResponse is the response body for POST /voice/command.
type voiceResponse struct {
	State   voice.State   `json:"state"`
	Intent  *voice.Intent `json:"intent,omitempty"`
	Reply   string        `json:"reply,omitempty"`
	Results []voiceResult `json:"results,omitempty"`
}

// handleVoiceCommand runs a transcribed utterance through the voice
// interpreter. Partial failure across matched devices still reports a
// completed intent; per-device outcomes are in the results list.
func (s *Server) handleVoiceCommand(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "voice is not configured")
		return
	}

	var req voiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeBadRequest(w, "text is required")
		return
	}

	resp, err := s.voice.Interpret(r.Context(), req.Text)
	if err != nil {
		// Failed interpretations still carry a speakable reply; send it
		// with a status matching the failure.
		writeJSON(w, voiceErrorStatus(err), toVoiceResponse(resp))
		return
	}

	writeJSON(w, http.StatusOK, toVoiceResponse(resp))
}

// voiceErrorStatus maps voice interpretation errors to HTTP status codes.
func voiceErrorStatus(err error) int {
	switch {
	case errors.Is(err, voice.ErrCommandNotRecognized):
		return http.StatusUnprocessableEntity
	case errors.Is(err, voice.ErrNoMatchingDevice):
		return http.StatusNotFound
	case errors.Is(err, voice.ErrAmbiguousCommand):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// toVoiceResponse converts an interpreter response to its wire form.
func toVoiceResponse(resp *voice.Response) voiceResponse {
	out := voiceResponse{
		State:  resp.State,
		Intent: resp.Intent,
		Reply:  resp.Reply,
	}
	for _, res := range resp.Results {
		vr := voiceResult{DeviceID: res.DeviceID, OK: res.Err == nil}
		if res.Err != nil {
			vr.Error = res.Err.Error()
		}
		out.Results = append(out.Results, vr)
	}
	return out
}
