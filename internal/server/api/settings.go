package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/mudra/internal/app"
)

// SettingsHandler exposes the pipeline state and the runtime settings.
type SettingsHandler struct {
	pipeline *app.Pipeline
}

// NewSettingsHandler creates a SettingsHandler backed by p.
func NewSettingsHandler(p *app.Pipeline) *SettingsHandler {
	return &SettingsHandler{pipeline: p}
}

type settingsResponse struct {
	SamplesPerGesture   int     `json:"samples_per_gesture"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

type updateSettingsRequest struct {
	SamplesPerGesture *int `json:"samples_per_gesture"`
}

type updateStateRequest struct {
	Enabled *bool `json:"enabled"`
}

// Settings handles /api/settings. PUT changes the samples per gesture and
// DELETE restores the configured default.
func (h *SettingsHandler) Settings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req updateSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		if req.SamplesPerGesture != nil {
			if err := h.pipeline.SetSamplesPerGesture(ctx, *req.SamplesPerGesture); err != nil {
				if errors.Is(err, app.ErrInvalidTarget) {
					writeError(w, http.StatusBadRequest, "samples_per_gesture must be positive")
					return
				}
				writeError(w, http.StatusInternalServerError, "Failed to save settings")
				return
			}
		}
	case http.MethodDelete:
		if err := h.pipeline.ResetSamplesPerGesture(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset settings")
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n, err := h.pipeline.SamplesPerGesture(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		SamplesPerGesture:   n,
		ConfidenceThreshold: h.pipeline.Threshold(),
	})
}

// State handles /api/state. POST {"enabled": bool} pauses or resumes
// frame processing.
func (h *SettingsHandler) State(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req updateStateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			writeError(w, http.StatusBadRequest, "enabled is required")
			return
		}
		h.pipeline.SetEnabled(*req.Enabled)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.pipeline.State())
}
