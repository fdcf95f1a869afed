// Package api provides the HTTP handlers for dataset management, recording
// and training.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/dataset"
)

// GestureHandler serves the recorded gestures.
type GestureHandler struct {
	pipeline *app.Pipeline
}

// NewGestureHandler creates a GestureHandler backed by p.
func NewGestureHandler(p *app.Pipeline) *GestureHandler {
	return &GestureHandler{pipeline: p}
}

// ServeHTTP routes /api/gestures and /api/gestures/{name}.
func (h *GestureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/gestures")
	name = strings.TrimPrefix(name, "/")

	if name == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, name)
	case http.MethodDelete:
		h.delete(w, r, name)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type listGesturesResponse struct {
	Gestures []dataset.GestureCount `json:"gestures"`
	Total    int                    `json:"total"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/gestures.
func (h *GestureHandler) list(w http.ResponseWriter, r *http.Request) {
	gestures := h.pipeline.Gestures()
	total := 0
	for _, g := range gestures {
		total += g.Samples
	}
	writeJSON(w, http.StatusOK, listGesturesResponse{Gestures: gestures, Total: total})
}

// get handles GET /api/gestures/{name}.
func (h *GestureHandler) get(w http.ResponseWriter, r *http.Request, name string) {
	for _, g := range h.pipeline.Gestures() {
		if g.Name == name {
			writeJSON(w, http.StatusOK, g)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Gesture not found")
}

// delete handles DELETE /api/gestures/{name}.
func (h *GestureHandler) delete(w http.ResponseWriter, r *http.Request, name string) {
	err := h.pipeline.DeleteGesture(r.Context(), name)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, dataset.ErrNotFound):
		writeError(w, http.StatusNotFound, "Gesture not found")
	case errors.Is(err, app.ErrRecordingActive):
		writeError(w, http.StatusConflict, "Gesture is being recorded")
	default:
		writeError(w, http.StatusInternalServerError, "Failed to delete gesture: "+err.Error())
	}
}
