package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/store"
)

// RecordingHandler starts, stops and reports recording sessions.
type RecordingHandler struct {
	pipeline *app.Pipeline
	store    *store.Store
}

// NewRecordingHandler creates a RecordingHandler backed by p. s may be nil,
// in which case no session history is served.
func NewRecordingHandler(p *app.Pipeline, s *store.Store) *RecordingHandler {
	return &RecordingHandler{pipeline: p, store: s}
}

// ServeHTTP handles /api/recording.
func (h *RecordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.status(w, r)
	case http.MethodPost:
		h.start(w, r)
	case http.MethodDelete:
		h.stop(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type startRecordingRequest struct {
	Name    string `json:"name"`
	Samples int    `json:"samples"` // 0 uses the configured samples per gesture
}

// start handles POST /api/recording.
func (h *RecordingHandler) start(w http.ResponseWriter, r *http.Request) {
	var req startRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	rec, err := h.pipeline.StartRecording(r.Context(), req.Name, req.Samples)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, rec)
	case errors.Is(err, dataset.ErrEmptyName):
		writeError(w, http.StatusBadRequest, "Name is required")
	case errors.Is(err, app.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, "Samples must be positive")
	case errors.Is(err, app.ErrRecordingActive):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Failed to start recording: "+err.Error())
	}
}

// stop handles DELETE /api/recording.
func (h *RecordingHandler) stop(w http.ResponseWriter, r *http.Request) {
	rec, err := h.pipeline.StopRecording(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, app.ErrNotRecording):
		writeError(w, http.StatusConflict, "No recording in progress")
	default:
		writeError(w, http.StatusInternalServerError, "Failed to save recording: "+err.Error())
	}
}

// status handles GET /api/recording.
func (h *RecordingHandler) status(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.pipeline.Recording()
	if !ok {
		writeError(w, http.StatusNotFound, "No recording session")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type listSessionsResponse struct {
	Sessions []store.Session `json:"sessions"`
}

// Sessions handles GET /api/sessions?gesture=NAME&limit=N.
func (h *RecordingHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := []store.Session{}
	if h.store != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		found, err := h.store.Sessions().List(r.Context(), r.URL.Query().Get("gesture"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list sessions")
			return
		}
		sessions = append(sessions, found...)
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: sessions})
}
