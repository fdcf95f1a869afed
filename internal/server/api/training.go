package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/store"
)

// TrainingHandler trains models and reports the current model and the
// training history.
type TrainingHandler struct {
	pipeline *app.Pipeline
	store    *store.Store
}

// NewTrainingHandler creates a TrainingHandler. s may be nil, in which
// case no run history is served.
func NewTrainingHandler(p *app.Pipeline, s *store.Store) *TrainingHandler {
	return &TrainingHandler{pipeline: p, store: s}
}

type modelResponse struct {
	Strategy  string    `json:"strategy"`
	Dimension int       `json:"dimension"`
	Classes   []string  `json:"classes"`
	TrainedAt time.Time `json:"trained_at"`
}

type listRunsResponse struct {
	Runs []store.TrainingRun `json:"runs"`
}

// Train handles POST /api/train. It blocks until training finishes.
func (h *TrainingHandler) Train(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	model, err := h.pipeline.Train(r.Context())
	if err != nil {
		var terr *gesture.TrainingError
		if errors.As(err, &terr) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Training failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, modelResponse{
		Strategy:  model.Strategy,
		Dimension: model.Dimension,
		Classes:   model.Encoder.Classes(),
		TrainedAt: model.TrainedAt,
	})
}

// Model handles GET /api/model.
func (h *TrainingHandler) Model(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	model := h.pipeline.Recognizer().Model()
	if model == nil {
		writeError(w, http.StatusNotFound, "No trained model")
		return
	}
	writeJSON(w, http.StatusOK, modelResponse{
		Strategy:  model.Strategy,
		Dimension: model.Dimension,
		Classes:   model.Encoder.Classes(),
		TrainedAt: model.TrainedAt,
	})
}

// Runs handles GET /api/runs?limit=N.
func (h *TrainingHandler) Runs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.store == nil {
		writeJSON(w, http.StatusOK, listRunsResponse{Runs: []store.TrainingRun{}})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.store.Runs().List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.TrainingRun{}
	}
	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}
