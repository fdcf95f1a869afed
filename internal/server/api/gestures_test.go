package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/store"
)

// newTestPipeline creates a pipeline over a temporary data directory.
func newTestPipeline(t *testing.T) (*app.Pipeline, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t).Sugar()

	ext, err := features.Lookup(features.PalmPlaneID)
	if err != nil {
		t.Fatal(err)
	}
	s, err := store.New(filepath.Join(dir, store.FileName))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := classifier.DefaultTrainConfig()
	cfg.Hidden = []int{16}
	cfg.MaxEpochs = 150
	trainer := gesture.NewTrainer(ext, filepath.Join(dir, classifier.ModelFileName), cfg)
	trainer.Recorder = s.Runs()

	p, err := app.NewPipeline(app.Options{
		Extractor:         ext,
		Dataset:           dataset.New(filepath.Join(dir, dataset.FileName), ext),
		Recognizer:        gesture.NewRecognizer(ext, logger),
		Trainer:           trainer,
		Store:             s,
		Threshold:         60,
		SamplesPerGesture: 10,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	return p, s
}

// seed records n samples of base under name.
func seed(t *testing.T, p *app.Pipeline, name string, base detector.HandLandmarks, n int) {
	t.Helper()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(int64(len(name))))
	if _, err := p.StartRecording(ctx, name, n); err != nil {
		t.Fatalf("failed to start recording: %v", err)
	}
	for i := 0; i < n; i++ {
		hand := detector.Jitter(base, rng, 0.004)
		if err := p.Tick(ctx, &hand); err != nil {
			t.Fatal(err)
		}
	}
}

func do(h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGestureHandler_List(t *testing.T) {
	p, _ := newTestPipeline(t)
	seed(t, p, "thumbs_up", detector.ThumbsUpLandmarks(), 3)
	seed(t, p, "open_palm", detector.OpenPalmLandmarks(), 2)
	handler := NewGestureHandler(p)

	rec := do(handler, http.MethodGet, "/api/gestures", nil)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var response listGesturesResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Gestures) != 2 || response.Total != 5 {
		t.Fatalf("unexpected response %+v", response)
	}
	if response.Gestures[0].Name != "open_palm" || response.Gestures[1].Name != "thumbs_up" {
		t.Errorf("gestures not sorted by name: %+v", response.Gestures)
	}
}

func TestGestureHandler_ListEmpty(t *testing.T) {
	p, _ := newTestPipeline(t)
	rec := do(NewGestureHandler(p), http.MethodGet, "/api/gestures", nil)

	var response listGesturesResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatal(err)
	}
	if response.Gestures == nil || len(response.Gestures) != 0 {
		t.Errorf("expected empty list, got %#v", response.Gestures)
	}
}

func TestGestureHandler_Get(t *testing.T) {
	p, _ := newTestPipeline(t)
	seed(t, p, "thumbs up", detector.ThumbsUpLandmarks(), 2)
	handler := NewGestureHandler(p)

	rec := do(handler, http.MethodGet, "/api/gestures/thumbs%20up", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var g dataset.GestureCount
	json.NewDecoder(rec.Body).Decode(&g)
	if g.Name != "thumbs up" || g.Samples != 2 {
		t.Errorf("unexpected gesture %+v", g)
	}

	if rec := do(handler, http.MethodGet, "/api/gestures/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestGestureHandler_Delete(t *testing.T) {
	p, s := newTestPipeline(t)
	seed(t, p, "thumbs_up", detector.ThumbsUpLandmarks(), 2)
	handler := NewGestureHandler(p)

	rec := do(handler, http.MethodDelete, "/api/gestures/thumbs_up", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d: %s", http.StatusNoContent, rec.Code, rec.Body.String())
	}
	if len(p.Gestures()) != 0 {
		t.Error("gesture still listed after delete")
	}
	sessions, _ := s.Sessions().List(context.Background(), "thumbs_up", 0)
	if len(sessions) != 0 {
		t.Errorf("expected session history removed, got %d", len(sessions))
	}

	rec = do(handler, http.MethodDelete, "/api/gestures/thumbs_up", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestGestureHandler_DeleteWhileRecording(t *testing.T) {
	p, _ := newTestPipeline(t)
	if _, err := p.StartRecording(context.Background(), "fist", 5); err != nil {
		t.Fatal(err)
	}

	rec := do(NewGestureHandler(p), http.MethodDelete, "/api/gestures/fist", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, rec.Code)
	}
}

func TestGestureHandler_MethodNotAllowed(t *testing.T) {
	p, _ := newTestPipeline(t)
	handler := NewGestureHandler(p)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/gestures"},
		{http.MethodDelete, "/api/gestures"},
		{http.MethodPut, "/api/gestures/fist"},
	}
	for _, tt := range tests {
		rec := do(handler, tt.method, tt.path, nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected status %d, got %d", tt.method, tt.path, http.StatusMethodNotAllowed, rec.Code)
		}
	}
}
