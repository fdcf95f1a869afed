// Package gesture trains gesture classifiers from recorded datasets and
// applies them to live feature vectors.
package gesture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/features"
)

// Unknown is the label reported when no gesture passes the threshold.
const Unknown = "Unknown"

// reloadDelay coalesces the burst of events produced by one artifact write.
const reloadDelay = 100 * time.Millisecond

// ErrNoModel is returned by Load when no usable model artifact exists.
var ErrNoModel = errors.New("no trained model")

// Result is the outcome of classifying one frame.
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"` // percent, 0-100
}

// Recognizer classifies feature vectors with the current trained model.
// The model can be replaced at any time; Classify always sees either the
// old or the new one.
type Recognizer struct {
	ext    features.Extractor
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	model *classifier.Model
}

// NewRecognizer creates a Recognizer without a model. Every Classify call
// returns Unknown until a model is loaded.
func NewRecognizer(ext features.Extractor, logger *zap.SugaredLogger) *Recognizer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Recognizer{ext: ext, logger: logger}
}

// Load reads the model artifact at path and makes it current. On error the
// previous model, if any, stays in place.
func (r *Recognizer) Load(path string) error {
	m, err := classifier.LoadModel(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoModel, err)
	}
	if err := r.Set(m); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNoModel, path, err)
	}
	return nil
}

// Set makes m the current model after checking it matches the extractor.
func (r *Recognizer) Set(m *classifier.Model) error {
	if m.Strategy != r.ext.ID() || m.Dimension != r.ext.Dimension() {
		return fmt.Errorf("%w: model built with %q (%d features), extractor is %q (%d features)",
			dataset.ErrStrategyMismatch, m.Strategy, m.Dimension, r.ext.ID(), r.ext.Dimension())
	}
	r.mu.Lock()
	r.model = m
	r.mu.Unlock()
	return nil
}

// Model returns the current model, or nil.
func (r *Recognizer) Model() *classifier.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model
}

// Ready reports whether a model is loaded.
func (r *Recognizer) Ready() bool {
	return r.Model() != nil
}

// Classify labels vec. Confidence is the top class probability in percent.
// When it is below threshold the label is Unknown but the confidence is
// still reported.
func (r *Recognizer) Classify(vec features.Vector, threshold float64) Result {
	m := r.Model()
	if m == nil || vec == nil {
		return Result{Label: Unknown}
	}

	pred, err := m.Predict(vec)
	if err != nil {
		r.logger.Debugw("classification skipped", "error", err)
		return Result{Label: Unknown}
	}

	confidence := pred.Probability * 100
	if confidence >= threshold {
		return Result{Label: pred.Label, Confidence: confidence}
	}
	return Result{Label: Unknown, Confidence: confidence}
}

// Watch reloads the model whenever the artifact at path is replaced, until
// ctx is cancelled. Reload failures are logged and the current model kept.
func (r *Recognizer) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	// The artifact is replaced by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !(ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				continue
			}
			timer.Reset(reloadDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warnw("model watcher error", "error", err)

		case <-timer.C:
			if err := r.Load(path); err != nil {
				r.logger.Warnw("model reload failed", "path", path, "error", err)
				continue
			}
			r.logger.Infow("model reloaded", "path", path, "classes", r.Model().Encoder.Classes())
		}
	}
}
