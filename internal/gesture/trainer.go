package gesture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/features"
)

var (
	// ErrNoData is the training failure reason for an empty dataset.
	ErrNoData = errors.New("no training data")
	// ErrTooFewClasses is the training failure reason when fewer than two
	// gestures have samples.
	ErrTooFewClasses = errors.New("need at least two gestures")
)

// TrainingError reports why a training run produced no model.
type TrainingError struct {
	Reason error
}

func (e *TrainingError) Error() string {
	return "training failed: " + e.Reason.Error()
}

func (e *TrainingError) Unwrap() error {
	return e.Reason
}

// Run describes one training attempt, successful or not.
type Run struct {
	Strategy  string
	Classes   []string
	Samples   int
	Epochs    int
	Loss      float64
	Accuracy  float64
	Converged bool
	Duration  time.Duration
	Err       error
}

// RunRecorder keeps a history of training runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// Trainer fits gesture classifiers from datasets and writes the model artifact.
type Trainer struct {
	Extractor features.Extractor
	ModelPath string
	Config    classifier.TrainConfig

	// OnEpoch, if set, is called after every training epoch.
	OnEpoch classifier.EpochFunc
	// Recorder, if set, receives every run.
	Recorder RunRecorder
	Logger   *zap.SugaredLogger
}

// NewTrainer creates a Trainer writing its artifact to modelPath.
func NewTrainer(ext features.Extractor, modelPath string, cfg classifier.TrainConfig) *Trainer {
	return &Trainer{
		Extractor: ext,
		ModelPath: modelPath,
		Config:    cfg,
		Logger:    zap.NewNop().Sugar(),
	}
}

// Train fits a new model on every sample in ds and replaces the artifact.
// On failure the previous artifact is left untouched.
func (t *Trainer) Train(ctx context.Context, ds *dataset.Dataset) (*classifier.Model, error) {
	start := time.Now()
	run := Run{Strategy: ds.Strategy(), Samples: ds.Len()}

	model, err := t.train(ctx, ds, &run)

	run.Duration = time.Since(start)
	run.Err = err
	t.record(ctx, run)

	if err != nil {
		return nil, err
	}
	t.logger().Infow("training complete",
		"classes", run.Classes,
		"samples", run.Samples,
		"epochs", run.Epochs,
		"loss", run.Loss,
		"accuracy", run.Accuracy,
		"duration", run.Duration)
	return model, nil
}

func (t *Trainer) train(ctx context.Context, ds *dataset.Dataset, run *Run) (*classifier.Model, error) {
	if err := t.check(ds); err != nil {
		return nil, err
	}

	x, labels := ds.Flatten()
	model, res, err := fitModel(ctx, x, labels, ds.Strategy(), ds.Dimension(), t.Config, t.OnEpoch)
	if err != nil {
		return nil, &TrainingError{Reason: err}
	}

	run.Classes = model.Encoder.Classes()
	run.Epochs = res.Epochs
	run.Loss = res.Loss
	run.Converged = res.Converged
	run.Accuracy = accuracy(model, x, labels)

	if err := model.Save(t.ModelPath); err != nil {
		return nil, &TrainingError{Reason: err}
	}
	return model, nil
}

func (t *Trainer) check(ds *dataset.Dataset) error {
	if ds.Strategy() != t.Extractor.ID() {
		return &TrainingError{Reason: fmt.Errorf("%w: dataset %q, extractor %q",
			dataset.ErrStrategyMismatch, ds.Strategy(), t.Extractor.ID())}
	}
	if ds.Len() == 0 {
		return &TrainingError{Reason: ErrNoData}
	}
	if n := ds.Classes(); n < 2 {
		return &TrainingError{Reason: fmt.Errorf("%w, have %d", ErrTooFewClasses, n)}
	}
	return nil
}

func (t *Trainer) record(ctx context.Context, run Run) {
	if t.Recorder == nil {
		return
	}
	if err := t.Recorder.RecordRun(ctx, run); err != nil {
		t.logger().Warnw("failed to record training run", "error", err)
	}
}

func (t *Trainer) logger() *zap.SugaredLogger {
	if t.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return t.Logger
}

// fitModel encodes labels, standardizes x and fits the network.
func fitModel(ctx context.Context, x []features.Vector, labels []string, strategy string, dim int,
	cfg classifier.TrainConfig, onEpoch classifier.EpochFunc) (*classifier.Model, classifier.FitResult, error) {
	enc := classifier.FitLabelEncoder(labels)
	y, err := enc.EncodeAll(labels)
	if err != nil {
		return nil, classifier.FitResult{}, err
	}

	xm := mat.NewDense(len(x), dim, nil)
	for i, v := range x {
		xm.SetRow(i, v)
	}
	scaler := classifier.FitScaler(xm)

	net, res, err := classifier.Fit(ctx, scaler.TransformMatrix(xm), y, enc.Len(), cfg, onEpoch)
	if err != nil {
		return nil, res, err
	}

	return &classifier.Model{
		Strategy:  strategy,
		Dimension: dim,
		Encoder:   enc,
		Scaler:    scaler,
		Net:       net,
		TrainedAt: time.Now().UTC(),
	}, res, nil
}

// accuracy returns the fraction of x the model labels correctly.
func accuracy(m *classifier.Model, x []features.Vector, labels []string) float64 {
	if len(x) == 0 {
		return 0
	}
	correct := 0
	for i, v := range x {
		if p, err := m.Predict(v); err == nil && p.Label == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(x))
}
