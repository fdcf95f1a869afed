// Package app composes the mudra components into a running recognizer:
// the Pipeline handles one frame at a time and App owns its collaborators
// and the loop that feeds it.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/publish"
	"github.com/ayusman/mudra/internal/store"
)

// ErrRunning is returned by Start when a source is already being processed.
var ErrRunning = errors.New("pipeline already running")

// App owns the store, dataset, recognizer, trainer and publisher built
// from a Config, and runs the pipeline over a landmark source.
type App struct {
	cfg       *config.Config
	logger    *zap.SugaredLogger
	store     *store.Store
	publisher publish.Publisher
	trainer   *gesture.Trainer
	pipeline  *Pipeline

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// New opens the history store, loads the dataset and, if present, the
// model. A missing model is not an error: results are Unknown until a
// model is trained. A corrupt dataset is.
func New(cfg *config.Config, logger *zap.SugaredLogger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ext, err := cfg.Extractor()
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, st.Close())
		}
	}()

	ds, err := dataset.Load(cfg.DatasetPath(), ext)
	if err != nil {
		return nil, err
	}

	rec := gesture.NewRecognizer(ext, logger.Named("recognizer"))
	if err := rec.Load(cfg.ModelPath()); err != nil {
		logger.Warnw("no model loaded, results are Unknown until training", "error", err)
	}

	pub, err := publish.NewUDPPublisher(cfg.Publish.Host, cfg.Publish.Port)
	if err != nil {
		return nil, err
	}

	trainer := gesture.NewTrainer(ext, cfg.ModelPath(), cfg.Trainer)
	trainer.Recorder = st.Runs()
	trainer.Logger = logger.Named("trainer")

	pipeline, err := NewPipeline(Options{
		Extractor:         ext,
		Dataset:           ds,
		Recognizer:        rec,
		Publisher:         pub,
		Trainer:           trainer,
		Store:             st,
		Threshold:         cfg.Threshold(),
		SamplesPerGesture: cfg.SamplesPerGesture,
		Logger:            logger.Named("pipeline"),
	})
	if err != nil {
		return nil, multierr.Append(err, pub.Close())
	}

	logger.Infow("mudra ready",
		"strategy", ext.ID(),
		"gestures", ds.Names(),
		"samples", ds.Len(),
		"model", rec.Ready(),
		"publish", pub.Addr())

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		publisher: pub,
		trainer:   trainer,
		pipeline:  pipeline,
	}, nil
}

// Start runs the pipeline over src in the background and watches the
// model artifact for retraining by other processes. src is closed when
// the loop ends.
func (a *App) Start(ctx context.Context, src detector.Source) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	a.cancel = cancel
	a.done = done

	go func() {
		if err := a.pipeline.Recognizer().Watch(ctx, a.cfg.ModelPath()); err != nil {
			a.logger.Warnw("model hot reload disabled", "error", err)
		}
	}()

	go func() {
		err := a.pipeline.Run(ctx, src)
		if cerr := src.Close(); cerr != nil {
			a.logger.Warnw("failed to close landmark source", "error", cerr)
		}
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		done <- err
	}()

	a.logger.Infow("detection pipeline started")
	return nil
}

// StartCamera opens the configured camera with the MediaPipe detector and
// starts the pipeline on it.
func (a *App) StartCamera(ctx context.Context) error {
	src, err := capture.OpenDevice(a.cfg.Camera.ID, a.cfg.Camera.FPS, a.cfg.Camera.Mirror,
		a.detectorConfig(), a.logger.Named("capture"))
	if err != nil {
		return err
	}
	if err := a.Start(ctx, src); err != nil {
		return multierr.Append(err, src.Close())
	}
	return nil
}

// detectorConfig is detector.DefaultConfig with the configured confidence
// thresholds applied.
func (a *App) detectorConfig() detector.Config {
	cfg := detector.DefaultConfig()
	if v := a.cfg.Detector.MinDetectionConfidence; v > 0 {
		cfg.MinConfidence = v
	}
	if v := a.cfg.Detector.MinTrackingConfidence; v > 0 {
		cfg.MinTrackingConf = v
	}
	return cfg
}

// Wait blocks until the running loop ends and returns its error. It
// returns nil immediately when nothing is running.
func (a *App) Wait() error {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()

	if done == nil {
		return nil
	}
	err := <-done
	done <- err

	a.mu.Lock()
	if a.done == done {
		a.cancel()
		a.cancel, a.done = nil, nil
	}
	a.mu.Unlock()
	return err
}

// Stop cancels the running loop and waits for it to finish.
func (a *App) Stop() error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := a.Wait()
	a.logger.Infow("detection pipeline stopped")
	return err
}

// Running reports whether a source is being processed.
func (a *App) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancel != nil
}

// Close stops the loop and releases the publisher and store.
func (a *App) Close() error {
	return multierr.Combine(a.Stop(), a.publisher.Close(), a.store.Close())
}

// Pipeline returns the frame pipeline.
func (a *App) Pipeline() *Pipeline {
	return a.pipeline
}

// Store returns the history store.
func (a *App) Store() *store.Store {
	return a.store
}

// Trainer returns the trainer. Its OnEpoch hook may be set before training.
func (a *App) Trainer() *gesture.Trainer {
	return a.trainer
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}
