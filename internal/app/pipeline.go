package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/publish"
	"github.com/ayusman/mudra/internal/store"
)

// NoHand is the label reported while no hand is in view.
const NoHand = "None"

// maxSourceErrors is how many consecutive source failures Run tolerates.
const maxSourceErrors = 30

// Mode is what the pipeline does with each feature vector.
type Mode string

const (
	ModeInference Mode = "inference"
	ModeRecording Mode = "recording"
)

var (
	// ErrRecordingActive is returned when a recording session is already running.
	ErrRecordingActive = errors.New("recording session already active")
	// ErrNotRecording is returned when no recording session is running.
	ErrNotRecording = errors.New("no recording session active")
	// ErrInvalidTarget is returned for a non-positive sample count.
	ErrInvalidTarget = errors.New("sample count must be positive")
	// ErrNoTrainer is returned by Train on a pipeline built without a trainer.
	ErrNoTrainer = errors.New("pipeline has no trainer")
)

// Recording describes the active or most recent recording session.
type Recording struct {
	SessionID string `json:"session_id,omitempty"`
	Gesture   string `json:"gesture"`
	Target    int    `json:"target"`
	Start     int    `json:"start"`
	Count     int    `json:"count"`
	Active    bool   `json:"active"`
}

// Recorded returns the number of samples added in this session.
func (r Recording) Recorded() int {
	return r.Count - r.Start
}

// State is a snapshot of the pipeline.
type State struct {
	Mode       Mode       `json:"mode"`
	Enabled    bool       `json:"enabled"`
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Frames     uint64     `json:"frames"`
	Skipped    uint64     `json:"skipped"`
	ModelReady bool       `json:"model_ready"`
	Recording  *Recording `json:"recording,omitempty"`
}

// Options configures a Pipeline. Publisher, Trainer and Store are optional.
type Options struct {
	Extractor         features.Extractor
	Dataset           *dataset.Dataset
	Recognizer        *gesture.Recognizer
	Publisher         publish.Publisher
	Trainer           *gesture.Trainer
	Store             *store.Store
	Threshold         float64
	SamplesPerGesture int
	Logger            *zap.SugaredLogger
}

// Pipeline composes the extractor, dataset and recognizer and is driven
// one frame at a time through Tick.
type Pipeline struct {
	ext            features.Extractor
	ds             *dataset.Dataset
	rec            *gesture.Recognizer
	pub            publish.Publisher
	trainer        *gesture.Trainer
	store          *store.Store
	threshold      float64
	defaultSamples int
	logger         *zap.SugaredLogger

	mu         sync.Mutex
	enabled    bool
	recording  *Recording
	last       *Recording
	label      string
	confidence float64
	frames     uint64
	skipped    uint64
	samples    int // in-memory override when there is no store

	subsMu sync.Mutex
	subs   map[chan gesture.Result]struct{}
}

// NewPipeline validates opts and returns an enabled pipeline in inference mode.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Extractor == nil || opts.Dataset == nil || opts.Recognizer == nil {
		return nil, errors.New("pipeline needs an extractor, a dataset and a recognizer")
	}
	if opts.Dataset.Strategy() != opts.Extractor.ID() {
		return nil, fmt.Errorf("%w: dataset %q, extractor %q",
			dataset.ErrStrategyMismatch, opts.Dataset.Strategy(), opts.Extractor.ID())
	}
	if opts.Threshold < 0 || opts.Threshold > 100 {
		return nil, fmt.Errorf("confidence threshold %v outside [0, 100]", opts.Threshold)
	}
	if opts.SamplesPerGesture <= 0 {
		return nil, ErrInvalidTarget
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Pipeline{
		ext:            opts.Extractor,
		ds:             opts.Dataset,
		rec:            opts.Recognizer,
		pub:            opts.Publisher,
		trainer:        opts.Trainer,
		store:          opts.Store,
		threshold:      opts.Threshold,
		defaultSamples: opts.SamplesPerGesture,
		logger:         logger,
		enabled:        true,
		label:          NoHand,
		subs:           make(map[chan gesture.Result]struct{}),
	}, nil
}

// Tick processes one frame. A nil hand means none was detected: the state
// becomes None/0 and nothing is published. Frames whose palm is degenerate
// are skipped and counted. The returned error is only non-nil when an
// automatically finished recording session could not be persisted.
func (p *Pipeline) Tick(ctx context.Context, hand *detector.HandLandmarks) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return nil
	}
	p.frames++

	if hand == nil {
		p.label, p.confidence = NoHand, 0
		return nil
	}

	vec := p.ext.Extract(hand)
	if vec == nil {
		p.skipped++
		p.logger.Debugw("frame skipped", "reason", "degenerate palm", "skipped", p.skipped)
		return nil
	}

	if p.recording != nil {
		return p.recordLocked(ctx, vec)
	}

	res := p.rec.Classify(vec, p.threshold)
	p.label, p.confidence = res.Label, res.Confidence

	if p.pub != nil {
		if err := p.pub.Publish(res.Label, res.Confidence); err != nil {
			p.logger.Debugw("publish failed", "label", res.Label, "error", err)
		}
	}
	p.broadcast(res)
	return nil
}

func (p *Pipeline) recordLocked(ctx context.Context, vec features.Vector) error {
	r := p.recording
	if err := p.ds.Append(r.Gesture, vec); err != nil {
		p.skipped++
		p.logger.Warnw("sample rejected", "gesture", r.Gesture, "error", err)
		return nil
	}
	r.Count = p.ds.Count(r.Gesture)
	p.label, p.confidence = r.Gesture, 0

	if r.Count >= r.Target {
		p.logger.Infow("recording target reached", "gesture", r.Gesture, "samples", r.Count)
		return p.finishLocked(ctx, store.SessionCompleted)
	}
	return nil
}

// StartRecording begins collecting samples for name until the gesture has
// target samples in total. A target of 0 uses the configured samples per
// gesture. Recording an existing gesture appends to it.
func (p *Pipeline) StartRecording(ctx context.Context, name string, target int) (Recording, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Recording{}, dataset.ErrEmptyName
	}
	if target < 0 {
		return Recording{}, ErrInvalidTarget
	}
	if target == 0 {
		n, err := p.SamplesPerGesture(ctx)
		if err != nil {
			return Recording{}, err
		}
		target = n
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.recording != nil {
		return Recording{}, fmt.Errorf("%w: %q", ErrRecordingActive, p.recording.Gesture)
	}
	if err := p.ds.Create(name); err != nil {
		return Recording{}, err
	}

	start := p.ds.Count(name)
	r := &Recording{Gesture: name, Target: target, Start: start, Count: start, Active: true}

	if p.store != nil {
		sess := &store.Session{Gesture: name, Target: target, StartCount: start}
		if err := p.store.Sessions().Start(ctx, sess); err != nil {
			return Recording{}, fmt.Errorf("start session for %q: %w", name, err)
		}
		r.SessionID = sess.ID
	}

	p.recording = r
	p.logger.Infow("recording started", "gesture", name, "existing", start, "target", target)
	return *r, nil
}

// StopRecording ends the active session and persists the dataset.
func (p *Pipeline) StopRecording(ctx context.Context) (Recording, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.recording == nil {
		return Recording{}, ErrNotRecording
	}
	err := p.finishLocked(ctx, store.SessionStopped)
	return *p.last, err
}

// finishLocked persists the dataset and closes the active session.
func (p *Pipeline) finishLocked(ctx context.Context, status store.SessionStatus) error {
	r := p.recording
	p.recording = nil
	r.Active = false
	p.last = r

	persistErr := p.ds.Persist()
	if persistErr != nil {
		status = store.SessionFailed
		persistErr = fmt.Errorf("save samples for %q: %w", r.Gesture, persistErr)
	}

	if p.store != nil && r.SessionID != "" {
		if err := p.store.Sessions().Finish(ctx, r.SessionID, status, r.Recorded()); err != nil {
			p.logger.Warnw("failed to close recording session", "session", r.SessionID, "error", err)
		}
	}

	p.logger.Infow("recording finished", "gesture", r.Gesture, "status", status, "recorded", r.Recorded(), "total", r.Count)
	return persistErr
}

// Recording returns the active session, or the most recent one when none
// is active. The boolean is false if there has never been a session.
func (p *Pipeline) Recording() (Recording, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.recording != nil:
		return *p.recording, true
	case p.last != nil:
		return *p.last, true
	}
	return Recording{}, false
}

// Gestures lists every gesture with its sample count, sorted by name.
func (p *Pipeline) Gestures() []dataset.GestureCount {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ds.List()
}

// DeleteGesture removes every sample of name and persists the dataset.
func (p *Pipeline) DeleteGesture(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.recording != nil && p.recording.Gesture == name {
		return fmt.Errorf("%w: %q", ErrRecordingActive, name)
	}
	if err := p.ds.Remove(name); err != nil {
		return err
	}
	if err := p.ds.Persist(); err != nil {
		return fmt.Errorf("save dataset after deleting %q: %w", name, err)
	}
	if p.store != nil {
		if err := p.store.Sessions().DeleteByGesture(ctx, name); err != nil {
			p.logger.Warnw("failed to delete session history", "gesture", name, "error", err)
		}
	}
	p.logger.Infow("gesture deleted", "gesture", name)
	return nil
}

// Train fits a model on a snapshot of the dataset and, on success, swaps it
// into the recognizer. Ticks keep running while the model trains.
func (p *Pipeline) Train(ctx context.Context) (*classifier.Model, error) {
	if p.trainer == nil {
		return nil, ErrNoTrainer
	}

	snapshot, err := p.snapshot()
	if err != nil {
		return nil, err
	}

	model, err := p.trainer.Train(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	if err := p.rec.Set(model); err != nil {
		return nil, err
	}
	return model, nil
}

// Evaluate trains on a stratified split of a dataset snapshot and reports
// accuracy on the held-out part. The recognizer and artifact are untouched.
func (p *Pipeline) Evaluate(ctx context.Context, holdout float64, seed int64) (*gesture.Evaluation, error) {
	if p.trainer == nil {
		return nil, ErrNoTrainer
	}
	snapshot, err := p.snapshot()
	if err != nil {
		return nil, err
	}
	return p.trainer.Evaluate(ctx, snapshot, holdout, seed)
}

func (p *Pipeline) snapshot() (*dataset.Dataset, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := dataset.New(p.ds.Path(), p.ext)
	x, labels := p.ds.Flatten()
	for i, vec := range x {
		if err := snap.Append(labels[i], vec); err != nil {
			return nil, fmt.Errorf("snapshot dataset: %w", err)
		}
	}
	return snap, nil
}

// SamplesPerGesture returns the recording target used when none is given.
func (p *Pipeline) SamplesPerGesture(ctx context.Context) (int, error) {
	if p.store != nil {
		return p.store.Settings().GetInt(ctx, store.SettingSamplesPerGesture, p.defaultSamples)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.samples > 0 {
		return p.samples, nil
	}
	return p.defaultSamples, nil
}

// SetSamplesPerGesture changes the default recording target.
func (p *Pipeline) SetSamplesPerGesture(ctx context.Context, n int) error {
	if n <= 0 {
		return ErrInvalidTarget
	}
	if p.store != nil {
		return p.store.Settings().SetInt(ctx, store.SettingSamplesPerGesture, n)
	}
	p.mu.Lock()
	p.samples = n
	p.mu.Unlock()
	return nil
}

// ResetSamplesPerGesture restores the configured default recording target.
func (p *Pipeline) ResetSamplesPerGesture(ctx context.Context) error {
	if p.store != nil {
		return p.store.Settings().Delete(ctx, store.SettingSamplesPerGesture)
	}
	p.mu.Lock()
	p.samples = 0
	p.mu.Unlock()
	return nil
}

// SetEnabled pauses or resumes frame processing.
func (p *Pipeline) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// Enabled reports whether frames are being processed.
func (p *Pipeline) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Threshold returns the confidence threshold in percent.
func (p *Pipeline) Threshold() float64 {
	return p.threshold
}

// Recognizer returns the recognizer used for inference.
func (p *Pipeline) Recognizer() *gesture.Recognizer {
	return p.rec
}

// State returns a snapshot of the pipeline.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := State{
		Mode:       ModeInference,
		Enabled:    p.enabled,
		Label:      p.label,
		Confidence: p.confidence,
		Frames:     p.frames,
		Skipped:    p.skipped,
		ModelReady: p.rec.Ready(),
	}
	if p.recording != nil {
		r := *p.recording
		s.Mode = ModeRecording
		s.Recording = &r
	}
	return s
}

// Subscribe returns a channel receiving every published result. Slow
// subscribers miss results rather than stall the pipeline. Call the
// returned function to unsubscribe.
func (p *Pipeline) Subscribe() (<-chan gesture.Result, func()) {
	ch := make(chan gesture.Result, 16)

	p.subsMu.Lock()
	p.subs[ch] = struct{}{}
	p.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subsMu.Lock()
			delete(p.subs, ch)
			p.subsMu.Unlock()
			close(ch)
		})
	}
}

func (p *Pipeline) broadcast(res gesture.Result) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()

	for ch := range p.subs {
		select {
		case ch <- res:
		default:
		}
	}
}

// Run feeds frames from src into Tick until ctx is cancelled or src is
// exhausted. An active recording session is stopped and saved on return.
func (p *Pipeline) Run(ctx context.Context, src detector.Source) error {
	defer p.stopOnExit(context.WithoutCancel(ctx))

	failures := 0
	for {
		hand, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, detector.ErrSourceClosed) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			failures++
			if failures >= maxSourceErrors {
				return fmt.Errorf("landmark source failed %d times in a row: %w", failures, err)
			}
			p.logger.Warnw("failed to read frame", "error", err)
			continue
		}
		failures = 0

		if err := p.Tick(ctx, hand); err != nil {
			p.logger.Errorw("tick failed", "error", err)
		}
	}
}

func (p *Pipeline) stopOnExit(ctx context.Context) {
	if _, err := p.StopRecording(ctx); err != nil && !errors.Is(err, ErrNotRecording) {
		p.logger.Errorw("failed to save recording on shutdown", "error", err)
	}
}
