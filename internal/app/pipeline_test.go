package app

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/store"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent []gesture.Result
	err  error
}

func (f *fakePublisher) Publish(label string, confidence float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, gesture.Result{Label: label, Confidence: confidence})
	return f.err
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) results() []gesture.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gesture.Result(nil), f.sent...)
}

type fixture struct {
	dir      string
	pipeline *Pipeline
	pub      *fakePublisher
	store    *store.Store
	dataset  *dataset.Dataset
	ext      features.Extractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t).Sugar()

	ext, err := features.Lookup(features.PalmPlaneID)
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.New(filepath.Join(dir, store.FileName))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := classifier.DefaultTrainConfig()
	cfg.Hidden = []int{16}
	cfg.MaxEpochs = 200
	trainer := gesture.NewTrainer(ext, filepath.Join(dir, classifier.ModelFileName), cfg)
	trainer.Recorder = st.Runs()
	trainer.Logger = logger

	ds := dataset.New(filepath.Join(dir, dataset.FileName), ext)
	pub := &fakePublisher{}
	p, err := NewPipeline(Options{
		Extractor:         ext,
		Dataset:           ds,
		Recognizer:        gesture.NewRecognizer(ext, logger),
		Publisher:         pub,
		Trainer:           trainer,
		Store:             st,
		Threshold:         50,
		SamplesPerGesture: 5,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return &fixture{dir: dir, pipeline: p, pub: pub, store: st, dataset: ds, ext: ext}
}

func (f *fixture) tick(t *testing.T, hand *detector.HandLandmarks) {
	t.Helper()
	if err := f.pipeline.Tick(context.Background(), hand); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
}

func jittered(base detector.HandLandmarks, rng *rand.Rand) *detector.HandLandmarks {
	h := detector.Jitter(base, rng, 0.004)
	return &h
}

// record collects n jittered samples of base under name.
func (f *fixture) record(t *testing.T, name string, base detector.HandLandmarks, n int, rng *rand.Rand) {
	t.Helper()
	if _, err := f.pipeline.StartRecording(context.Background(), name, n); err != nil {
		t.Fatalf("StartRecording(%q) error = %v", name, err)
	}
	for i := 0; i < n; i++ {
		f.tick(t, jittered(base, rng))
	}
	if r, _ := f.pipeline.Recording(); r.Active {
		t.Fatalf("recording of %q still active after %d samples", name, n)
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	palm, _ := features.Lookup(features.PalmPlaneID)
	wrist, _ := features.Lookup(features.WristRelativeID)
	dir := t.TempDir()
	valid := func() Options {
		return Options{
			Extractor:         palm,
			Dataset:           dataset.New(filepath.Join(dir, dataset.FileName), palm),
			Recognizer:        gesture.NewRecognizer(palm, nil),
			Threshold:         70,
			SamplesPerGesture: 50,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr error
	}{
		{"strategy mismatch", func(o *Options) { o.Dataset = dataset.New(filepath.Join(dir, "w.json"), wrist) }, dataset.ErrStrategyMismatch},
		{"zero samples", func(o *Options) { o.SamplesPerGesture = 0 }, ErrInvalidTarget},
		{"threshold above 100", func(o *Options) { o.Threshold = 100.5 }, nil},
		{"missing recognizer", func(o *Options) { o.Recognizer = nil }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid()
			tt.mutate(&opts)
			_, err := NewPipeline(opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := NewPipeline(valid()); err != nil {
		t.Errorf("valid options rejected: %v", err)
	}
}

func TestPipeline_Tick(t *testing.T) {
	t.Run("no hand", func(t *testing.T) {
		f := newFixture(t)
		f.tick(t, nil)

		s := f.pipeline.State()
		if s.Label != NoHand || s.Confidence != 0 || s.Frames != 1 {
			t.Errorf("unexpected state %+v", s)
		}
		if len(f.pub.results()) != 0 {
			t.Error("no-hand frames must not be published")
		}
	})

	t.Run("degenerate palm skipped", func(t *testing.T) {
		f := newFixture(t)
		hand := detector.CollinearPalmLandmarks()
		f.tick(t, &hand)

		if s := f.pipeline.State(); s.Skipped != 1 {
			t.Errorf("skipped = %d, want 1", s.Skipped)
		}
		if len(f.pub.results()) != 0 {
			t.Error("skipped frames must not be published")
		}
	})

	t.Run("no model publishes unknown", func(t *testing.T) {
		f := newFixture(t)
		hand := detector.OpenPalmLandmarks()
		f.tick(t, &hand)

		got := f.pub.results()
		if len(got) != 1 || got[0] != (gesture.Result{Label: gesture.Unknown}) {
			t.Errorf("published %v, want one Unknown|0", got)
		}
	})

	t.Run("publish error is not fatal", func(t *testing.T) {
		f := newFixture(t)
		f.pub.err = errors.New("network unreachable")
		hand := detector.OpenPalmLandmarks()
		f.tick(t, &hand)
		f.tick(t, &hand)
		if n := len(f.pub.results()); n != 2 {
			t.Errorf("expected 2 publish attempts, got %d", n)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t)
		f.pipeline.SetEnabled(false)
		hand := detector.OpenPalmLandmarks()
		f.tick(t, &hand)

		if f.pipeline.Enabled() {
			t.Error("pipeline should be disabled")
		}
		if s := f.pipeline.State(); s.Frames != 0 {
			t.Errorf("disabled pipeline processed %d frames", s.Frames)
		}
		if len(f.pub.results()) != 0 {
			t.Error("disabled pipeline published")
		}
	})
}

func TestPipeline_Recording(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	t.Run("auto stop at target", func(t *testing.T) {
		f := newFixture(t)
		r, err := f.pipeline.StartRecording(ctx, "  Thumbs Up ", 5)
		if err != nil {
			t.Fatalf("StartRecording() error = %v", err)
		}
		if r.Gesture != "Thumbs Up" || r.Start != 0 || !r.Active {
			t.Errorf("unexpected recording %+v", r)
		}
		if s := f.pipeline.State(); s.Mode != ModeRecording {
			t.Errorf("mode = %s, want recording", s.Mode)
		}

		for i := 0; i < 7; i++ {
			f.tick(t, jittered(detector.ThumbsUpLandmarks(), rng))
		}

		if got := f.dataset.Count("Thumbs Up"); got != 5 {
			t.Errorf("recorded %d samples, want 5", got)
		}
		// The two extra frames are classified, not recorded.
		if n := len(f.pub.results()); n != 2 {
			t.Errorf("published %d results after auto stop, want 2", n)
		}

		done, ok := f.pipeline.Recording()
		if !ok || done.Active || done.Recorded() != 5 {
			t.Errorf("unexpected finished recording %+v", done)
		}

		loaded, err := dataset.Load(f.dataset.Path(), f.ext)
		if err != nil {
			t.Fatalf("reload dataset: %v", err)
		}
		if loaded.Count("Thumbs Up") != 5 {
			t.Errorf("persisted %d samples, want 5", loaded.Count("Thumbs Up"))
		}

		sess, err := f.store.Sessions().GetByID(ctx, done.SessionID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if sess.Status != store.SessionCompleted || sess.Recorded != 5 || sess.EndedAt == nil {
			t.Errorf("unexpected session %+v", sess)
		}
	})

	t.Run("resume appends", func(t *testing.T) {
		f := newFixture(t)
		f.record(t, "Palm", detector.OpenPalmLandmarks(), 4, rng)

		r, err := f.pipeline.StartRecording(ctx, "Palm", 6)
		if err != nil {
			t.Fatal(err)
		}
		if r.Start != 4 || r.Count != 4 {
			t.Errorf("resume should start at existing size, got %+v", r)
		}
		for i := 0; i < 2; i++ {
			f.tick(t, jittered(detector.OpenPalmLandmarks(), rng))
		}

		done, _ := f.pipeline.Recording()
		if done.Active || done.Count != 6 || done.Recorded() != 2 {
			t.Errorf("unexpected recording after resume %+v", done)
		}
	})

	t.Run("manual stop", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.pipeline.StartRecording(ctx, "Palm", 100); err != nil {
			t.Fatal(err)
		}
		f.tick(t, jittered(detector.OpenPalmLandmarks(), rng))
		f.tick(t, nil)
		f.tick(t, jittered(detector.OpenPalmLandmarks(), rng))

		r, err := f.pipeline.StopRecording(ctx)
		if err != nil {
			t.Fatalf("StopRecording() error = %v", err)
		}
		if r.Active || r.Recorded() != 2 {
			t.Errorf("unexpected recording %+v", r)
		}
		sess, err := f.store.Sessions().GetByID(ctx, r.SessionID)
		if err != nil {
			t.Fatal(err)
		}
		if sess.Status != store.SessionStopped || sess.Recorded != 2 {
			t.Errorf("unexpected session %+v", sess)
		}
	})

	t.Run("default target from settings", func(t *testing.T) {
		f := newFixture(t)
		if n, _ := f.pipeline.SamplesPerGesture(ctx); n != 5 {
			t.Errorf("default samples = %d, want 5", n)
		}
		if err := f.pipeline.SetSamplesPerGesture(ctx, 3); err != nil {
			t.Fatal(err)
		}
		r, err := f.pipeline.StartRecording(ctx, "Fist", 0)
		if err != nil {
			t.Fatal(err)
		}
		if r.Target != 3 {
			t.Errorf("target = %d, want 3", r.Target)
		}
		f.pipeline.StopRecording(ctx)

		if err := f.pipeline.ResetSamplesPerGesture(ctx); err != nil {
			t.Fatal(err)
		}
		if n, _ := f.pipeline.SamplesPerGesture(ctx); n != 5 {
			t.Errorf("samples after reset = %d, want 5", n)
		}
		if err := f.pipeline.SetSamplesPerGesture(ctx, 0); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("expected ErrInvalidTarget, got %v", err)
		}
	})

	t.Run("errors", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.pipeline.StartRecording(ctx, "   ", 5); !errors.Is(err, dataset.ErrEmptyName) {
			t.Errorf("expected ErrEmptyName, got %v", err)
		}
		if _, err := f.pipeline.StartRecording(ctx, "Fist", -1); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("expected ErrInvalidTarget, got %v", err)
		}
		if _, err := f.pipeline.StopRecording(ctx); !errors.Is(err, ErrNotRecording) {
			t.Errorf("expected ErrNotRecording, got %v", err)
		}
		if _, ok := f.pipeline.Recording(); ok {
			t.Error("Recording() should report no session yet")
		}

		if _, err := f.pipeline.StartRecording(ctx, "Fist", 5); err != nil {
			t.Fatal(err)
		}
		if _, err := f.pipeline.StartRecording(ctx, "Palm", 5); !errors.Is(err, ErrRecordingActive) {
			t.Errorf("expected ErrRecordingActive, got %v", err)
		}
		if err := f.pipeline.DeleteGesture(ctx, "Fist"); !errors.Is(err, ErrRecordingActive) {
			t.Errorf("expected ErrRecordingActive on delete, got %v", err)
		}
	})
}

func TestPipeline_DeleteGesture(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(2))
	f := newFixture(t)

	f.record(t, "Fist", detector.ThumbsUpLandmarks(), 3, rng)
	f.record(t, "Palm", detector.OpenPalmLandmarks(), 3, rng)

	if err := f.pipeline.DeleteGesture(ctx, "Fist"); err != nil {
		t.Fatalf("DeleteGesture() error = %v", err)
	}
	if err := f.pipeline.DeleteGesture(ctx, "Fist"); !errors.Is(err, dataset.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got := f.pipeline.Gestures()
	if len(got) != 1 || got[0] != (dataset.GestureCount{Name: "Palm", Samples: 3}) {
		t.Errorf("Gestures() = %v", got)
	}

	loaded, err := dataset.Load(f.dataset.Path(), f.ext)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Has("Fist") {
		t.Error("deletion was not persisted")
	}

	sessions, err := f.store.Sessions().List(ctx, "Fist", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected session history to be deleted, got %d", len(sessions))
	}
}

func TestPipeline_TrainAndRecognize(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training test")
	}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(3))
	f := newFixture(t)

	if _, err := f.pipeline.Train(ctx); !errors.Is(err, gesture.ErrNoData) {
		t.Fatalf("expected ErrNoData before recording, got %v", err)
	}

	f.record(t, "Thumbs Up", detector.ThumbsUpLandmarks(), 20, rng)
	f.record(t, "Open Palm", detector.OpenPalmLandmarks(), 20, rng)

	model, err := f.pipeline.Train(ctx)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if got := model.Encoder.Classes(); len(got) != 2 || got[0] != "Open Palm" || got[1] != "Thumbs Up" {
		t.Errorf("classes = %v", got)
	}
	if !f.pipeline.State().ModelReady {
		t.Error("recognizer should hold the trained model")
	}

	results, unsubscribe := f.pipeline.Subscribe()
	defer unsubscribe()

	f.tick(t, jittered(detector.ThumbsUpLandmarks(), rng))
	f.tick(t, jittered(detector.OpenPalmLandmarks(), rng))

	sent := f.pub.results()
	if len(sent) != 2 {
		t.Fatalf("published %d results, want 2", len(sent))
	}
	if sent[0].Label != "Thumbs Up" || sent[1].Label != "Open Palm" {
		t.Errorf("published %v", sent)
	}
	for _, r := range sent {
		if r.Confidence < 50 || r.Confidence > 100 {
			t.Errorf("confidence %v outside [50, 100]", r.Confidence)
		}
	}

	select {
	case r := <-results:
		if r != sent[0] {
			t.Errorf("subscriber got %v, want %v", r, sent[0])
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber received nothing")
	}

	runs, err := f.store.Runs().List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("expected failed and successful runs recorded, got %d", len(runs))
	}

	eval, err := f.pipeline.Evaluate(ctx, 0.25, 7)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if eval.TestSamples != 10 || eval.Accuracy < 0.9 {
		t.Errorf("unexpected evaluation %+v", eval)
	}
}

func TestPipeline_Run(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(4))

	t.Run("source exhausted saves recording", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.pipeline.StartRecording(ctx, "Palm", 100); err != nil {
			t.Fatal(err)
		}
		src := detector.NewSliceSource(
			jittered(detector.OpenPalmLandmarks(), rng),
			nil,
			jittered(detector.OpenPalmLandmarks(), rng),
		)
		if err := f.pipeline.Run(ctx, src); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		r, _ := f.pipeline.Recording()
		if r.Active || r.Count != 2 {
			t.Errorf("unexpected recording after Run %+v", r)
		}
		if s := f.pipeline.State(); s.Frames != 3 {
			t.Errorf("frames = %d, want 3", s.Frames)
		}
		loaded, err := dataset.Load(f.dataset.Path(), f.ext)
		if err != nil || loaded.Count("Palm") != 2 {
			t.Errorf("recording not persisted on exit: %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		src := detector.NewSliceSource(nil)
		if err := f.pipeline.Run(cctx, src); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
