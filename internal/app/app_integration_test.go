package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/publish"
)

func testConfig(t *testing.T, dataDir string, port int) *config.Config {
	t.Helper()
	body := fmt.Sprintf(`confidence_threshold: 50
samples_per_gesture: 15
data_dir: %s
publish:
  host: 127.0.0.1
  port: %d
trainer:
  hidden: [16]
  max_epochs: 200
`, dataDir, port)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func frames(base detector.HandLandmarks, n int, rng *rand.Rand) []*detector.HandLandmarks {
	out := make([]*detector.HandLandmarks, n)
	for i := range out {
		out[i] = jittered(base, rng)
	}
	return out
}

func TestApp_RecordTrainRecognize(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	rng := rand.New(rand.NewSource(11))
	logger := zaptest.NewLogger(t).Sugar()

	listener, err := publish.Listen("127.0.0.1:0", logger)
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	cfg := testConfig(t, t.TempDir(), listener.Addr().Port)
	a, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	p := a.Pipeline()
	if p.State().ModelReady {
		t.Fatal("no model should be loaded in an empty data dir")
	}

	record := func(name string, base detector.HandLandmarks) {
		if _, err := p.StartRecording(ctx, name, 0); err != nil {
			t.Fatal(err)
		}
		if err := a.Start(ctx, detector.NewSliceSource(frames(base, 15, rng)...)); err != nil {
			t.Fatal(err)
		}
		if err := a.Wait(); err != nil {
			t.Fatalf("recording run failed: %v", err)
		}
	}
	record("Thumbs Up", detector.ThumbsUpLandmarks())
	record("Open Palm", detector.OpenPalmLandmarks())

	if got := p.Gestures(); len(got) != 2 || got[0].Samples != 15 || got[1].Samples != 15 {
		t.Fatalf("Gestures() = %v", got)
	}

	if _, err := p.Train(ctx); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if _, err := os.Stat(cfg.ModelPath()); err != nil {
		t.Fatalf("model artifact missing: %v", err)
	}

	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	msgs := listener.Messages(lctx)

	src := detector.NewSliceSource(
		jittered(detector.OpenPalmLandmarks(), rng),
		nil,
		jittered(detector.ThumbsUpLandmarks(), rng),
	)
	if err := a.Start(ctx, src); err != nil {
		t.Fatal(err)
	}
	if err := a.Wait(); err != nil {
		t.Fatal(err)
	}

	want := []string{"Open Palm", "Thumbs Up"}
	for _, label := range want {
		select {
		case msg := <-msgs:
			if msg.Label != label || msg.Confidence < 50 {
				t.Errorf("received %+v, want %s with confidence >= 50", msg, label)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", label)
		}
	}

	// A second App on the same data dir sees the persisted dataset and model.
	a2, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer a2.Close()
	if !a2.Pipeline().State().ModelReady || len(a2.Pipeline().Gestures()) != 2 {
		t.Error("reopened app lost the dataset or model")
	}
}

func TestApp_StartStop(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), publish.DefaultPort)
	a, err := New(cfg, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() before Start = %v", err)
	}

	src := &blockingSource{}
	if err := a.Start(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	if !a.Running() {
		t.Error("Running() should be true after Start")
	}
	if err := a.Start(context.Background(), src); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start() error = %v, want ErrRunning", err)
	}
	if err := a.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if a.Running() {
		t.Error("Running() should be false after Stop")
	}
	if !src.closed {
		t.Error("source should be closed when the loop ends")
	}
}

func TestApp_CorruptDataset(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, dataset.FileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t, dir, publish.DefaultPort)

	_, err := New(cfg, zaptest.NewLogger(t).Sugar())
	if !errors.Is(err, dataset.ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestApp_UntaggedDataset(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, dataset.FileName), []byte(`{"Fist": [[1, 2, 3]]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t, dir, publish.DefaultPort)

	_, err := New(cfg, zaptest.NewLogger(t).Sugar())
	if !errors.Is(err, dataset.ErrStrategyMismatch) {
		t.Errorf("expected ErrStrategyMismatch, got %v", err)
	}
}

func TestApp_DetectorConfig(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), publish.DefaultPort)
	a := &App{cfg: cfg}

	def := detector.DefaultConfig()
	if got := a.detectorConfig(); got != def {
		t.Errorf("detectorConfig() = %+v, want defaults %+v", got, def)
	}

	cfg.Detector.MinDetectionConfidence = 0.9
	cfg.Detector.MinTrackingConfidence = 0.3
	got := a.detectorConfig()
	if got.MaxHands != def.MaxHands || got.MinConfidence != 0.9 || got.MinTrackingConf != 0.3 {
		t.Errorf("detectorConfig() = %+v, want configured thresholds", got)
	}
}

// blockingSource yields no-hand frames until cancelled.
type blockingSource struct {
	closed bool
}

func (b *blockingSource) Next(ctx context.Context) (*detector.HandLandmarks, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (b *blockingSource) Close() error {
	b.closed = true
	return nil
}
