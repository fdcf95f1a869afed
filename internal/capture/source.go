package capture

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/detector"
)

// Source is a detector.Source reading live frames from a Camera.
type Source struct {
	cam    Camera
	frames *detector.FrameSource
}

// NewSource opens cam and runs every frame through d. When mirror is set
// frames are flipped horizontally first, like a selfie view.
func NewSource(cam Camera, d detector.Detector, mirror bool) (*Source, error) {
	if err := cam.Open(); err != nil {
		return nil, err
	}
	return &Source{cam: cam, frames: detector.NewFrameSource(cam, d, mirror)}, nil
}

// Next returns the first hand in the next frame, or nil if there is none.
func (s *Source) Next(ctx context.Context) (*detector.HandLandmarks, error) {
	return s.frames.Next(ctx)
}

// Close releases the detector and the camera.
func (s *Source) Close() error {
	return multierr.Combine(s.frames.Close(), s.cam.Close())
}

// NewDetector returns the MediaPipe detector, or a detector that never
// sees a hand when the MediaPipe service is not installed.
func NewDetector(cfg detector.Config, logger *zap.SugaredLogger) detector.Detector {
	mp, err := detector.NewMediaPipeDetector(cfg)
	if err == nil {
		logger.Infow("using MediaPipe hand detection")
		return mp
	}
	logger.Warnw("MediaPipe not available, no hands will be detected", "error", err)
	return detector.NewMockDetector()
}

// OpenDevice opens camera deviceID at fps and wraps it in a Source.
func OpenDevice(deviceID, fps int, mirror bool, cfg detector.Config, logger *zap.SugaredLogger) (*Source, error) {
	cam := NewCamera(deviceID)
	cam.SetFPS(fps)

	d := NewDetector(cfg, logger)
	src, err := NewSource(cam, d, mirror)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("camera source: %w", err), d.Close())
	}
	return src, nil
}
