package detector

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

// ErrSourceClosed is returned by a Source that has no more frames to offer.
var ErrSourceClosed = errors.New("landmark source closed")

// Detector defines the interface for hand detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns detected hand landmarks.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Source delivers at most one hand per tick.
// A nil hand with a nil error means no hand was detected in that frame.
type Source interface {
	Next(ctx context.Context) (*HandLandmarks, error)
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 1).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64
}

// DefaultConfig returns the detection settings the recorder and recognizer share.
func DefaultConfig() Config {
	return Config{
		MaxHands:        1,
		MinConfidence:   0.7,
		MinTrackingConf: 0.5,
	}
}

// FrameReader is the part of a camera a FrameSource needs.
type FrameReader interface {
	ReadFrame() (*gocv.Mat, error)
}

// FrameSource turns camera frames into single-hand landmark ticks.
type FrameSource struct {
	frames   FrameReader
	detector Detector
	mirror   bool
}

// NewFrameSource combines a frame reader with a detector.
// When mirror is set, frames are flipped horizontally before detection so
// that the landmarks match what the user sees on screen.
func NewFrameSource(frames FrameReader, d Detector, mirror bool) *FrameSource {
	return &FrameSource{frames: frames, detector: d, mirror: mirror}
}

// Next reads one frame and returns the first detected hand, if any.
func (s *FrameSource) Next(ctx context.Context) (*HandLandmarks, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := s.frames.ReadFrame()
	if err != nil {
		return nil, err
	}
	defer frame.Close()

	if s.mirror {
		gocv.Flip(*frame, frame, 1)
	}

	hands, err := s.detector.Detect(frame)
	if err != nil {
		return nil, err
	}
	if len(hands) == 0 {
		return nil, nil
	}

	hand := hands[0]
	return &hand, nil
}

// Close releases the detector. The frame reader is owned by the caller.
func (s *FrameSource) Close() error {
	return s.detector.Close()
}
