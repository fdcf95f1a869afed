package detector

import (
	"context"
	"math/rand"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	hands []HandLandmarks
	err   error
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands that will be returned by Detect.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.hands = hands
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.err = err
}

// Detect returns the pre-configured hands or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.hands, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// SliceSource replays a fixed list of frames; nil entries are "no hand" frames.
type SliceSource struct {
	frames []*HandLandmarks
	next   int
}

// NewSliceSource creates a Source over frames.
func NewSliceSource(frames ...*HandLandmarks) *SliceSource {
	return &SliceSource{frames: frames}
}

// Next returns the next frame or ErrSourceClosed when exhausted.
func (s *SliceSource) Next(ctx context.Context) (*HandLandmarks, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.frames) {
		return nil, ErrSourceClosed
	}
	hand := s.frames[s.next]
	s.next++
	return hand, nil
}

// Close is a no-op.
func (s *SliceSource) Close() error {
	return nil
}

// Jitter returns a copy of hand with every coordinate moved by a uniform
// random offset in [-amount, amount].
func Jitter(hand HandLandmarks, rng *rand.Rand, amount float64) HandLandmarks {
	out := hand
	for i := range out.Points {
		out.Points[i].X += (rng.Float64()*2 - 1) * amount
		out.Points[i].Y += (rng.Float64()*2 - 1) * amount
		out.Points[i].Z += (rng.Float64()*2 - 1) * amount
	}
	return out
}

// ThumbsUpLandmarks returns a preset HandLandmarks representing a thumbs up gesture.
// The thumb is extended upward while other fingers are curled.
func ThumbsUpLandmarks() HandLandmarks {
	lm := HandLandmarks{Handedness: "Right", Score: 0.95}

	lm.Points[Wrist] = Point3D{X: 0.5, Y: 0.8, Z: 0.0}

	// Thumb extended upward (Y decreases going up)
	lm.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.75, Z: 0.0}
	lm.Points[ThumbMCP] = Point3D{X: 0.58, Y: 0.65, Z: 0.0}
	lm.Points[ThumbIP] = Point3D{X: 0.58, Y: 0.50, Z: 0.0}
	lm.Points[ThumbTip] = Point3D{X: 0.58, Y: 0.35, Z: 0.0}

	// Remaining fingers curled back toward the palm
	curl := func(mcp int, x, y float64) {
		lm.Points[mcp] = Point3D{X: x, Y: y, Z: -0.02}
		lm.Points[mcp+1] = Point3D{X: x, Y: y - 0.02, Z: -0.05}
		lm.Points[mcp+2] = Point3D{X: x - 0.03, Y: y, Z: -0.04}
		lm.Points[mcp+3] = Point3D{X: x - 0.05, Y: y + 0.02, Z: -0.02}
	}
	curl(IndexMCP, 0.55, 0.70)
	curl(MiddleMCP, 0.50, 0.68)
	curl(RingMCP, 0.45, 0.70)
	curl(PinkyMCP, 0.40, 0.72)

	return lm
}

// OpenPalmLandmarks returns a preset HandLandmarks representing an open palm gesture.
// All fingers are extended outward.
func OpenPalmLandmarks() HandLandmarks {
	lm := HandLandmarks{Handedness: "Right", Score: 0.95}

	lm.Points[Wrist] = Point3D{X: 0.5, Y: 0.8, Z: 0.0}

	// Thumb extended to the side
	lm.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.75, Z: 0.02}
	lm.Points[ThumbMCP] = Point3D{X: 0.62, Y: 0.70, Z: 0.03}
	lm.Points[ThumbIP] = Point3D{X: 0.68, Y: 0.65, Z: 0.03}
	lm.Points[ThumbTip] = Point3D{X: 0.73, Y: 0.60, Z: 0.03}

	lm.Points[IndexMCP] = Point3D{X: 0.55, Y: 0.68, Z: 0.0}
	lm.Points[IndexPIP] = Point3D{X: 0.57, Y: 0.55, Z: 0.0}
	lm.Points[IndexDIP] = Point3D{X: 0.58, Y: 0.45, Z: 0.0}
	lm.Points[IndexTip] = Point3D{X: 0.58, Y: 0.35, Z: 0.0}

	lm.Points[MiddleMCP] = Point3D{X: 0.50, Y: 0.66, Z: 0.0}
	lm.Points[MiddlePIP] = Point3D{X: 0.50, Y: 0.52, Z: 0.0}
	lm.Points[MiddleDIP] = Point3D{X: 0.50, Y: 0.40, Z: 0.0}
	lm.Points[MiddleTip] = Point3D{X: 0.50, Y: 0.28, Z: 0.0}

	lm.Points[RingMCP] = Point3D{X: 0.45, Y: 0.68, Z: 0.0}
	lm.Points[RingPIP] = Point3D{X: 0.43, Y: 0.55, Z: 0.0}
	lm.Points[RingDIP] = Point3D{X: 0.42, Y: 0.45, Z: 0.0}
	lm.Points[RingTip] = Point3D{X: 0.42, Y: 0.35, Z: 0.0}

	lm.Points[PinkyMCP] = Point3D{X: 0.40, Y: 0.70, Z: 0.0}
	lm.Points[PinkyPIP] = Point3D{X: 0.37, Y: 0.60, Z: 0.0}
	lm.Points[PinkyDIP] = Point3D{X: 0.35, Y: 0.50, Z: 0.0}
	lm.Points[PinkyTip] = Point3D{X: 0.34, Y: 0.42, Z: 0.0}

	return lm
}

// CollinearPalmLandmarks returns an open palm whose wrist, index MCP and
// pinky MCP lie on one line, so no palm plane can be derived from it.
func CollinearPalmLandmarks() HandLandmarks {
	lm := OpenPalmLandmarks()
	lm.Points[Wrist] = Point3D{X: 0.5, Y: 0.8, Z: 0.0}
	lm.Points[IndexMCP] = Point3D{X: 0.6, Y: 0.7, Z: 0.0}
	lm.Points[PinkyMCP] = Point3D{X: 0.7, Y: 0.6, Z: 0.0}
	return lm
}
