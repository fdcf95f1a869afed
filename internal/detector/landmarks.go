// Package detector provides the hand landmark model and the sources that produce it.
package detector

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// Fingertips lists the five fingertip indices from thumb to pinky.
var Fingertips = [5]int{ThumbTip, IndexTip, MiddleTip, RingTip, PinkyTip}

// Point3D represents a 3D point in space with x, y, z coordinates.
// X and Y are image-normalized, Z is a depth relative to the wrist.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vector converts the point to an r3 vector for geometric operations.
func (p Point3D) Vector() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

// HandLandmarks represents the 21 hand landmarks of one detected hand in one frame.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// FromPoints builds a HandLandmarks from a flat list of points.
// Exactly NumLandmarks finite points are required.
func FromPoints(points []Point3D) (*HandLandmarks, error) {
	if len(points) != NumLandmarks {
		return nil, fmt.Errorf("expected %d landmarks, got %d", NumLandmarks, len(points))
	}

	hand := &HandLandmarks{}
	for i, p := range points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return nil, fmt.Errorf("landmark %d is not finite", i)
		}
		hand.Points[i] = p
	}

	return hand, nil
}

// Transform returns a copy of the hand with every point scaled by factor
// and then translated by offset.
func (h *HandLandmarks) Transform(factor float64, offset Point3D) *HandLandmarks {
	if h == nil {
		return nil
	}

	out := &HandLandmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}
	for i, p := range h.Points {
		out.Points[i] = Point3D{
			X: p.X*factor + offset.X,
			Y: p.Y*factor + offset.Y,
			Z: p.Z*factor + offset.Z,
		}
	}

	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
