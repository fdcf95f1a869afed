package features

import (
	"math"

	"github.com/ayusman/mudra/internal/detector"
)

// WristRelativeID identifies the wrist-relative extractor.
const WristRelativeID = "wrist-relative"

const (
	wristPairs     = detector.NumLandmarks * (detector.NumLandmarks - 1) / 2 // 210
	wristDimension = detector.NumLandmarks*3 + wristPairs
	depthWeight    = 0.1
)

// WristRelative describes the hand relative to the wrist in image space.
// X and Y are divided by the larger side of the 2-D bounding box, depth is
// damped by a constant factor, and all pairwise X-Y distances follow.
// It is cheaper than PalmPlane but not invariant to hand rotation.
type WristRelative struct{}

// ID implements Extractor.
func (WristRelative) ID() string { return WristRelativeID }

// Dimension implements Extractor.
func (WristRelative) Dimension() int { return wristDimension }

// Extract implements Extractor.
func (WristRelative) Extract(hand *detector.HandLandmarks) Vector {
	if hand == nil {
		return nil
	}

	pts := hand.Points
	minX, maxX := pts[0].X, pts[0].X
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	scale := math.Max(maxX-minX, maxY-minY)
	if scale == 0 {
		scale = 1
	}

	wrist := pts[detector.Wrist]
	var norm [detector.NumLandmarks]detector.Point3D
	out := make(Vector, 0, wristDimension)
	for i, p := range pts {
		norm[i] = detector.Point3D{
			X: (p.X - wrist.X) / scale,
			Y: (p.Y - wrist.Y) / scale,
			Z: (p.Z - wrist.Z) * depthWeight,
		}
		out = append(out, norm[i].X, norm[i].Y, norm[i].Z)
	}

	for i := 0; i < len(norm); i++ {
		for j := i + 1; j < len(norm); j++ {
			out = append(out, math.Hypot(norm[i].X-norm[j].X, norm[i].Y-norm[j].Y))
		}
	}

	return out
}
