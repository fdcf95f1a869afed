package features

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/ayusman/mudra/internal/detector"
)

// PalmPlaneID identifies the palm-plane extractor.
const PalmPlaneID = "palm-plane"

// Layout of a palm-plane vector.
const (
	palmCoordFeatures    = detector.NumLandmarks * 3 // 63
	palmDistanceFeatures = 15                        // C(6,2)
	palmAngleFeatures    = 5
	palmDimension        = palmCoordFeatures + palmDistanceFeatures + palmAngleFeatures
)

// collinearTolerance bounds |a×b| relative to |a||b| below which the palm
// points are treated as collinear.
const collinearTolerance = 1e-9

// keyPoints are the wrist and the five fingertips.
var keyPoints = [6]int{
	detector.Wrist,
	detector.ThumbTip,
	detector.IndexTip,
	detector.MiddleTip,
	detector.RingTip,
	detector.PinkyTip,
}

// fingerSegments are the base and tip of each finger, thumb first.
var fingerSegments = [5][2]int{
	{detector.ThumbMCP, detector.ThumbTip},
	{detector.IndexMCP, detector.IndexTip},
	{detector.MiddleMCP, detector.MiddleTip},
	{detector.RingMCP, detector.RingTip},
	{detector.PinkyMCP, detector.PinkyTip},
}

// PalmPlane projects the hand onto its palm plane and describes it in a
// translation- and scale-invariant frame. Rotation about the palm normal
// is not removed.
//
// Vector layout (83 values):
//
//	[0:63)   21 projected points, palm-centred and divided by the bounding box extent
//	[63:78)  distances between wrist and fingertips, pairwise
//	[78:83)  angle in radians between each finger and the palm normal
type PalmPlane struct{}

// ID implements Extractor.
func (PalmPlane) ID() string { return PalmPlaneID }

// Dimension implements Extractor.
func (PalmPlane) Dimension() int { return palmDimension }

// Extract implements Extractor. It returns nil when the wrist, index MCP and
// pinky MCP are collinear.
func (PalmPlane) Extract(hand *detector.HandLandmarks) Vector {
	if hand == nil {
		return nil
	}

	var points [detector.NumLandmarks]r3.Vector
	for i, p := range hand.Points {
		points[i] = p.Vector()
	}

	wrist := points[detector.Wrist]
	indexMCP := points[detector.IndexMCP]
	pinkyMCP := points[detector.PinkyMCP]
	center := wrist.Add(indexMCP).Add(pinkyMCP).Mul(1.0 / 3.0)

	normal, ok := palmNormal(indexMCP.Sub(wrist), pinkyMCP.Sub(wrist))
	if !ok {
		return nil
	}

	// Offsets from the palm centre, and their projection onto the palm plane.
	var offsets, projected [detector.NumLandmarks]r3.Vector
	for i, p := range points {
		offsets[i] = p.Sub(center)
		projected[i] = offsets[i].Sub(normal.Mul(offsets[i].Dot(normal)))
	}

	scale := maxExtent(projected[:])
	if scale == 0 {
		scale = 1
	}
	inv := 1 / scale

	out := make(Vector, 0, palmDimension)

	var normalized [detector.NumLandmarks]r3.Vector
	for i, p := range projected {
		normalized[i] = p.Mul(inv)
		out = append(out, normalized[i].X, normalized[i].Y, normalized[i].Z)
	}

	for i := 0; i < len(keyPoints); i++ {
		for j := i + 1; j < len(keyPoints); j++ {
			out = append(out, normalized[keyPoints[i]].Distance(normalized[keyPoints[j]]))
		}
	}

	// Projected finger vectors lie in the palm plane and would always be
	// perpendicular to the normal, so angles use the scaled offsets.
	for _, seg := range fingerSegments {
		finger := offsets[seg[1]].Sub(offsets[seg[0]]).Mul(inv)
		out = append(out, angleTo(finger, normal))
	}

	return out
}

// palmNormal returns the unit normal of the plane spanned by a and b.
func palmNormal(a, b r3.Vector) (r3.Vector, bool) {
	cross := a.Cross(b)
	n := cross.Norm()
	if n == 0 || n <= collinearTolerance*a.Norm()*b.Norm() {
		return r3.Vector{}, false
	}
	return cross.Mul(1 / n), true
}

// maxExtent returns the largest axis extent of the bounding box of points.
func maxExtent(points []r3.Vector) float64 {
	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		lo = r3.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	ext := hi.Sub(lo)
	return math.Max(ext.X, math.Max(ext.Y, ext.Z))
}

// angleTo returns the angle between v and the unit vector n.
// A zero-length v is treated as perpendicular.
func angleTo(v, unit r3.Vector) float64 {
	n := v.Norm()
	if n == 0 {
		return math.Pi / 2
	}
	cos := v.Dot(unit) / n
	return math.Acos(math.Max(-1, math.Min(1, cos)))
}
