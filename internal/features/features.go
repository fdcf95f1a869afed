// Package features converts hand landmarks into fixed-length feature vectors.
//
// Vectors produced by different extractors are not comparable. Every
// dataset and trained model records the ID of the extractor it was built
// with so that they can be checked against the configured one.
package features

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ayusman/mudra/internal/detector"
)

// ErrUnknownStrategy is returned by Lookup for an unregistered extractor ID.
var ErrUnknownStrategy = errors.New("unknown feature strategy")

// Vector is one feature vector. A nil Vector means "no features" for a frame.
type Vector []float64

// Extractor is a feature extraction strategy.
type Extractor interface {
	// ID identifies the strategy in persisted datasets and models.
	ID() string

	// Dimension is the length of every vector Extract returns.
	Dimension() int

	// Extract returns the feature vector for hand, or nil when hand is nil
	// or its geometry is degenerate.
	Extract(hand *detector.HandLandmarks) Vector
}

var registry = map[string]Extractor{
	PalmPlaneID:     PalmPlane{},
	WristRelativeID: WristRelative{},
}

// DefaultID is the strategy used when none is configured.
const DefaultID = PalmPlaneID

// Lookup returns the extractor registered under id.
func Lookup(id string) (Extractor, error) {
	ext, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownStrategy, id, IDs())
	}
	return ext, nil
}

// IDs lists the registered strategy IDs in sorted order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Finite reports whether every component of v is a finite number.
func (v Vector) Finite() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Clone returns a copy of v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
