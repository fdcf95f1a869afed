// Package dataset holds labeled feature vectors grouped by gesture name and
// persists them as a single JSON document.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"
	"github.com/samber/lo"

	"github.com/ayusman/mudra/internal/features"
)

// FileName is the dataset file name inside the data directory.
const FileName = "gesture_data.json"

var (
	// ErrCorrupt is returned when the dataset file cannot be parsed.
	ErrCorrupt = errors.New("dataset corrupt")
	// ErrStrategyMismatch is returned when the file was built with another extractor.
	ErrStrategyMismatch = errors.New("feature strategy mismatch")
	// ErrEmptyName is returned for an empty gesture name.
	ErrEmptyName = errors.New("gesture name is empty")
	// ErrDimension is returned when a vector has the wrong length.
	ErrDimension = errors.New("feature vector has wrong dimension")
	// ErrNonFinite is returned when a vector contains NaN or Inf.
	ErrNonFinite = errors.New("feature vector is not finite")
	// ErrNotFound is returned when a gesture does not exist.
	ErrNotFound = errors.New("gesture not found")
)

// GestureCount is one row of a dataset listing.
type GestureCount struct {
	Name    string `json:"name"`
	Samples int    `json:"samples"`
}

// Dataset maps gesture names to their recorded feature vectors.
// It is not safe for concurrent use.
type Dataset struct {
	path      string
	strategy  string
	dimension int
	gestures  map[string][]features.Vector
}

type document struct {
	Strategy  string                 `json:"strategy"`
	Dimension int                    `json:"dimension"`
	Gestures  map[string][][]float64 `json:"gestures"`
}

// New returns an empty dataset for vectors produced by ext, stored at path.
func New(path string, ext features.Extractor) *Dataset {
	return &Dataset{
		path:      path,
		strategy:  ext.ID(),
		dimension: ext.Dimension(),
		gestures:  make(map[string][]features.Vector),
	}
}

// Load reads the dataset at path. A missing file yields an empty dataset.
func Load(path string, ext features.Extractor) (*Dataset, error) {
	ds := New(path, ext)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ds, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}

	if err := ds.decode(data); err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", path, err)
	}
	return ds, nil
}

func (d *Dataset) decode(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if top == nil {
		return fmt.Errorf("%w: file holds no JSON object", ErrCorrupt)
	}

	var gestures map[string][][]float64
	if raw, ok := top["gestures"]; ok && bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if doc.Strategy != d.strategy {
			return fmt.Errorf("%w: file uses %q, configured %q", ErrStrategyMismatch, doc.Strategy, d.strategy)
		}
		if doc.Dimension != d.dimension {
			return fmt.Errorf("%w: dimension %d, expected %d", ErrCorrupt, doc.Dimension, d.dimension)
		}
		gestures = doc.Gestures
	} else {
		// Untagged file: a bare map of gesture name to vectors. Its vectors
		// came from an unknown extractor, so only empty entries are kept.
		if err := json.Unmarshal(data, &gestures); err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		for name, vecs := range gestures {
			if len(vecs) > 0 {
				return fmt.Errorf("%w: gesture %q has untagged samples that %q cannot use; re-record it",
					ErrStrategyMismatch, name, d.strategy)
			}
		}
	}

	for name, vecs := range gestures {
		if name == "" {
			return fmt.Errorf("%w: %w", ErrCorrupt, ErrEmptyName)
		}
		samples := make([]features.Vector, 0, len(vecs))
		for i, v := range vecs {
			if len(v) != d.dimension {
				return fmt.Errorf("%w: gesture %q sample %d has %d features, expected %d",
					ErrCorrupt, name, i, len(v), d.dimension)
			}
			samples = append(samples, features.Vector(v))
		}
		d.gestures[name] = samples
	}
	return nil
}

// Path returns the file the dataset persists to.
func (d *Dataset) Path() string { return d.path }

// Strategy returns the ID of the extractor the vectors came from.
func (d *Dataset) Strategy() string { return d.strategy }

// Dimension returns the length of every vector.
func (d *Dataset) Dimension() int { return d.dimension }

// Create adds an empty entry for name if it does not exist yet.
func (d *Dataset) Create(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if _, ok := d.gestures[name]; !ok {
		d.gestures[name] = []features.Vector{}
	}
	return nil
}

// Append adds a copy of vec to the samples for name.
func (d *Dataset) Append(name string, vec features.Vector) error {
	if name == "" {
		return ErrEmptyName
	}
	if len(vec) != d.dimension {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimension, len(vec), d.dimension)
	}
	if !vec.Finite() {
		return fmt.Errorf("gesture %q: %w", name, ErrNonFinite)
	}
	d.gestures[name] = append(d.gestures[name], vec.Clone())
	return nil
}

// Remove deletes every sample recorded for name.
func (d *Dataset) Remove(name string) error {
	if _, ok := d.gestures[name]; !ok {
		return fmt.Errorf("gesture %q: %w", name, ErrNotFound)
	}
	delete(d.gestures, name)
	return nil
}

// Has reports whether name has an entry, even an empty one.
func (d *Dataset) Has(name string) bool {
	_, ok := d.gestures[name]
	return ok
}

// Names returns the gesture names in sorted order.
func (d *Dataset) Names() []string {
	names := lo.Keys(d.gestures)
	sort.Strings(names)
	return names
}

// Count returns the number of samples for name.
func (d *Dataset) Count(name string) int {
	return len(d.gestures[name])
}

// Samples returns the samples recorded for name. The slice must not be modified.
func (d *Dataset) Samples(name string) []features.Vector {
	return d.gestures[name]
}

// Len returns the total number of samples.
func (d *Dataset) Len() int {
	return lo.SumBy(lo.Values(d.gestures), func(v []features.Vector) int { return len(v) })
}

// Classes returns the number of gestures that have at least one sample.
func (d *Dataset) Classes() int {
	return lo.CountBy(lo.Values(d.gestures), func(v []features.Vector) bool { return len(v) > 0 })
}

// List returns every gesture with its sample count, sorted by name.
func (d *Dataset) List() []GestureCount {
	return lo.Map(d.Names(), func(name string, _ int) GestureCount {
		return GestureCount{Name: name, Samples: d.Count(name)}
	})
}

// Flatten returns all samples with their labels, ordered by name then
// recording order.
func (d *Dataset) Flatten() ([]features.Vector, []string) {
	n := d.Len()
	x := make([]features.Vector, 0, n)
	y := make([]string, 0, n)
	for _, name := range d.Names() {
		for _, v := range d.gestures[name] {
			x = append(x, v)
			y = append(y, name)
		}
	}
	return x, y
}

// Persist overwrites the dataset file. Readers see either the previous or
// the new content, never a partial write.
func (d *Dataset) Persist() error {
	doc := document{
		Strategy:  d.strategy,
		Dimension: d.dimension,
		Gestures:  make(map[string][][]float64, len(d.gestures)),
	}
	for name, vecs := range d.gestures {
		rows := make([][]float64, len(vecs))
		for i, v := range vecs {
			rows[i] = v
		}
		doc.Gestures[name] = rows
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create dataset directory: %w", err)
	}
	if err := renameio.WriteFile(d.path, data, 0o644); err != nil {
		return fmt.Errorf("write dataset %s: %w", d.path, err)
	}
	return nil
}
