package dataset

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/features"
)

// fixed is a small extractor so tests can write vectors by hand.
type fixed struct{ dim int }

func (f fixed) ID() string     { return "fixed" }
func (f fixed) Dimension() int { return f.dim }
func (f fixed) Extract(*detector.HandLandmarks) features.Vector {
	return make(features.Vector, f.dim)
}

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), FileName)
}

func TestLoad_MissingFile(t *testing.T) {
	ds, err := Load(tempPath(t), fixed{dim: 3})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ds.Len() != 0 || len(ds.Names()) != 0 {
		t.Errorf("expected empty dataset, got %d samples", ds.Len())
	}
}

func TestDataset_RoundTrip(t *testing.T) {
	path := tempPath(t)
	ext := fixed{dim: 3}

	ds := New(path, ext)
	vecs := map[string][]features.Vector{
		"Fist":  {{1, 2, 3}, {0.1, 0.2, 0.30000000000000004}},
		"Point": {{-1, 0, 1e-12}},
	}
	for name, vs := range vecs {
		for _, v := range vs {
			if err := ds.Append(name, v); err != nil {
				t.Fatalf("Append(%q) error = %v", name, err)
			}
		}
	}
	if err := ds.Persist(); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	loaded, err := Load(path, ext)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := loaded.Names(); len(got) != 2 || got[0] != "Fist" || got[1] != "Point" {
		t.Fatalf("unexpected names %v", got)
	}
	for name, vs := range vecs {
		got := loaded.Samples(name)
		if len(got) != len(vs) {
			t.Fatalf("%s: expected %d samples, got %d", name, len(vs), len(got))
		}
		for i := range vs {
			for j := range vs[i] {
				if got[i][j] != vs[i][j] {
					t.Errorf("%s[%d][%d]: expected %v, got %v", name, i, j, vs[i][j], got[i][j])
				}
			}
		}
	}
}

func TestDataset_Append(t *testing.T) {
	ds := New(tempPath(t), fixed{dim: 2})

	tests := []struct {
		name    string
		gesture string
		vec     features.Vector
		wantErr error
	}{
		{"valid", "Fist", features.Vector{1, 2}, nil},
		{"empty name", "", features.Vector{1, 2}, ErrEmptyName},
		{"short vector", "Fist", features.Vector{1}, ErrDimension},
		{"NaN", "Fist", features.Vector{math.NaN(), 0}, ErrNonFinite},
		{"Inf", "Fist", features.Vector{0, math.Inf(-1)}, ErrNonFinite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ds.Append(tt.gesture, tt.vec)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Append() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if ds.Count("Fist") != 1 {
		t.Errorf("expected only the valid sample to be kept, got %d", ds.Count("Fist"))
	}
}

func TestDataset_AppendCopies(t *testing.T) {
	ds := New(tempPath(t), fixed{dim: 2})
	v := features.Vector{1, 2}
	if err := ds.Append("A", v); err != nil {
		t.Fatal(err)
	}
	v[0] = 99
	if ds.Samples("A")[0][0] != 1 {
		t.Error("stored sample shares storage with the caller")
	}
}

func TestDataset_Remove(t *testing.T) {
	ds := New(tempPath(t), fixed{dim: 1})
	_ = ds.Append("A", features.Vector{1})
	_ = ds.Append("B", features.Vector{2})

	if err := ds.Remove("A"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if ds.Has("A") || !ds.Has("B") {
		t.Error("expected only A to be removed")
	}

	if err := ds.Remove("A"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := ds.Remove("missing"); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Errorf("expected error naming the gesture, got %v", err)
	}
}

func TestDataset_CreateAndCounts(t *testing.T) {
	ds := New(tempPath(t), fixed{dim: 1})

	if err := ds.Create(""); !errors.Is(err, ErrEmptyName) {
		t.Errorf("expected ErrEmptyName, got %v", err)
	}
	if err := ds.Create("Wave"); err != nil {
		t.Fatal(err)
	}
	_ = ds.Append("Fist", features.Vector{1})
	_ = ds.Append("Fist", features.Vector{2})
	_ = ds.Append("Open", features.Vector{3})
	if err := ds.Create("Fist"); err != nil {
		t.Fatal(err)
	}

	if ds.Len() != 3 {
		t.Errorf("expected 3 samples, got %d", ds.Len())
	}
	if ds.Classes() != 2 {
		t.Errorf("expected 2 classes with samples, got %d", ds.Classes())
	}

	want := []GestureCount{{"Fist", 2}, {"Open", 1}, {"Wave", 0}}
	got := ds.List()
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}

	x, y := ds.Flatten()
	if len(x) != 3 || len(y) != 3 || y[0] != "Fist" || y[2] != "Open" || x[2][0] != 3 {
		t.Errorf("unexpected flatten result %v %v", x, y)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"not json", "{not json", ErrCorrupt},
		{"wrong shape", `{"Fist": "abc"}`, ErrCorrupt},
		{"other strategy", `{"strategy":"other","dimension":2,"gestures":{}}`, ErrStrategyMismatch},
		{"wrong dimension tag", `{"strategy":"fixed","dimension":5,"gestures":{}}`, ErrCorrupt},
		{"short sample", `{"strategy":"fixed","dimension":2,"gestures":{"A":[[1]]}}`, ErrCorrupt},
		{"empty name", `{"strategy":"fixed","dimension":2,"gestures":{"":[[1,2]]}}`, ErrCorrupt},
		{"untagged samples", `{"A":[[1,2,3]]}`, ErrStrategyMismatch},
		{"untagged matching length", `{"A":[[1,2]]}`, ErrStrategyMismatch},
		{"null document", "null", ErrCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tempPath(t)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path, fixed{dim: 2})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Load() error = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), path) {
				t.Errorf("expected error to name the file, got %v", err)
			}
		})
	}
}

func TestLoad_UntaggedRejected(t *testing.T) {
	path := tempPath(t)
	untagged := `{"Fist": [[1, 2], [3, 4]], "Open": [], "gestures": [[5, 6]]}`
	if err := os.WriteFile(path, []byte(untagged), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path, fixed{dim: 2})
	if !errors.Is(err, ErrStrategyMismatch) {
		t.Fatalf("Load() error = %v, want %v", err, ErrStrategyMismatch)
	}
	if !strings.Contains(err.Error(), "re-record") {
		t.Errorf("expected error to ask for re-recording, got %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != untagged {
		t.Errorf("rejected file was modified: %s", data)
	}
}

func TestLoad_UntaggedWithoutSamples(t *testing.T) {
	path := tempPath(t)
	if err := os.WriteFile(path, []byte(`{"Open": []}`), 0o644); err != nil {
		t.Fatal(err)
	}

	ds, err := Load(path, fixed{dim: 2})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !ds.Has("Open") || ds.Len() != 0 {
		t.Fatalf("unexpected content %v", ds.List())
	}
}

func TestDataset_RoundTripEmpty(t *testing.T) {
	path := tempPath(t)
	ext := fixed{dim: 3}

	if err := New(path, ext).Persist(); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	loaded, err := Load(path, ext)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Names()) != 0 || loaded.Len() != 0 {
		t.Errorf("expected empty dataset, got %v", loaded.List())
	}
}

func TestDataset_RoundTripZeroSampleGesture(t *testing.T) {
	path := tempPath(t)
	ext := fixed{dim: 3}

	ds := New(path, ext)
	if err := ds.Create("Wave"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := ds.Append("Fist", features.Vector{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := ds.Persist(); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	loaded, err := Load(path, ext)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := loaded.Names(); len(got) != 2 || got[0] != "Fist" || got[1] != "Wave" {
		t.Fatalf("unexpected names %v", got)
	}
	if !loaded.Has("Wave") || loaded.Count("Wave") != 0 {
		t.Errorf("Wave: has %v, count %d; want present with 0 samples", loaded.Has("Wave"), loaded.Count("Wave"))
	}
	if loaded.Count("Fist") != 1 {
		t.Errorf("Fist: count %d, want 1", loaded.Count("Fist"))
	}
}

func TestDataset_PersistCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", FileName)
	ds := New(path, fixed{dim: 1})
	_ = ds.Append("A", features.Vector{1})

	if err := ds.Persist(); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected dataset file, got %v", err)
	}
}

func TestDataset_RealExtractor(t *testing.T) {
	ext := features.PalmPlane{}
	ds := New(tempPath(t), ext)
	palm := detector.OpenPalmLandmarks()

	if err := ds.Append("Open", ext.Extract(&palm)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := ds.Persist(); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(ds.Path(), ext)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Strategy() != features.PalmPlaneID || loaded.Dimension() != 83 {
		t.Errorf("unexpected tag %s/%d", loaded.Strategy(), loaded.Dimension())
	}

	if _, err := Load(ds.Path(), features.WristRelative{}); !errors.Is(err, ErrStrategyMismatch) {
		t.Errorf("expected ErrStrategyMismatch for other extractor, got %v", err)
	}
}
