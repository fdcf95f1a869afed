package classifier

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ModelFileName is the model artifact name inside the data directory.
const ModelFileName = "gesture_model.bin"

// artifactVersion is bumped whenever the on-disk layout changes.
const artifactVersion = 1

// ErrFormat is returned when a model artifact is unreadable or inconsistent.
var ErrFormat = errors.New("invalid model artifact")

// Model is a trained gesture classifier together with everything needed to
// apply it to new feature vectors.
type Model struct {
	Strategy  string
	Dimension int
	Encoder   *LabelEncoder
	Scaler    *Scaler
	Net       *MLP
	TrainedAt time.Time
}

// Prediction is the classifier output for one vector.
type Prediction struct {
	Label         string
	Probability   float64
	Probabilities []float64
}

// Predict classifies vec, which must have length m.Dimension.
func (m *Model) Predict(vec []float64) (Prediction, error) {
	if len(vec) != m.Dimension {
		return Prediction{}, fmt.Errorf("input has %d features, model expects %d", len(vec), m.Dimension)
	}
	probs := m.Net.Probabilities(m.Scaler.Transform(vec))
	best := floats.MaxIdx(probs)
	label, err := m.Encoder.Decode(best)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Label: label, Probability: probs[best], Probabilities: probs}, nil
}

type artifact struct {
	Version   int
	Strategy  string
	Dimension int
	Classes   []string
	Mean      []float64
	Scale     []float64
	Weights   [][]byte
	Biases    [][]float64
	TrainedAt time.Time
}

// Save writes the model to path, replacing any previous artifact atomically.
func (m *Model) Save(path string) error {
	a := artifact{
		Version:   artifactVersion,
		Strategy:  m.Strategy,
		Dimension: m.Dimension,
		Classes:   m.Encoder.Classes(),
		Mean:      m.Scaler.Mean,
		Scale:     m.Scaler.Scale,
		TrainedAt: m.TrainedAt,
	}
	for i, l := range m.Net.Layers {
		w, err := l.Weights.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode layer %d: %w", i, err)
		}
		a.Weights = append(a.Weights, w)
		a.Biases = append(a.Biases, l.Bias)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return fmt.Errorf("encode model: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write model %s: %w", path, err)
	}
	return nil
}

// LoadModel reads a model artifact written by Save.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}

	var a artifact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFormat, path, err)
	}
	m, err := a.model()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFormat, path, err)
	}
	return m, nil
}

func (a *artifact) model() (*Model, error) {
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("unsupported version %d", a.Version)
	}
	if len(a.Weights) == 0 || len(a.Weights) != len(a.Biases) {
		return nil, fmt.Errorf("%d weight matrices, %d bias vectors", len(a.Weights), len(a.Biases))
	}

	enc, err := NewLabelEncoder(a.Classes)
	if err != nil {
		return nil, err
	}
	scaler := &Scaler{Mean: a.Mean, Scale: a.Scale}
	if err := scaler.validate(a.Dimension); err != nil {
		return nil, err
	}

	net := &MLP{}
	for i, raw := range a.Weights {
		w := new(mat.Dense)
		if err := w.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		r, c := w.Dims()
		if len(a.Biases[i]) != c {
			return nil, fmt.Errorf("layer %d has %d outputs and %d biases", i, c, len(a.Biases[i]))
		}
		if i > 0 {
			if _, prev := net.Layers[i-1].Weights.Dims(); r != prev {
				return nil, fmt.Errorf("layer %d takes %d inputs, previous layer has %d outputs", i, r, prev)
			}
		}
		net.Layers = append(net.Layers, Layer{Weights: w, Bias: a.Biases[i]})
	}
	if n := net.InputSize(); n != a.Dimension {
		return nil, fmt.Errorf("network takes %d inputs, model dimension is %d", n, a.Dimension)
	}
	if n := net.OutputSize(); n != enc.Len() {
		return nil, fmt.Errorf("network has %d outputs for %d classes", n, enc.Len())
	}

	return &Model{
		Strategy:  a.Strategy,
		Dimension: a.Dimension,
		Encoder:   enc,
		Scaler:    scaler,
		Net:       net,
		TrainedAt: a.TrainedAt,
	}, nil
}
