package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// minProb keeps log() finite in the cross-entropy loss.
const minProb = 1e-15

// ErrTooFewSamples is returned by Fit when there is nothing to learn from.
var ErrTooFewSamples = errors.New("too few samples to fit")

// TrainConfig controls MLP training.
type TrainConfig struct {
	Hidden       []int   `yaml:"hidden"`
	LearningRate float64 `yaml:"learning_rate"`
	Alpha        float64 `yaml:"alpha"`
	BatchSize    int     `yaml:"batch_size"`
	MaxEpochs    int     `yaml:"max_epochs"`
	Tol          float64 `yaml:"tol"`
	Patience     int     `yaml:"patience"`
	Seed         int64   `yaml:"seed"`
}

// DefaultTrainConfig returns the standard training settings.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Hidden:       []int{100, 50},
		LearningRate: 1e-3,
		Alpha:        1e-4,
		BatchSize:    200,
		MaxEpochs:    300,
		Tol:          1e-4,
		Patience:     10,
		Seed:         42,
	}
}

// EpochStats describes one finished training epoch.
type EpochStats struct {
	Epoch     int
	MaxEpochs int
	Loss      float64
}

// EpochFunc is called after every training epoch.
type EpochFunc func(EpochStats)

// FitResult summarizes a training run.
type FitResult struct {
	Epochs    int
	Loss      float64
	Converged bool
}

// Layer is one fully connected layer. Weights is inputs × outputs.
type Layer struct {
	Weights *mat.Dense
	Bias    []float64
}

// MLP is a feed-forward network with ReLU hidden layers and a softmax output.
type MLP struct {
	Layers []Layer
}

func newMLP(sizes []int, rng *rand.Rand) *MLP {
	m := &MLP{}
	for i := 0; i+1 < len(sizes); i++ {
		in, out := sizes[i], sizes[i+1]
		bound := math.Sqrt(6 / float64(in+out))

		w := make([]float64, in*out)
		for j := range w {
			w[j] = (rng.Float64()*2 - 1) * bound
		}
		b := make([]float64, out)
		for j := range b {
			b[j] = (rng.Float64()*2 - 1) * bound
		}
		m.Layers = append(m.Layers, Layer{Weights: mat.NewDense(in, out, w), Bias: b})
	}
	return m
}

// InputSize returns the number of input features.
func (m *MLP) InputSize() int {
	r, _ := m.Layers[0].Weights.Dims()
	return r
}

// OutputSize returns the number of classes.
func (m *MLP) OutputSize() int {
	_, c := m.Layers[len(m.Layers)-1].Weights.Dims()
	return c
}

// Probabilities returns the class probabilities for one (already scaled) input.
func (m *MLP) Probabilities(x []float64) []float64 {
	in := mat.NewDense(1, len(x), append([]float64(nil), x...))
	acts := m.forward(in)
	return mat.Row(nil, 0, acts[len(acts)-1])
}

// forward returns the activations of every layer, starting with x itself.
func (m *MLP) forward(x *mat.Dense) []*mat.Dense {
	acts := make([]*mat.Dense, len(m.Layers)+1)
	acts[0] = x
	last := len(m.Layers) - 1

	for i, l := range m.Layers {
		z := new(mat.Dense)
		z.Mul(acts[i], l.Weights)

		rows, _ := z.Dims()
		for r := 0; r < rows; r++ {
			row := z.RawRowView(r)
			floats.Add(row, l.Bias)
			if i == last {
				softmax(row)
			} else {
				relu(row)
			}
		}
		acts[i+1] = z
	}
	return acts
}

// backward computes the regularized loss of a batch and the gradients of
// every weight matrix and bias vector.
func (m *MLP) backward(acts []*mat.Dense, y []int, alpha float64) (float64, []*mat.Dense, [][]float64) {
	n := float64(len(y))
	out := acts[len(acts)-1]

	loss := 0.0
	for r, c := range y {
		loss -= math.Log(math.Max(out.At(r, c), minProb))
	}
	sumSq := 0.0
	for _, l := range m.Layers {
		raw := l.Weights.RawMatrix().Data
		sumSq += floats.Dot(raw, raw)
	}
	loss = loss/n + 0.5*alpha*sumSq/n

	// Softmax with cross-entropy: dL/dz = p - onehot(y).
	delta := mat.DenseCopyOf(out)
	for r, c := range y {
		delta.Set(r, c, delta.At(r, c)-1)
	}

	gw := make([]*mat.Dense, len(m.Layers))
	gb := make([][]float64, len(m.Layers))
	for i := len(m.Layers) - 1; i >= 0; i-- {
		w := m.Layers[i].Weights

		g := new(mat.Dense)
		g.Mul(acts[i].T(), delta)
		var reg mat.Dense
		reg.Scale(alpha, w)
		g.Add(g, &reg)
		g.Scale(1/n, g)
		gw[i] = g

		rows, cols := delta.Dims()
		b := make([]float64, cols)
		for r := 0; r < rows; r++ {
			floats.Add(b, delta.RawRowView(r))
		}
		floats.Scale(1/n, b)
		gb[i] = b

		if i == 0 {
			break
		}
		next := new(mat.Dense)
		next.Mul(delta, w.T())
		next.Apply(func(r, c int, v float64) float64 {
			if acts[i].At(r, c) <= 0 {
				return 0
			}
			return v
		}, next)
		delta = next
	}

	return loss, gw, gb
}

func (m *MLP) params() [][]float64 {
	var p [][]float64
	for _, l := range m.Layers {
		p = append(p, l.Weights.RawMatrix().Data, l.Bias)
	}
	return p
}

// Fit trains a new network on scaled inputs x with class indices y in [0, classes).
// Training stops when the loss has not improved by more than cfg.Tol for
// cfg.Patience consecutive epochs, after cfg.MaxEpochs, or when ctx is done.
func Fit(ctx context.Context, x *mat.Dense, y []int, classes int, cfg TrainConfig, onEpoch EpochFunc) (*MLP, FitResult, error) {
	n, dim := x.Dims()
	if n == 0 || len(y) != n {
		return nil, FitResult{}, fmt.Errorf("%w: %d rows, %d labels", ErrTooFewSamples, n, len(y))
	}
	if classes < 2 {
		return nil, FitResult{}, fmt.Errorf("need at least 2 classes, got %d", classes)
	}
	for i, c := range y {
		if c < 0 || c >= classes {
			return nil, FitResult{}, fmt.Errorf("label %d at row %d out of range", c, i)
		}
	}
	for _, h := range cfg.Hidden {
		if h <= 0 {
			return nil, FitResult{}, fmt.Errorf("hidden layer size must be positive, got %v", cfg.Hidden)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	sizes := append(append([]int{dim}, cfg.Hidden...), classes)
	net := newMLP(sizes, rng)
	opt := newAdam(net.params(), cfg.LearningRate)

	batch := cfg.BatchSize
	if batch <= 0 || batch > n {
		batch = n
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	best := math.Inf(1)
	stale := 0
	res := FitResult{}

	for epoch := 1; epoch <= cfg.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}

		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

		total := 0.0
		for start := 0; start < n; start += batch {
			end := min(start+batch, n)
			xb := mat.NewDense(end-start, dim, nil)
			yb := make([]int, end-start)
			for k, idx := range order[start:end] {
				xb.SetRow(k, x.RawRowView(idx))
				yb[k] = y[idx]
			}

			acts := net.forward(xb)
			loss, gw, gb := net.backward(acts, yb, cfg.Alpha)

			grads := make([][]float64, 0, 2*len(gw))
			for i := range gw {
				grads = append(grads, gw[i].RawMatrix().Data, gb[i])
			}
			opt.step(net.params(), grads)
			total += loss * float64(end-start)
		}

		res.Epochs = epoch
		res.Loss = total / float64(n)
		if math.IsNaN(res.Loss) || math.IsInf(res.Loss, 0) {
			return nil, res, fmt.Errorf("training diverged at epoch %d", epoch)
		}
		if onEpoch != nil {
			onEpoch(EpochStats{Epoch: epoch, MaxEpochs: cfg.MaxEpochs, Loss: res.Loss})
		}

		if res.Loss > best-cfg.Tol {
			stale++
		} else {
			stale = 0
		}
		if res.Loss < best {
			best = res.Loss
		}
		if stale > cfg.Patience {
			res.Converged = true
			break
		}
	}

	return net, res, nil
}

func relu(v []float64) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

func softmax(v []float64) {
	m := floats.Max(v)
	sum := 0.0
	for i, x := range v {
		v[i] = math.Exp(x - m)
		sum += v[i]
	}
	floats.Scale(1/sum, v)
}
