package classifier

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes each feature to zero mean and unit variance.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler computes per-column population mean and standard deviation.
// Constant columns get a scale of 1.
func FitScaler(x *mat.Dense) *Scaler {
	rows, cols := x.Dims()
	s := &Scaler{
		Mean:  make([]float64, cols),
		Scale: make([]float64, cols),
	}
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.Mean[j], s.Scale[j] = mean, std
	}
	return s
}

// Transform returns a standardized copy of vec.
func (s *Scaler) Transform(vec []float64) []float64 {
	out := make([]float64, len(vec))
	for j, v := range vec {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// TransformMatrix returns a standardized copy of x.
func (s *Scaler) TransformMatrix(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, x)
	return out
}

func (s *Scaler) validate(dim int) error {
	if len(s.Mean) != dim || len(s.Scale) != dim {
		return fmt.Errorf("scaler has %d/%d columns, expected %d", len(s.Mean), len(s.Scale), dim)
	}
	for j, sc := range s.Scale {
		if sc == 0 {
			return fmt.Errorf("scaler column %d has zero scale", j)
		}
	}
	return nil
}
