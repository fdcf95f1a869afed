package classifier

import "math"

// adam is the Adam stochastic optimizer operating on flat parameter slices.
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64

	t    int
	m, v [][]float64
}

func newAdam(params [][]float64, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p)))
		a.v = append(a.v, make([]float64, len(p)))
	}
	return a
}

// step applies one update of grads to params in place.
func (a *adam) step(params, grads [][]float64) {
	a.t++
	t := float64(a.t)
	lr := a.lr * math.Sqrt(1-math.Pow(a.beta2, t)) / (1 - math.Pow(a.beta1, t))

	for i, p := range params {
		g, m, v := grads[i], a.m[i], a.v[i]
		for j := range p {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g[j]
			v[j] = a.beta2*v[j] + (1-a.beta2)*g[j]*g[j]
			p[j] -= lr * m[j] / (math.Sqrt(v[j]) + a.eps)
		}
	}
}
