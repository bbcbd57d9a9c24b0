package gnn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam implements the Adam optimizer with L2 weight decay folded into the
// gradient, matching the training recipe the hyperparameters were tuned
// against.
type Adam struct {
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    []*mat.Dense
	v    []*mat.Dense
}

// NewAdam creates an optimizer for the given parameters.
func NewAdam(params []*Param, weightDecay float64) *Adam {
	a := &Adam{
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		m:           make([]*mat.Dense, len(params)),
		v:           make([]*mat.Dense, len(params)),
	}
	for i, p := range params {
		r, c := p.W.Dims()
		a.m[i] = mat.NewDense(r, c, nil)
		a.v[i] = mat.NewDense(r, c, nil)
	}
	return a
}

// Step applies one update with the given learning rate (the rate varies
// per epoch under cosine annealing).
func (a *Adam) Step(params []*Param, lr float64) {
	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for i, p := range params {
		r, c := p.W.Dims()
		for row := 0; row < r; row++ {
			for col := 0; col < c; col++ {
				g := p.Grad.At(row, col) + a.WeightDecay*p.W.At(row, col)

				m := a.Beta1*a.m[i].At(row, col) + (1-a.Beta1)*g
				v := a.Beta2*a.v[i].At(row, col) + (1-a.Beta2)*g*g
				a.m[i].Set(row, col, m)
				a.v[i].Set(row, col, v)

				mHat := m / bc1
				vHat := v / bc2
				p.W.Set(row, col, p.W.At(row, col)-lr*mHat/(math.Sqrt(vHat)+a.Eps))
			}
		}
	}
}

// ZeroGrads clears all gradient accumulators.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// ClipGradNorm rescales gradients so their global L2 norm does not exceed
// maxNorm. Returns the pre-clip norm.
func ClipGradNorm(params []*Param, maxNorm float64) float64 {
	total := 0.0
	for _, p := range params {
		r, c := p.Grad.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				g := p.Grad.At(i, j)
				total += g * g
			}
		}
	}
	norm := math.Sqrt(total)
	if norm <= maxNorm || norm == 0 {
		return norm
	}
	scale := maxNorm / norm
	for _, p := range params {
		p.Grad.Scale(scale, p.Grad)
	}
	return norm
}
