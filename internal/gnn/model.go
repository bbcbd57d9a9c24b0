// Package gnn implements the inductive node classifier: a two-layer
// neighbor-aggregation network with a from-scratch training path over
// gonum dense matrices, plus a non-relational MLP with the same interface.
package gnn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/opensource-finance/harrier/internal/graph"
)

// NumClasses is the logit width: not-suspicious vs suspicious.
const NumClasses = 2

// Model is the classifier contract shared by the neighbor-aggregation
// network and the MLP fallback. Forward caches intermediates for the next
// Backward call; Backward accumulates parameter gradients from the logits
// gradient.
type Model interface {
	// Forward returns n x 2 class logits. When training is true, dropout
	// is applied and intermediates are cached for Backward.
	Forward(x *mat.Dense, g *graph.Graph, training bool) *mat.Dense

	// Embed returns the second layer's pre-classifier hidden
	// representation (n x hidden), used by the explainer stage.
	Embed(x *mat.Dense, g *graph.Graph) *mat.Dense

	// Backward propagates the logits gradient from the latest training
	// Forward into the parameter gradients.
	Backward(dLogits *mat.Dense)

	// Params exposes trainable parameters for the optimizer.
	Params() []*Param

	// State snapshots parameter values; Restore loads a snapshot.
	State() []*mat.Dense
	Restore(state []*mat.Dense)
}

// Param is one trainable weight matrix with its gradient accumulator.
type Param struct {
	Name string
	W    *mat.Dense
	Grad *mat.Dense
}

// NewModel builds a classifier of the configured kind.
func NewModel(kind string, in, hidden int, dropout float64, rng *rand.Rand) (Model, error) {
	switch kind {
	case "sage", "":
		return NewSAGE(in, hidden, dropout, rng), nil
	case "mlp":
		return NewMLP(in, hidden, dropout, rng), nil
	default:
		return nil, fmt.Errorf("unknown model kind: %q", kind)
	}
}

// linear is a dense layer z = x*W + b.
type linear struct {
	w *Param // in x out
	b *Param // 1 x out
}

func newLinear(name string, in, out int, rng *rand.Rand) *linear {
	// Glorot uniform initialization.
	limit := math.Sqrt(6.0 / float64(in+out))
	w := mat.NewDense(in, out, nil)
	for i := 0; i < in; i++ {
		for j := 0; j < out; j++ {
			w.Set(i, j, (rng.Float64()*2-1)*limit)
		}
	}
	return &linear{
		w: &Param{Name: name + ".weight", W: w, Grad: mat.NewDense(in, out, nil)},
		b: &Param{Name: name + ".bias", W: mat.NewDense(1, out, nil), Grad: mat.NewDense(1, out, nil)},
	}
}

func (l *linear) outDim() int {
	_, out := l.w.W.Dims()
	return out
}

func (l *linear) forward(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	out := l.outDim()
	z := mat.NewDense(n, out, nil)
	z.Mul(x, l.w.W)
	for i := 0; i < n; i++ {
		for j := 0; j < out; j++ {
			z.Set(i, j, z.At(i, j)+l.b.W.At(0, j))
		}
	}
	return z
}

// backward accumulates dW and db from the cached input and returns dx.
func (l *linear) backward(x, dz *mat.Dense) *mat.Dense {
	var dw mat.Dense
	dw.Mul(x.T(), dz)
	l.w.Grad.Add(l.w.Grad, &dw)

	n, out := dz.Dims()
	for j := 0; j < out; j++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += dz.At(i, j)
		}
		l.b.Grad.Set(0, j, l.b.Grad.At(0, j)+sum)
	}

	rows, _ := x.Dims()
	in, _ := l.w.W.Dims()
	dx := mat.NewDense(rows, in, nil)
	dx.Mul(dz, l.w.W.T())
	return dx
}

func (l *linear) params() []*Param { return []*Param{l.w, l.b} }

// relu returns max(z, 0) and the derivative mask.
func relu(z *mat.Dense) (h, mask *mat.Dense) {
	n, d := z.Dims()
	h = mat.NewDense(n, d, nil)
	mask = mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			if v := z.At(i, j); v > 0 {
				h.Set(i, j, v)
				mask.Set(i, j, 1)
			}
		}
	}
	return h, mask
}

// dropoutMask draws an inverted-dropout factor matrix: 0 with probability
// p, else 1/(1-p).
func dropoutMask(rng *rand.Rand, n, d int, p float64) *mat.Dense {
	mask := mat.NewDense(n, d, nil)
	scale := 1.0 / (1.0 - p)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			if rng.Float64() >= p {
				mask.Set(i, j, scale)
			}
		}
	}
	return mask
}

func hadamard(dst, mask *mat.Dense) {
	n, d := dst.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			dst.Set(i, j, dst.At(i, j)*mask.At(i, j))
		}
	}
}

func concatCols(a, b *mat.Dense) *mat.Dense {
	n, da := a.Dims()
	_, db := b.Dims()
	out := mat.NewDense(n, da+db, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < da; j++ {
			out.Set(i, j, a.At(i, j))
		}
		for j := 0; j < db; j++ {
			out.Set(i, da+j, b.At(i, j))
		}
	}
	return out
}

func splitCols(z *mat.Dense, at int) (left, right *mat.Dense) {
	n, d := z.Dims()
	left = mat.NewDense(n, at, nil)
	right = mat.NewDense(n, d-at, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < at; j++ {
			left.Set(i, j, z.At(i, j))
		}
		for j := at; j < d; j++ {
			right.Set(i, j-at, z.At(i, j))
		}
	}
	return left, right
}

func cloneDense(m *mat.Dense) *mat.Dense {
	var c mat.Dense
	c.CloneFrom(m)
	return &c
}
