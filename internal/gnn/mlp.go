package gnn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/opensource-finance/harrier/internal/graph"
)

// MLP is the non-relational fallback classifier. It satisfies the same
// interface as SAGE but ignores graph structure entirely, which makes it a
// useful ablation: any lift SAGE shows over it comes from the topology.
type MLP struct {
	l1  *linear
	l2  *linear
	cls *linear

	dropout float64
	rng     *rand.Rand

	reluMask1      *mat.Dense
	reluMask2      *mat.Dense
	dropMask1      *mat.Dense
	dropMask2      *mat.Dense
	input          *mat.Dense
	hidden1        *mat.Dense
	hidden2        *mat.Dense
	trainingCached bool
}

// NewMLP builds a two-hidden-layer perceptron with a two-class head.
func NewMLP(in, hidden int, dropout float64, rng *rand.Rand) *MLP {
	return &MLP{
		l1:      newLinear("mlp1", in, hidden, rng),
		l2:      newLinear("mlp2", hidden, hidden, rng),
		cls:     newLinear("classifier", hidden, NumClasses, rng),
		dropout: dropout,
		rng:     rng,
	}
}

// Forward computes class logits; the graph argument is unused.
func (m *MLP) Forward(x *mat.Dense, _ *graph.Graph, training bool) *mat.Dense {
	h1, mask1 := relu(m.l1.forward(x))
	var drop1 *mat.Dense
	if training && m.dropout > 0 {
		n, d := h1.Dims()
		drop1 = dropoutMask(m.rng, n, d, m.dropout)
		hadamard(h1, drop1)
	}

	h2, mask2 := relu(m.l2.forward(h1))
	var drop2 *mat.Dense
	if training && m.dropout > 0 {
		n, d := h2.Dims()
		drop2 = dropoutMask(m.rng, n, d, m.dropout)
		hadamard(h2, drop2)
	}

	logits := m.cls.forward(h2)

	if training {
		m.input = x
		m.hidden1 = h1
		m.hidden2 = h2
		m.reluMask1 = mask1
		m.reluMask2 = mask2
		m.dropMask1 = drop1
		m.dropMask2 = drop2
		m.trainingCached = true
	}
	return logits
}

// Embed returns the second hidden representation.
func (m *MLP) Embed(x *mat.Dense, _ *graph.Graph) *mat.Dense {
	h1, _ := relu(m.l1.forward(x))
	h2, _ := relu(m.l2.forward(h1))
	return h2
}

// Backward accumulates parameter gradients from the logits gradient.
func (m *MLP) Backward(dLogits *mat.Dense) {
	if !m.trainingCached {
		return
	}
	dh2 := m.cls.backward(m.hidden2, dLogits)
	if m.dropMask2 != nil {
		hadamard(dh2, m.dropMask2)
	}
	hadamard(dh2, m.reluMask2)

	dh1 := m.l2.backward(m.hidden1, dh2)
	if m.dropMask1 != nil {
		hadamard(dh1, m.dropMask1)
	}
	hadamard(dh1, m.reluMask1)

	m.l1.backward(m.input, dh1)
}

// Params exposes the trainable parameters.
func (m *MLP) Params() []*Param {
	params := append(m.l1.params(), m.l2.params()...)
	return append(params, m.cls.params()...)
}

// State deep-copies all parameter values.
func (m *MLP) State() []*mat.Dense {
	params := m.Params()
	state := make([]*mat.Dense, len(params))
	for i, p := range params {
		state[i] = cloneDense(p.W)
	}
	return state
}

// Restore loads a snapshot produced by State.
func (m *MLP) Restore(state []*mat.Dense) {
	params := m.Params()
	for i, p := range params {
		p.W.Copy(state[i])
	}
}
