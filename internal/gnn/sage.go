package gnn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/opensource-finance/harrier/internal/graph"
)

// aggEpsilon guards the mean-aggregation denominator for nodes with zero
// in-degree; their aggregate stays a zero vector.
const aggEpsilon = 1e-8

// sageLayer concatenates a linear transform of each node's own features
// with a linear transform of the mean of its in-neighbors' features.
type sageLayer struct {
	self  *linear
	neigh *linear

	// cached by forward for the backward pass
	in  *mat.Dense
	agg *mat.Dense
}

func newSageLayer(name string, in, half int, rng *rand.Rand) *sageLayer {
	return &sageLayer{
		self:  newLinear(name+".self", in, half, rng),
		neigh: newLinear(name+".neigh", in, half, rng),
	}
}

func (l *sageLayer) forward(x *mat.Dense, g *graph.Graph) *mat.Dense {
	agg := meanAggregate(x, g)
	l.in = x
	l.agg = agg
	return concatCols(l.self.forward(x), l.neigh.forward(agg))
}

func (l *sageLayer) backward(dz *mat.Dense, g *graph.Graph) *mat.Dense {
	dzSelf, dzNeigh := splitCols(dz, l.self.outDim())
	dx := l.self.backward(l.in, dzSelf)
	dAgg := l.neigh.backward(l.agg, dzNeigh)
	dx.Add(dx, meanAggregateBackward(dAgg, g))
	return dx
}

func (l *sageLayer) params() []*Param {
	return append(l.self.params(), l.neigh.params()...)
}

// meanAggregate returns, per node, the mean of its in-neighbors' rows.
// Parallel edges contribute once per transaction, weighting repeated
// counterparties.
func meanAggregate(x *mat.Dense, g *graph.Graph) *mat.Dense {
	n, d := x.Dims()
	out := mat.NewDense(n, d, nil)
	for e := range g.Src {
		s, t := g.Src[e], g.Dst[e]
		for j := 0; j < d; j++ {
			out.Set(t, j, out.At(t, j)+x.At(s, j))
		}
	}
	counts := g.InNeighborCounts()
	for i := 0; i < n; i++ {
		denom := float64(counts[i]) + aggEpsilon
		for j := 0; j < d; j++ {
			out.Set(i, j, out.At(i, j)/denom)
		}
	}
	return out
}

// meanAggregateBackward scatters the aggregate gradient back to sources.
func meanAggregateBackward(dAgg *mat.Dense, g *graph.Graph) *mat.Dense {
	n, d := dAgg.Dims()
	counts := g.InNeighborCounts()
	dx := mat.NewDense(n, d, nil)
	for e := range g.Src {
		s, t := g.Src[e], g.Dst[e]
		denom := float64(counts[t]) + aggEpsilon
		for j := 0; j < d; j++ {
			dx.Set(s, j, dx.At(s, j)+dAgg.At(t, j)/denom)
		}
	}
	return dx
}

// SAGE is the two-layer neighbor-aggregation classifier.
type SAGE struct {
	layer1 *sageLayer
	layer2 *sageLayer
	cls    *linear

	dropout float64
	rng     *rand.Rand

	// training caches
	g              *graph.Graph
	reluMask1      *mat.Dense
	reluMask2      *mat.Dense
	dropMask1      *mat.Dense
	dropMask2      *mat.Dense
	hidden2        *mat.Dense
	trainingCached bool
}

// NewSAGE builds the network. hidden is split evenly between the self and
// neighbor halves of each layer.
func NewSAGE(in, hidden int, dropout float64, rng *rand.Rand) *SAGE {
	half := hidden / 2
	return &SAGE{
		layer1:  newSageLayer("sage1", in, half, rng),
		layer2:  newSageLayer("sage2", half*2, half, rng),
		cls:     newLinear("classifier", half*2, NumClasses, rng),
		dropout: dropout,
		rng:     rng,
	}
}

// Forward computes class logits. Training mode applies dropout and caches
// everything Backward needs.
func (m *SAGE) Forward(x *mat.Dense, g *graph.Graph, training bool) *mat.Dense {
	z1 := m.layer1.forward(x, g)
	h1, mask1 := relu(z1)
	var drop1 *mat.Dense
	if training && m.dropout > 0 {
		n, d := h1.Dims()
		drop1 = dropoutMask(m.rng, n, d, m.dropout)
		hadamard(h1, drop1)
	}

	z2 := m.layer2.forward(h1, g)
	h2, mask2 := relu(z2)
	var drop2 *mat.Dense
	if training && m.dropout > 0 {
		n, d := h2.Dims()
		drop2 = dropoutMask(m.rng, n, d, m.dropout)
		hadamard(h2, drop2)
	}

	logits := m.cls.forward(h2)

	if training {
		m.g = g
		m.reluMask1 = mask1
		m.reluMask2 = mask2
		m.dropMask1 = drop1
		m.dropMask2 = drop2
		m.hidden2 = h2
		m.trainingCached = true
	}
	return logits
}

// Embed returns the second layer's hidden representation without dropout
// or the classification head.
func (m *SAGE) Embed(x *mat.Dense, g *graph.Graph) *mat.Dense {
	h1, _ := relu(m.layer1.forward(x, g))
	h2, _ := relu(m.layer2.forward(h1, g))
	return h2
}

// Backward accumulates parameter gradients from the logits gradient of the
// latest training Forward.
func (m *SAGE) Backward(dLogits *mat.Dense) {
	if !m.trainingCached {
		return
	}
	dh2 := m.cls.backward(m.hidden2, dLogits)
	if m.dropMask2 != nil {
		hadamard(dh2, m.dropMask2)
	}
	hadamard(dh2, m.reluMask2)

	dh1 := m.layer2.backward(dh2, m.g)
	if m.dropMask1 != nil {
		hadamard(dh1, m.dropMask1)
	}
	hadamard(dh1, m.reluMask1)

	m.layer1.backward(dh1, m.g)
}

// Params exposes the trainable parameters.
func (m *SAGE) Params() []*Param {
	params := append(m.layer1.params(), m.layer2.params()...)
	return append(params, m.cls.params()...)
}

// State deep-copies all parameter values.
func (m *SAGE) State() []*mat.Dense {
	params := m.Params()
	state := make([]*mat.Dense, len(params))
	for i, p := range params {
		state[i] = cloneDense(p.W)
	}
	return state
}

// Restore loads a snapshot produced by State.
func (m *SAGE) Restore(state []*mat.Dense) {
	params := m.Params()
	for i, p := range params {
		p.W.Copy(state[i])
	}
}
