// Package features computes the per-entity feature matrix consumed by the
// classifier, the baselines and the explainer.
package features

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// Names lists the 18 features in their fixed column order. The explainer
// relies on this order to align attribution columns.
var Names = []string{
	"total_sent", "total_received", "num_sent", "num_received",
	"avg_sent", "avg_received", "max_sent", "max_received",
	"in_out_ratio", "geo_diversity", "channel_diversity",
	"unique_counterparties", "burstiness", "risk_flag_count",
	"degree_centrality", "in_degree_centrality",
	"entity_type_enc", "country_risk",
}

// Width is the feature vector dimension.
var Width = len(Names)

const epsilon = 1e-9

// burstinessCap bounds the coefficient of variation for extremely bursty
// entities so a single degenerate node cannot dominate scaling.
const burstinessCap = 10.0

// BuildGraph constructs the directed transaction graph and the id -> row
// index mapping shared by the extractor and the classifier.
func BuildGraph(entities []*domain.Entity, transactions []*domain.Transaction) (*graph.Graph, map[string]int) {
	idx := make(map[string]int, len(entities))
	for i, e := range entities {
		idx[e.ID] = i
	}
	g := graph.New(len(entities))
	for _, tx := range transactions {
		s, sok := idx[tx.SourceID]
		d, dok := idx[tx.DestID]
		if sok && dok {
			g.AddEdge(s, d)
		}
	}
	return g, idx
}

// accumulator collects per-entity aggregates in one pass over the
// transaction list. All access is O(1) by row index; the transaction set
// is never re-scanned per entity.
type accumulator struct {
	outAmounts  [][]float64
	inAmounts   [][]float64
	countries   []map[string]bool
	channels    []map[domain.Channel]bool
	timestamps  [][]time.Time
	counterpart []map[string]bool
	flagCounts  []int
}

func newAccumulator(n int) *accumulator {
	a := &accumulator{
		outAmounts:  make([][]float64, n),
		inAmounts:   make([][]float64, n),
		countries:   make([]map[string]bool, n),
		channels:    make([]map[domain.Channel]bool, n),
		timestamps:  make([][]time.Time, n),
		counterpart: make([]map[string]bool, n),
		flagCounts:  make([]int, n),
	}
	for i := 0; i < n; i++ {
		a.countries[i] = make(map[string]bool)
		a.channels[i] = make(map[domain.Channel]bool)
		a.counterpart[i] = make(map[string]bool)
	}
	return a
}

func (a *accumulator) observe(i int, tx *domain.Transaction, outgoing bool) {
	if outgoing {
		a.outAmounts[i] = append(a.outAmounts[i], tx.Amount)
		a.counterpart[i][tx.DestID] = true
	} else {
		a.inAmounts[i] = append(a.inAmounts[i], tx.Amount)
		a.counterpart[i][tx.SourceID] = true
	}
	a.countries[i][tx.Country] = true
	a.channels[i][tx.Channel] = true
	a.timestamps[i] = append(a.timestamps[i], tx.Timestamp)
	a.flagCounts[i] += len(tx.RiskFlags)
}

// Extract computes the n x 18 feature matrix, one row per entity, in the
// order the entities were supplied. The output never contains NaN or Inf:
// degenerate statistics resolve to neutral values.
func Extract(entities []*domain.Entity, transactions []*domain.Transaction, g *graph.Graph) (*mat.Dense, []string) {
	n := len(entities)
	idx := make(map[string]int, n)
	ids := make([]string, n)
	for i, e := range entities {
		idx[e.ID] = i
		ids[i] = e.ID
	}

	acc := newAccumulator(n)
	for _, tx := range transactions {
		if s, ok := idx[tx.SourceID]; ok {
			acc.observe(s, tx, true)
		}
		if d, ok := idx[tx.DestID]; ok {
			acc.observe(d, tx, false)
		}
	}

	degCent, inDegCent := g.DegreeCentrality()

	m := mat.NewDense(n, Width, nil)
	for i, e := range entities {
		oa := acc.outAmounts[i]
		ia := acc.inAmounts[i]

		totalSent := floats.Sum(oa)
		totalRecv := floats.Sum(ia)
		ratio := totalRecv / (totalSent + epsilon)

		countryRisk := 0.0
		if domain.IsHighRiskCountry(e.Country) {
			countryRisk = 1.0
		}

		row := []float64{
			math.Log1p(totalSent),
			math.Log1p(totalRecv),
			math.Log1p(float64(len(oa))),
			math.Log1p(float64(len(ia))),
			math.Log1p(meanOrZero(oa)),
			math.Log1p(meanOrZero(ia)),
			math.Log1p(maxOrZero(oa)),
			math.Log1p(maxOrZero(ia)),
			math.Log1p(ratio),
			float64(len(acc.countries[i])),
			float64(len(acc.channels[i])),
			math.Log1p(float64(len(acc.counterpart[i]))),
			burstiness(acc.timestamps[i]),
			math.Log1p(float64(acc.flagCounts[i])),
			degCent[i],
			inDegCent[i],
			e.Category.Code(),
			countryRisk,
		}
		for j, v := range row {
			row[j] = sanitize(v)
		}
		m.SetRow(i, row)
	}

	return m, ids
}

// burstiness is the coefficient of variation of inter-transaction gaps,
// capped at 10. Entities with fewer than 3 transactions score 0.
func burstiness(timestamps []time.Time) float64 {
	if len(timestamps) < 3 {
		return 0
	}
	sorted := make([]time.Time, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	deltas := make([]float64, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		deltas[i-1] = sorted[i].Sub(sorted[i-1]).Seconds()
	}

	mean := stat.Mean(deltas, nil)
	variance := 0.0
	for _, d := range deltas {
		diff := d - mean
		variance += diff * diff
	}
	// Population variance, matching the scale the rule weights were
	// calibrated against.
	variance /= float64(len(deltas))

	cv := math.Sqrt(variance) / (mean + epsilon)
	return math.Min(cv, burstinessCap)
}

func meanOrZero(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

func maxOrZero(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return floats.Max(xs)
}

// sanitize scrubs non-finite values: NaN to 0, +Inf to 10, -Inf to 0.
func sanitize(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return 10
	case math.IsInf(v, -1):
		return 0
	default:
		return v
	}
}
