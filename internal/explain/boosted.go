package explain

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

type boostConfig struct {
	trees     int
	maxDepth  int
	learnRate float64
	subsample float64
	colsample float64
	minLeaf   int
}

func defaultBoostConfig() boostConfig {
	return boostConfig{
		trees:     150,
		maxDepth:  5,
		learnRate: 0.08,
		subsample: 0.8,
		colsample: 0.8,
		minLeaf:   3,
	}
}

// gbt is a least-squares gradient-boosted tree ensemble.
type gbt struct {
	base  float64
	rate  float64
	trees []*regTree
}

func fitGBT(x []float64, d int, y []float64, cfg boostConfig, rng *rand.Rand) *gbt {
	n := len(y)
	model := &gbt{rate: cfg.learnRate}
	for _, v := range y {
		model.base += v
	}
	model.base /= float64(n)

	residual := make([]float64, n)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = model.base
	}

	allRows := make([]int, n)
	for i := range allRows {
		allRows[i] = i
	}
	allCols := make([]int, d)
	for j := range allCols {
		allCols[j] = j
	}

	for t := 0; t < cfg.trees; t++ {
		for i := range residual {
			residual[i] = y[i] - pred[i]
		}
		rows := sampleWithout(rng, allRows, cfg.subsample)
		cols := sampleWithout(rng, allCols, cfg.colsample)

		tree := fitTree(x, d, residual, rows, treeConfig{
			maxDepth:    cfg.maxDepth,
			minLeaf:     cfg.minLeaf,
			colFeatures: cols,
		})
		model.trees = append(model.trees, tree)
		for i := 0; i < n; i++ {
			pred[i] += model.rate * tree.predict(x, d, i)
		}
	}
	return model
}

func (m *gbt) predict(x []float64, d, row int) float64 {
	out := m.base
	for _, t := range m.trees {
		out += m.rate * t.predict(x, d, row)
	}
	return out
}

// sampleWithout draws a sorted fraction of items without replacement.
func sampleWithout(rng *rand.Rand, items []int, frac float64) []int {
	k := int(frac * float64(len(items)))
	if k < 1 {
		k = 1
	}
	perm := rng.Perm(len(items))
	picked := make([]bool, len(items))
	for _, p := range perm[:k] {
		picked[p] = true
	}
	out := make([]int, 0, k)
	for i, ok := range picked {
		if ok {
			out = append(out, items[i])
		}
	}
	return out
}

// boostedAttributor fits a boosted-tree surrogate and attributes either by
// decision-path decomposition or by mean-substitution deltas.
type boostedAttributor struct {
	cfg          boostConfig
	featureWidth int
	seed         int64
	perturb      bool
}

func (b *boostedAttributor) FitAttribute(xTrain *mat.Dense, ySoft []float64, xAll *mat.Dense) (*mat.Dense, error) {
	nTrain, d := xTrain.Dims()
	if nTrain == 0 || nTrain != len(ySoft) {
		return nil, fmt.Errorf("explain: %d surrogate rows for %d targets", nTrain, len(ySoft))
	}
	nAll, dAll := xAll.Dims()
	if dAll != d {
		return nil, fmt.Errorf("explain: train has %d columns, scoring set has %d", d, dAll)
	}

	rng := rand.New(rand.NewSource(b.seed))
	model := fitGBT(flatten(xTrain), d, ySoft, b.cfg, rng)

	flat := flatten(xAll)
	out := mat.NewDense(nAll, b.featureWidth, nil)
	if b.perturb {
		b.attributePerturb(model, flat, d, nAll, out)
	} else {
		b.attributePath(model, flat, d, nAll, out)
	}
	return out, nil
}

func (b *boostedAttributor) attributePath(model *gbt, x []float64, d, n int, out *mat.Dense) {
	contrib := make([]float64, b.featureWidth)
	for i := 0; i < n; i++ {
		for j := range contrib {
			contrib[j] = 0
		}
		for _, t := range model.trees {
			t.pathContributions(x, d, i, contrib)
		}
		for j := range contrib {
			out.Set(i, j, model.rate*contrib[j])
		}
	}
}

// attributePerturb replaces one raw feature column at a time with its
// population mean and records the prediction drop.
func (b *boostedAttributor) attributePerturb(model *gbt, x []float64, d, n int, out *mat.Dense) {
	means := make([]float64, b.featureWidth)
	for j := 0; j < b.featureWidth; j++ {
		for i := 0; i < n; i++ {
			means[j] += x[i*d+j]
		}
		means[j] /= float64(n)
	}

	row := make([]float64, d)
	for i := 0; i < n; i++ {
		copy(row, x[i*d:(i+1)*d])
		baseline := model.predict(row, d, 0)
		for j := 0; j < b.featureWidth; j++ {
			orig := row[j]
			row[j] = means[j]
			out.Set(i, j, baseline-model.predict(row, d, 0))
			row[j] = orig
		}
	}
}

func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}
