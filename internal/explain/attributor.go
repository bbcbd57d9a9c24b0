// Package explain produces per-entity feature attributions for the graph
// classifier's scores, plus the case narratives built on top of them.
//
// The classifier itself stays a black box. A surrogate model is fitted to
// its output probabilities over the concatenation of raw features and
// graph embeddings, and attributions are read off the surrogate. Three
// strategies are available, in decreasing order of fidelity.
package explain

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Strategy names accepted by New. StrategyAuto resolves to the
// highest-fidelity tier.
const (
	StrategyAuto         = "auto"
	StrategyBoostedPath  = "boosted-path"
	StrategyBoostedDelta = "boosted-perturb"
	StrategyRidge        = "ridge"
)

// Attributor fits a surrogate to the classifier's soft scores and returns
// one attribution row per row of xAll. Columns align with the raw feature
// columns; embedding columns in the input are used for fitting but never
// attributed.
type Attributor interface {
	FitAttribute(xTrain *mat.Dense, ySoft []float64, xAll *mat.Dense) (*mat.Dense, error)
}

// New selects an attribution strategy. featureWidth is the number of
// leading columns of the input that correspond to raw features.
func New(strategy string, featureWidth int, seed int64) (Attributor, error) {
	switch strategy {
	case StrategyAuto, StrategyBoostedPath, "":
		return &boostedAttributor{cfg: defaultBoostConfig(), featureWidth: featureWidth, seed: seed, perturb: false}, nil
	case StrategyBoostedDelta:
		return &boostedAttributor{cfg: defaultBoostConfig(), featureWidth: featureWidth, seed: seed, perturb: true}, nil
	case StrategyRidge:
		return &ridgeAttributor{alpha: 1.0, featureWidth: featureWidth}, nil
	default:
		return nil, fmt.Errorf("unknown explainer strategy %q", strategy)
	}
}
