// Package trainer fits the graph classifier with full-batch gradient
// descent: weighted cross-entropy over the train split, Adam with cosine
// annealing, and periodic validation with best-checkpoint restore.
package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/gnn"
	"github.com/opensource-finance/harrier/internal/graph"
)

const (
	maxGradNorm  = 1.0
	evalInterval = 10
)

// Config controls one training run.
type Config struct {
	Model          string
	HiddenChannels int
	Dropout        float64
	LearningRate   float64
	WeightDecay    float64
	Epochs         int
	Seed           int64
}

// Result carries the fitted model's outputs for every node plus held-out
// test metrics.
type Result struct {
	Probs      []float64 // P(suspicious) per node
	Embeddings *mat.Dense
	Metrics    domain.ModelMetrics
	PRCurve    domain.PRCurve
	BestValF1  float64

	// Split indices, exposed so the baselines are scored against the
	// same held-out nodes.
	TrainIdx []int
	ValIdx   []int
	TestIdx  []int
}

// Train fits a classifier on the node features and edge structure. Labels
// are 0/1 per node, aligned with the rows of x.
func Train(ctx context.Context, x *mat.Dense, g *graph.Graph, labels []int, cfg Config, logger *slog.Logger) (*Result, error) {
	n, inDim := x.Dims()
	if n == 0 || n != len(labels) {
		return nil, fmt.Errorf("trainer: %d feature rows for %d labels", n, len(labels))
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	model, err := gnn.NewModel(cfg.Model, inDim, cfg.HiddenChannels, cfg.Dropout, rng)
	if err != nil {
		return nil, err
	}

	trainIdx, valIdx, testIdx := Split(labels, rng)
	weights := classWeights(labels, trainIdx)
	params := model.Params()
	opt := gnn.NewAdam(params, cfg.WeightDecay)

	logger.Info("training started",
		"model", cfg.Model,
		"nodes", n,
		"edges", g.NumEdges(),
		"epochs", cfg.Epochs,
		"trainNodes", len(trainIdx),
		"positiveWeight", weights[1])

	bestValF1 := 0.0
	var bestState []*mat.Dense
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lr := cfg.LearningRate * (1 + math.Cos(math.Pi*float64(epoch)/float64(cfg.Epochs))) / 2

		logits := model.Forward(x, g, true)
		loss, dLogits := weightedCrossEntropy(logits, labels, trainIdx, weights)
		gnn.ZeroGrads(params)
		model.Backward(dLogits)
		gnn.ClipGradNorm(params, maxGradNorm)
		opt.Step(params, lr)

		if (epoch+1)%evalInterval == 0 || epoch == cfg.Epochs-1 {
			valF1 := splitF1(model, x, g, labels, valIdx)
			logger.Debug("training checkpoint",
				"epoch", epoch+1, "loss", loss, "lr", lr, "valF1", valF1)
			if valF1 > bestValF1 || bestState == nil {
				bestValF1 = valF1
				bestState = model.State()
			}
		}
	}
	if bestState != nil {
		model.Restore(bestState)
	}

	probs := predictProbs(model, x, g)
	testTrue := make([]int, len(testIdx))
	testScores := make([]float64, len(testIdx))
	for i, idx := range testIdx {
		testTrue[i] = labels[idx]
		testScores[i] = probs[idx]
	}
	res := &Result{
		Probs:      probs,
		Embeddings: model.Embed(x, g),
		Metrics:    Evaluate(testTrue, testScores),
		PRCurve:    PRPoints(testTrue, testScores),
		BestValF1:  bestValF1,
		TrainIdx:   trainIdx,
		ValIdx:     valIdx,
		TestIdx:    testIdx,
	}

	logger.Info("training finished",
		"bestValF1", bestValF1,
		"testPrecision", res.Metrics.Precision,
		"testRecall", res.Metrics.Recall,
		"testF1", res.Metrics.F1)
	return res, nil
}

// classWeights balances the loss by weighting the positive class with the
// train-split negative/positive ratio.
func classWeights(labels []int, trainIdx []int) [2]float64 {
	var pos, neg float64
	for _, i := range trainIdx {
		if labels[i] == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 {
		pos = 1
	}
	return [2]float64{1, neg / pos}
}

// weightedCrossEntropy returns the mean weighted loss over the masked
// nodes and the gradient with respect to the logits. Rows outside the mask
// get a zero gradient.
func weightedCrossEntropy(logits *mat.Dense, labels []int, mask []int, w [2]float64) (float64, *mat.Dense) {
	n, c := logits.Dims()
	dLogits := mat.NewDense(n, c, nil)

	var totalW, loss float64
	for _, i := range mask {
		totalW += w[labels[i]]
	}
	if totalW == 0 {
		return 0, dLogits
	}

	for _, i := range mask {
		probs := softmaxRow(logits.RawRowView(i))
		y := labels[i]
		loss += -w[y] * math.Log(probs[y]+1e-12)
		for j := 0; j < c; j++ {
			grad := probs[j]
			if j == y {
				grad -= 1
			}
			dLogits.Set(i, j, w[y]*grad/totalW)
		}
	}
	return loss / totalW, dLogits
}

func softmaxRow(row []float64) []float64 {
	maxv := row[0]
	for _, v := range row[1:] {
		if v > maxv {
			maxv = v
		}
	}
	out := make([]float64, len(row))
	var sum float64
	for i, v := range row {
		out[i] = math.Exp(v - maxv)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// predictProbs runs an eval-mode forward pass and returns P(class 1) per node.
func predictProbs(model gnn.Model, x *mat.Dense, g *graph.Graph) []float64 {
	logits := model.Forward(x, g, false)
	n, _ := logits.Dims()
	probs := make([]float64, n)
	for i := 0; i < n; i++ {
		probs[i] = softmaxRow(logits.RawRowView(i))[1]
	}
	return probs
}

func splitF1(model gnn.Model, x *mat.Dense, g *graph.Graph, labels []int, idx []int) float64 {
	probs := predictProbs(model, x, g)
	yTrue := make([]int, len(idx))
	yPred := make([]int, len(idx))
	for i, node := range idx {
		yTrue[i] = labels[node]
		if probs[node] >= 0.5 {
			yPred[i] = 1
		}
	}
	_, _, f1 := PrecisionRecallF1(yTrue, yPred)
	return f1
}
