package trainer

import (
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Evaluate computes threshold-0.5 classification metrics for the positive
// class, plus rank-based ROC-AUC when both classes are present.
func Evaluate(yTrue []int, scores []float64) domain.ModelMetrics {
	pred := make([]int, len(scores))
	for i, s := range scores {
		if s >= 0.5 {
			pred[i] = 1
		}
	}
	p, r, f1 := PrecisionRecallF1(yTrue, pred)
	return domain.ModelMetrics{
		Precision: p,
		Recall:    r,
		F1:        f1,
		ROCAUC:    ROCAUC(yTrue, scores),
	}
}

// PrecisionRecallF1 scores binary predictions for the positive class.
// Undefined ratios (no predicted or no actual positives) score zero.
func PrecisionRecallF1(yTrue, yPred []int) (precision, recall, f1 float64) {
	var tp, fp, fn float64
	for i := range yTrue {
		switch {
		case yPred[i] == 1 && yTrue[i] == 1:
			tp++
		case yPred[i] == 1 && yTrue[i] == 0:
			fp++
		case yPred[i] == 0 && yTrue[i] == 1:
			fn++
		}
	}
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}

// ROCAUC computes the area under the ROC curve via the rank-sum identity,
// with midranks for tied scores. Returns 0 when only one class is present.
func ROCAUC(yTrue []int, scores []float64) float64 {
	n := len(yTrue)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && scores[order[j]] == scores[order[i]] {
			j++
		}
		// Tied scores share the mean of their rank range.
		mid := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[order[k]] = mid
		}
		i = j
	}

	var pos, rankSum float64
	for i, y := range yTrue {
		if y == 1 {
			pos++
			rankSum += ranks[i]
		}
	}
	neg := float64(n) - pos
	if pos == 0 || neg == 0 {
		return 0
	}
	return (rankSum - pos*(pos+1)/2) / (pos * neg)
}

// PRPoints builds a precision-recall curve by sweeping thresholds across
// the distinct scores from highest to lowest, closing with the (1, 0)
// endpoint. The two sequences stay the same length.
func PRPoints(yTrue []int, scores []float64) domain.PRCurve {
	n := len(yTrue)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	var totalPos float64
	for _, y := range yTrue {
		totalPos += float64(y)
	}

	curve := domain.PRCurve{}
	var tp, fp float64
	for i := 0; i < n; {
		j := i
		for j < n && scores[order[j]] == scores[order[i]] {
			tp += float64(yTrue[order[j]])
			fp += 1 - float64(yTrue[order[j]])
			j++
		}
		precision := 1.0
		if tp+fp > 0 {
			precision = tp / (tp + fp)
		}
		recall := 0.0
		if totalPos > 0 {
			recall = tp / totalPos
		}
		curve.Precision = append(curve.Precision, precision)
		curve.Recall = append(curve.Recall, recall)
		i = j
	}
	curve.Precision = append(curve.Precision, 1)
	curve.Recall = append(curve.Recall, 0)
	return curve
}
