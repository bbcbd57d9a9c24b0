package explain

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ridgeAttributor is the linear fallback: a ridge regression on centered
// inputs, attributing coef * (x - mean) per raw feature column.
type ridgeAttributor struct {
	alpha        float64
	featureWidth int
}

func (r *ridgeAttributor) FitAttribute(xTrain *mat.Dense, ySoft []float64, xAll *mat.Dense) (*mat.Dense, error) {
	nTrain, d := xTrain.Dims()
	if nTrain == 0 || nTrain != len(ySoft) {
		return nil, fmt.Errorf("explain: %d surrogate rows for %d targets", nTrain, len(ySoft))
	}
	nAll, dAll := xAll.Dims()
	if dAll != d {
		return nil, fmt.Errorf("explain: train has %d columns, scoring set has %d", d, dAll)
	}

	means := make([]float64, d)
	for j := 0; j < d; j++ {
		for i := 0; i < nTrain; i++ {
			means[j] += xTrain.At(i, j)
		}
		means[j] /= float64(nTrain)
	}
	var yBar float64
	for _, v := range ySoft {
		yBar += v
	}
	yBar /= float64(nTrain)

	z := mat.NewDense(nTrain, d, nil)
	for i := 0; i < nTrain; i++ {
		for j := 0; j < d; j++ {
			z.Set(i, j, xTrain.At(i, j)-means[j])
		}
	}
	yc := mat.NewVecDense(nTrain, nil)
	for i, v := range ySoft {
		yc.SetVec(i, v-yBar)
	}

	var gram mat.Dense
	gram.Mul(z.T(), z)
	for j := 0; j < d; j++ {
		gram.Set(j, j, gram.At(j, j)+r.alpha)
	}
	var zty mat.VecDense
	zty.MulVec(z.T(), yc)

	var beta mat.VecDense
	if err := beta.SolveVec(&gram, &zty); err != nil {
		return nil, fmt.Errorf("explain: solve ridge system: %w", err)
	}

	out := mat.NewDense(nAll, r.featureWidth, nil)
	for i := 0; i < nAll; i++ {
		for j := 0; j < r.featureWidth; j++ {
			out.Set(i, j, beta.AtVec(j)*(xAll.At(i, j)-means[j]))
		}
	}
	return out, nil
}
