package baseline

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Logistic is an L2-regularized logistic regression with balanced class
// weights. Features are standardized internally so regularization treats
// every column equally.
type Logistic struct {
	C       float64
	MaxIter int
	LR      float64

	coef      []float64
	intercept float64
	mean      []float64
	std       []float64
}

// NewLogistic returns a model with the production hyperparameters.
func NewLogistic() *Logistic {
	return &Logistic{C: 0.5, MaxIter: 500, LR: 0.1}
}

// Fit trains on the given rows with full-batch gradient descent.
func (l *Logistic) Fit(x *mat.Dense, y []int) {
	n, d := x.Dims()
	l.mean = make([]float64, d)
	l.std = make([]float64, d)
	for j := 0; j < d; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += x.At(i, j)
		}
		l.mean[j] = sum / float64(n)
		var sq float64
		for i := 0; i < n; i++ {
			dv := x.At(i, j) - l.mean[j]
			sq += dv * dv
		}
		l.std[j] = math.Sqrt(sq / float64(n))
		if l.std[j] == 0 {
			l.std[j] = 1
		}
	}

	z := make([][]float64, n)
	for i := 0; i < n; i++ {
		z[i] = make([]float64, d)
		for j := 0; j < d; j++ {
			z[i][j] = (x.At(i, j) - l.mean[j]) / l.std[j]
		}
	}

	// Balanced class weights: n / (2 * count(class)).
	var pos float64
	for _, yi := range y {
		pos += float64(yi)
	}
	neg := float64(n) - pos
	w := [2]float64{1, 1}
	if pos > 0 && neg > 0 {
		w = [2]float64{float64(n) / (2 * neg), float64(n) / (2 * pos)}
	}
	var totalW float64
	for _, yi := range y {
		totalW += w[yi]
	}

	l.coef = make([]float64, d)
	l.intercept = 0
	lambda := 1 / (l.C * totalW)

	for iter := 0; iter < l.MaxIter; iter++ {
		grad := make([]float64, d)
		var gradB float64
		for i := 0; i < n; i++ {
			m := l.intercept
			for j := 0; j < d; j++ {
				m += l.coef[j] * z[i][j]
			}
			err := w[y[i]] * (sigmoid(m) - float64(y[i])) / totalW
			for j := 0; j < d; j++ {
				grad[j] += err * z[i][j]
			}
			gradB += err
		}
		for j := 0; j < d; j++ {
			l.coef[j] -= l.LR * (grad[j] + lambda*l.coef[j])
		}
		l.intercept -= l.LR * gradB
	}
}

// Predict returns P(positive) per row.
func (l *Logistic) Predict(x *mat.Dense) []float64 {
	n, d := x.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		m := l.intercept
		for j := 0; j < d; j++ {
			m += l.coef[j] * (x.At(i, j) - l.mean[j]) / l.std[j]
		}
		out[i] = sigmoid(m)
	}
	return out
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
