// Package loss implements the mean softmax cross-entropy used for training
// and validation.
package loss

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrShape is returned when logits and labels disagree on dimensions.
var ErrShape = errors.New("loss: shape mismatch")

// SoftmaxCrossEntropy returns the mean over rows of -Σ y·log softmax(z).
// log softmax is evaluated as z - logsumexp(z), never as log(softmax(z)).
func SoftmaxCrossEntropy(logits, labels mat.Matrix) (float64, error) {
	total, _, err := crossEntropy(logits, labels, false)
	return total, err
}

// SoftmaxCrossEntropyGrad returns the mean loss together with its gradient
// with respect to the logits, (softmax(z) - y) / B.
func SoftmaxCrossEntropyGrad(logits, labels mat.Matrix) (float64, *mat.Dense, error) {
	return crossEntropy(logits, labels, true)
}

func crossEntropy(logits, labels mat.Matrix, withGrad bool) (float64, *mat.Dense, error) {
	r, c := logits.Dims()
	lr, lc := labels.Dims()
	if r != lr || c != lc {
		return 0, nil, fmt.Errorf("%w: logits %dx%d, labels %dx%d", ErrShape, r, c, lr, lc)
	}
	if r == 0 || c == 0 {
		return 0, nil, fmt.Errorf("%w: empty logits %dx%d", ErrShape, r, c)
	}

	var grad *mat.Dense
	if withGrad {
		grad = mat.NewDense(r, c, nil)
	}
	z := make([]float64, c)
	y := make([]float64, c)
	invB := 1 / float64(r)
	total := 0.0
	for i := 0; i < r; i++ {
		mat.Row(z, i, logits)
		mat.Row(y, i, labels)
		lse := floats.LogSumExp(z)
		for j := range z {
			if y[j] != 0 {
				total -= y[j] * (z[j] - lse)
			}
			if withGrad {
				grad.Set(i, j, (math.Exp(z[j]-lse)-y[j])*invB)
			}
		}
	}
	return total * invB, grad, nil
}
