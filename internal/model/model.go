package model

import "gonum.org/v1/gonum/mat"

// Classifier maps a batch of input rows to per-class scores.
type Classifier interface {
	Forward(x mat.Matrix) (*mat.Dense, error)
}
