// Package label converts between integer class labels and indicator rows.
package label

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrLabelRange is returned when a label falls outside [0, nClass).
var ErrLabelRange = errors.New("label: value out of range")

// OneHot returns an N×nClass matrix with a single 1 per row at labels[i].
func OneHot(nClass int, labels []int) (*mat.Dense, error) {
	if nClass <= 0 {
		return nil, fmt.Errorf("label: class count must be > 0 (got %d)", nClass)
	}
	if len(labels) == 0 {
		return nil, errors.New("label: no labels to encode")
	}
	out := mat.NewDense(len(labels), nClass, nil)
	for i, y := range labels {
		if y < 0 || y >= nClass {
			return nil, fmt.Errorf("%w: labels[%d]=%d, want [0, %d)", ErrLabelRange, i, y, nClass)
		}
		out.Set(i, y, 1)
	}
	return out, nil
}

// Argmax returns the column of the largest value in each row. Ties resolve
// to the lowest column.
func Argmax(m mat.Matrix) []int {
	r, c := m.Dims()
	out := make([]int, r)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, m)
		out[i] = floats.MaxIdx(row)
	}
	return out
}
