// Package dataset supplies the train, validation and test splits consumed by
// the trainer. Images are flattened rows of pixel intensities in [0, 1].
package dataset

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ImageSide is the width and height of every image.
const ImageSide = 28

// ImageSize is the length of a flattened image row.
const ImageSize = ImageSide * ImageSide

// NumClasses is the number of Fashion-MNIST categories.
const NumClasses = 10

// Split is a set of images (one per row) and their integer labels.
type Split struct {
	Images *mat.Dense
	Labels []int
}

// Splits is the full train/validation/test partition.
type Splits struct {
	Train Split
	Val   Split
	Test  Split
}

// Provider loads a complete partition.
type Provider interface {
	Load(ctx context.Context) (Splits, error)
}

// Len returns the number of examples.
func (s Split) Len() int {
	return len(s.Labels)
}

// Slice returns rows [lo, hi) without copying.
func (s Split) Slice(lo, hi int) Split {
	_, c := s.Images.Dims()
	return Split{
		Images: s.Images.Slice(lo, hi, 0, c).(*mat.Dense),
		Labels: s.Labels[lo:hi],
	}
}

// Check reports inconsistent row counts, a wrong feature width or labels
// outside [0, nClass).
func (s Split) Check(nInput, nClass int) error {
	if s.Images == nil {
		return fmt.Errorf("dataset: split has no images")
	}
	r, c := s.Images.Dims()
	if r != len(s.Labels) {
		return fmt.Errorf("dataset: %d image rows but %d labels", r, len(s.Labels))
	}
	if c != nInput {
		return fmt.Errorf("dataset: images are %dx%d, want width %d", r, c, nInput)
	}
	for i, y := range s.Labels {
		if y < 0 || y >= nClass {
			return fmt.Errorf("dataset: labels[%d]=%d outside [0, %d)", i, y, nClass)
		}
	}
	return nil
}

// Check validates every split; none may be empty.
func (s Splits) Check(nInput, nClass int) error {
	for _, part := range []struct {
		name  string
		split Split
	}{{"train", s.Train}, {"val", s.Val}, {"test", s.Test}} {
		if part.split.Len() == 0 {
			return fmt.Errorf("dataset: %s split is empty", part.name)
		}
		if err := part.split.Check(nInput, nClass); err != nil {
			return fmt.Errorf("%s: %w", part.name, err)
		}
	}
	return nil
}

// HoldOut moves the last n rows of s into a second split.
func HoldOut(s Split, n int) (Split, Split, error) {
	total := s.Len()
	if n <= 0 || n >= total {
		return Split{}, Split{}, fmt.Errorf("dataset: cannot hold out %d of %d examples", n, total)
	}
	return s.Slice(0, total-n), s.Slice(total-n, total), nil
}

func fromRows(rows [][]float64, labels []int, width int) Split {
	images := mat.NewDense(len(rows), width, nil)
	for i, row := range rows {
		images.SetRow(i, row)
	}
	return Split{Images: images, Labels: labels}
}
