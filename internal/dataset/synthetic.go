package dataset

import (
	"context"
	"errors"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// SyntheticProvider generates uniform random pixels and uniformly drawn
// labels. It exists for smoke runs and tests; nothing about it is learnable.
type SyntheticProvider struct {
	Train, Val, Test int
	Inputs           int
	Classes          int
	Seed             int64
}

// NewSynthetic splits total examples 70/15/15 over train, val and test.
func NewSynthetic(total, inputs, classes int, seed int64) SyntheticProvider {
	val := total * 15 / 100
	if val == 0 {
		val = 1
	}
	return SyntheticProvider{
		Train:   total - 2*val,
		Val:     val,
		Test:    val,
		Inputs:  inputs,
		Classes: classes,
		Seed:    seed,
	}
}

// Load implements Provider.
func (p SyntheticProvider) Load(ctx context.Context) (Splits, error) {
	if p.Train <= 0 || p.Val <= 0 || p.Test <= 0 {
		return Splits{}, errors.New("dataset: synthetic split sizes must be > 0")
	}
	if p.Inputs <= 0 || p.Classes <= 0 {
		return Splits{}, errors.New("dataset: synthetic inputs and classes must be > 0")
	}
	if err := ctx.Err(); err != nil {
		return Splits{}, err
	}
	rng := rand.New(rand.NewSource(p.Seed))
	return Splits{
		Train: p.generate(rng, p.Train),
		Val:   p.generate(rng, p.Val),
		Test:  p.generate(rng, p.Test),
	}, nil
}

func (p SyntheticProvider) generate(rng *rand.Rand, n int) Split {
	data := make([]float64, n*p.Inputs)
	for i := range data {
		data[i] = rng.Float64()
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = rng.Intn(p.Classes)
	}
	return Split{Images: mat.NewDense(n, p.Inputs, data), Labels: labels}
}
