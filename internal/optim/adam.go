// Package optim implements the Adam update rule (Kingma & Ba, 2014).
package optim

import (
	"fmt"
	"math"

	"fashion-forge/internal/config"
)

// Literature defaults for the moment decay rates and epsilon.
const (
	DefaultBeta1   = 0.9
	DefaultBeta2   = 0.999
	DefaultEpsilon = 1e-8
)

// Adam keeps first and second moment estimates for every parameter tensor.
// The buffers are allocated once and live for the whole run.
type Adam struct {
	lr      float64
	beta1   float64
	beta2   float64
	epsilon float64
	t       int
	m       [][]float64
	v       [][]float64
}

// NewAdam allocates moment buffers for tensors of the given lengths.
func NewAdam(cfg config.Config, sizes []int) *Adam {
	a := &Adam{
		lr:      cfg.LearningRate,
		beta1:   DefaultBeta1,
		beta2:   DefaultBeta2,
		epsilon: DefaultEpsilon,
		m:       make([][]float64, len(sizes)),
		v:       make([][]float64, len(sizes)),
	}
	for i, n := range sizes {
		a.m[i] = make([]float64, n)
		a.v[i] = make([]float64, n)
	}
	return a
}

// Sizes returns the lengths of a set of tensors, for NewAdam.
func Sizes(tensors [][]float64) []int {
	out := make([]int, len(tensors))
	for i, p := range tensors {
		out[i] = len(p)
	}
	return out
}

// Steps reports how many updates have been applied.
func (a *Adam) Steps() int {
	return a.t
}

// Step applies one bias-corrected update to params in place.
func (a *Adam) Step(params, grads [][]float64) error {
	if len(params) != len(a.m) || len(grads) != len(a.m) {
		return fmt.Errorf("optim: got %d params and %d grads, state holds %d tensors", len(params), len(grads), len(a.m))
	}
	for i := range params {
		if len(params[i]) != len(a.m[i]) || len(grads[i]) != len(a.m[i]) {
			return fmt.Errorf("optim: tensor %d has %d values and %d grads, want %d", i, len(params[i]), len(grads[i]), len(a.m[i]))
		}
	}

	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, p := range params {
		m, v, g := a.m[i], a.v[i], grads[i]
		for j := range p {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g[j]
			v[j] = a.beta2*v[j] + (1-a.beta2)*g[j]*g[j]
			p[j] -= a.lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + a.epsilon)
		}
	}
	return nil
}
