package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"fashion-forge/internal/config"
)

// ErrShape is returned when a batch does not match the layer widths.
var ErrShape = errors.New("model: shape mismatch")

const numLayers = 3

// Layer is one affine transform x·W + b.
type Layer struct {
	W *mat.Dense
	B []float64
}

// MLP is a three-layer perceptron: ReLU, ReLU, then raw logits.
type MLP struct {
	nInput int
	nClass int
	layers [numLayers]Layer
}

// Activations holds what Backward needs from a forward pass.
type Activations struct {
	input  mat.Matrix
	hidden [numLayers - 1]*mat.Dense
}

// Grads mirrors the parameter layout of an MLP.
type Grads struct {
	W [numLayers]*mat.Dense
	B [numLayers][]float64
}

// New allocates the parameters: Xavier-uniform weights and zero biases,
// drawn from a source seeded with cfg.Seed.
func New(cfg config.Config) *MLP {
	rng := rand.New(rand.NewSource(cfg.Seed))
	widths := []int{cfg.NInput, cfg.NHidden1, cfg.NHidden2, cfg.NClass}
	m := &MLP{nInput: cfg.NInput, nClass: cfg.NClass}
	for i := range m.layers {
		fanIn, fanOut := widths[i], widths[i+1]
		m.layers[i] = Layer{
			W: xavierUniform(rng, fanIn, fanOut),
			B: make([]float64, fanOut),
		}
	}
	return m
}

func xavierUniform(rng *rand.Rand, fanIn, fanOut int) *mat.Dense {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	data := make([]float64, fanIn*fanOut)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return mat.NewDense(fanIn, fanOut, data)
}

// Layers exposes the layers in input-to-output order.
func (m *MLP) Layers() []Layer {
	return m.layers[:]
}

// NumParams counts every weight and bias.
func (m *MLP) NumParams() int {
	n := 0
	for _, p := range m.Parameters() {
		n += len(p)
	}
	return n
}

// Parameters returns flat views over W1, b1, W2, b2, W3, b3. Writes through
// the returned slices update the model.
func (m *MLP) Parameters() [][]float64 {
	out := make([][]float64, 0, 2*numLayers)
	for _, l := range m.layers {
		out = append(out, l.W.RawMatrix().Data, l.B)
	}
	return out
}

// Slices returns flat views in the same order as MLP.Parameters.
func (g *Grads) Slices() [][]float64 {
	out := make([][]float64, 0, 2*numLayers)
	for i := range g.W {
		out = append(out, g.W[i].RawMatrix().Data, g.B[i])
	}
	return out
}

// Forward returns the B×n_class logits for a batch of B input rows.
func (m *MLP) Forward(x mat.Matrix) (*mat.Dense, error) {
	logits, _, err := m.ForwardTrace(x)
	return logits, err
}

// ForwardTrace is Forward that also keeps the hidden activations.
func (m *MLP) ForwardTrace(x mat.Matrix) (*mat.Dense, *Activations, error) {
	r, c := x.Dims()
	if c != m.nInput {
		return nil, nil, fmt.Errorf("%w: batch is %dx%d, want %dx%d", ErrShape, r, c, r, m.nInput)
	}
	if r == 0 {
		return nil, nil, fmt.Errorf("%w: empty batch", ErrShape)
	}

	act := &Activations{input: x}
	var in mat.Matrix = x
	for i := 0; i < numLayers-1; i++ {
		h := m.layers[i].apply(in)
		relu(h)
		act.hidden[i] = h
		in = h
	}
	return m.layers[numLayers-1].apply(in), act, nil
}

func (l Layer) apply(x mat.Matrix) *mat.Dense {
	var z mat.Dense
	z.Mul(x, l.W)
	r, _ := z.Dims()
	for i := 0; i < r; i++ {
		floats.Add(z.RawRowView(i), l.B)
	}
	return &z
}

func relu(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j, v := range row {
			if v < 0 {
				row[j] = 0
			}
		}
	}
}

// Backward propagates dLogits (∂loss/∂logits) back through the network and
// returns the gradient for every parameter. It does not touch the model.
func (m *MLP) Backward(act *Activations, dLogits mat.Matrix) (*Grads, error) {
	if act == nil {
		return nil, errors.New("model: backward without forward activations")
	}
	r, c := dLogits.Dims()
	br, _ := act.input.Dims()
	if r != br || c != m.nClass {
		return nil, fmt.Errorf("%w: upstream gradient %dx%d, want %dx%d", ErrShape, r, c, br, m.nClass)
	}

	g := &Grads{}
	var delta mat.Matrix = dLogits
	for i := numLayers - 1; i >= 0; i-- {
		var prev mat.Matrix = act.input
		if i > 0 {
			prev = act.hidden[i-1]
		}
		g.W[i] = &mat.Dense{}
		g.W[i].Mul(prev.T(), delta)
		g.B[i] = columnSums(delta)
		if i == 0 {
			break
		}
		var d mat.Dense
		d.Mul(delta, m.layers[i].W.T())
		maskInactive(&d, act.hidden[i-1])
		delta = &d
	}
	return g, nil
}

func columnSums(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, m)
		out[j] = floats.Sum(col)
	}
	return out
}

// maskInactive zeroes d wherever the ReLU output was clamped.
func maskInactive(d, out *mat.Dense) {
	r, _ := d.Dims()
	for i := 0; i < r; i++ {
		drow, orow := d.RawRowView(i), out.RawRowView(i)
		for j := range drow {
			if orow[j] <= 0 {
				drow[j] = 0
			}
		}
	}
}
