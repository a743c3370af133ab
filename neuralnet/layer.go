package neuralnet

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Gradients holds the loss gradient with respect to one layer's parameters.
type Gradients struct {
	Weights *mat.Dense
	Bias    *mat.VecDense
}

// NewGradients returns zeroed gradients shaped like a layer with the given
// dimensions.
func NewGradients(outputDim, inputDim int) *Gradients {
	return &Gradients{
		Weights: mat.NewDense(outputDim, inputDim, nil),
		Bias:    mat.NewVecDense(outputDim, nil),
	}
}

// Add accumulates other into g elementwise.
func (g *Gradients) Add(other *Gradients) {
	floats.Add(g.Weights.RawMatrix().Data, other.Weights.RawMatrix().Data)
	floats.Add(g.Bias.RawVector().Data, other.Bias.RawVector().Data)
}

// Scale multiplies every gradient entry by c.
func (g *Gradients) Scale(c float64) {
	floats.Scale(c, g.Weights.RawMatrix().Data)
	floats.Scale(c, g.Bias.RawVector().Data)
}

// SumSquares is the sum of squared weight and bias gradient entries.
func (g *Gradients) SumSquares() float64 {
	w := g.Weights.RawMatrix().Data
	b := g.Bias.RawVector().Data
	return floats.Dot(w, w) + floats.Dot(b, b)
}

type forwardCache struct {
	input         *mat.VecDense
	preactivation *mat.VecDense
	output        *mat.VecDense
}

// Layer is a fully-connected layer: output = activation(W·x + b).
//
// The forward cache holds exactly one sample and is consumed by the paired
// Backward call, so a Layer is neither reentrant nor batch-safe on its own.
type Layer struct {
	weights     *mat.Dense
	bias        *mat.VecDense
	activation  ActivationFunction
	initializer WeightInitializer
	useBias     bool
	cache       *forwardCache
}

func NewLayer(inputDim, outputDim int, activation ActivationFunction, init WeightInitializer, useBias bool) (*Layer, error) {
	if inputDim <= 0 {
		return nil, ErrMissingInputDim
	}
	if outputDim <= 0 {
		return nil, fmt.Errorf("%w: output dimension %d", ErrInvalidConfig, outputDim)
	}
	if activation == nil {
		activation = Tanh{}
	}
	if init == nil {
		init = ZeroInit{}
	}
	l := &Layer{
		activation:  activation,
		initializer: init,
		useBias:     useBias,
	}
	l.weights = init.Initialize(inputDim, outputDim)
	l.bias = mat.NewVecDense(outputDim, nil)
	return l, nil
}

func (l *Layer) InputDim() int {
	_, c := l.weights.Dims()
	return c
}

func (l *Layer) OutputDim() int {
	r, _ := l.weights.Dims()
	return r
}

// Weights returns the live weight matrix.
func (l *Layer) Weights() *mat.Dense { return l.weights }

// Bias returns the live bias vector. It stays allocated when the layer has
// no bias and is then ignored by Forward.
func (l *Layer) Bias() *mat.VecDense { return l.bias }

func (l *Layer) UseBias() bool { return l.useBias }

func (l *Layer) Activation() ActivationFunction { return l.activation }

func (l *Layer) Initializer() WeightInitializer { return l.initializer }

// Forward computes the layer output and caches the sample for Backward.
func (l *Layer) Forward(x *mat.VecDense) (*mat.VecDense, error) {
	z, out, err := l.compute(x)
	if err != nil {
		return nil, err
	}
	l.cache = &forwardCache{
		input:         mat.VecDenseCopyOf(x),
		preactivation: z,
		output:        out,
	}
	return out, nil
}

func (l *Layer) compute(x *mat.VecDense) (z, out *mat.VecDense, err error) {
	if x.Len() != l.InputDim() {
		return nil, nil, fmt.Errorf("%w: layer expects %d inputs, got %d", ErrDimensionMismatch, l.InputDim(), x.Len())
	}
	z = mat.NewVecDense(l.OutputDim(), nil)
	z.MulVec(l.weights, x)
	if l.useBias {
		z.AddVec(z, l.bias)
	}
	return z, activateVec(l.activation, z), nil
}

// Backward computes single-sample, unaveraged parameter gradients and the
// gradient with respect to the layer input. It consumes the forward cache.
func (l *Layer) Backward(dOutput *mat.VecDense) (*Gradients, *mat.VecDense, error) {
	if l.cache == nil {
		return nil, nil, ErrNoForwardCache
	}
	if dOutput.Len() != l.OutputDim() {
		return nil, nil, fmt.Errorf("%w: layer produces %d outputs, got gradient of %d", ErrDimensionMismatch, l.OutputDim(), dOutput.Len())
	}
	cache := l.cache
	l.cache = nil

	dZ := mat.NewVecDense(l.OutputDim(), nil)
	dZ.MulElemVec(dOutput, derivativeVec(l.activation, cache.preactivation))

	grads := NewGradients(l.OutputDim(), l.InputDim())
	grads.Weights.Outer(1, dZ, cache.input)
	if l.useBias {
		grads.Bias.CopyVec(dZ)
	}

	dInput := mat.NewVecDense(l.InputDim(), nil)
	dInput.MulVec(l.weights.T(), dZ)
	return grads, dInput, nil
}

// ReinitializeWeights draws fresh weights and zeroes the bias. A nil
// initializer reuses the layer's current one. Optimizer state belonging to
// the layer is not touched.
func (l *Layer) ReinitializeWeights(init WeightInitializer) {
	if init != nil {
		l.initializer = init
	}
	l.weights = l.initializer.Initialize(l.InputDim(), l.OutputDim())
	l.bias.Zero()
	l.cache = nil
}

func (l *Layer) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Dense %d -> %d (%s, init=%s, bias=%t)\n",
		l.InputDim(), l.OutputDim(), l.activation.Name(), l.initializer.Name(), l.useBias))
	sb.WriteString(fmt.Sprintf("Weights: %v\n", mat.Formatted(l.weights, mat.Prefix("         "), mat.Squeeze())))
	sb.WriteString(fmt.Sprintf("Bias: %v", l.bias.RawVector().Data))
	return sb.String()
}
