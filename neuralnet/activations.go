package neuralnet

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ActivationFunction is an elementwise nonlinearity applied after a layer's
// affine transform. Derivative takes the preactivation value.
type ActivationFunction interface {
	Activate(x float64) float64
	Derivative(x float64) float64
	Name() string
}

const sigmoidClamp = 500.0

type ReLU struct{}

func (r ReLU) Activate(x float64) float64 {
	return math.Max(x, 0)
}

func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

func (r ReLU) Name() string { return "relu" }

type LeakyReLU struct {
	alpha float64
}

func NewLeakyReLU(alpha float64) LeakyReLU {
	return LeakyReLU{alpha: alpha}
}

func (l LeakyReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return l.alpha * x
}

func (l LeakyReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return l.alpha
}

func (l LeakyReLU) Name() string { return "leaky_relu" }

// Sigmoid clamps its input to [-500, 500] so exp never overflows.
type Sigmoid struct{}

func (s Sigmoid) Activate(x float64) float64 {
	if x > sigmoidClamp {
		x = sigmoidClamp
	} else if x < -sigmoidClamp {
		x = -sigmoidClamp
	}
	return 1 / (1 + math.Exp(-x))
}

func (s Sigmoid) Derivative(x float64) float64 {
	sigmoid := s.Activate(x)
	return sigmoid * (1 - sigmoid)
}

func (s Sigmoid) Name() string { return "sigmoid" }

type Tanh struct{}

func (t Tanh) Activate(x float64) float64 {
	return math.Tanh(x)
}

func (t Tanh) Derivative(x float64) float64 {
	tanh := t.Activate(x)
	return 1 - tanh*tanh
}

func (t Tanh) Name() string { return "tanh" }

type Linear struct{}

func (t Linear) Activate(x float64) float64 {
	return x
}

func (t Linear) Derivative(x float64) float64 {
	return 1
}

func (t Linear) Name() string { return "linear" }

// NewActivation resolves an activation by name. Names come from free-form
// UI selections, so anything unrecognised falls back to Tanh.
func NewActivation(name string) ActivationFunction {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "relu":
		return ReLU{}
	case "leaky_relu", "leakyrelu":
		return NewLeakyReLU(0.01)
	case "sigmoid":
		return Sigmoid{}
	case "tanh":
		return Tanh{}
	case "linear", "identity":
		return Linear{}
	default:
		return Tanh{}
	}
}

func activateVec(a ActivationFunction, z *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(z.Len(), nil)
	for i := 0; i < z.Len(); i++ {
		out.SetVec(i, a.Activate(z.AtVec(i)))
	}
	return out
}

func derivativeVec(a ActivationFunction, z *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(z.Len(), nil)
	for i := 0; i < z.Len(); i++ {
		out.SetVec(i, a.Derivative(z.AtVec(i)))
	}
	return out
}
