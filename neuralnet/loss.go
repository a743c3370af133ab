package neuralnet

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// LossFunction defines the interface for computing loss and its gradient.
type LossFunction interface {
	// Compute returns the scalar loss of a single prediction vector.
	Compute(output, target *mat.VecDense) float64
	// Gradient returns ∂L/∂output, shaped like output.
	Gradient(output, target *mat.VecDense) *mat.VecDense
	Name() string
}

const probEpsilon = 1e-15

// MSE is the mean squared error over output dimensions.
type MSE struct{}

func (MSE) Compute(output, target *mat.VecDense) float64 {
	var diff mat.VecDense
	diff.SubVec(output, target)
	return mat.Dot(&diff, &diff) / float64(output.Len())
}

func (MSE) Gradient(output, target *mat.VecDense) *mat.VecDense {
	grad := mat.NewVecDense(output.Len(), nil)
	grad.SubVec(output, target)
	grad.ScaleVec(2/float64(output.Len()), grad)
	return grad
}

func (MSE) Name() string { return "mse" }

// MAE is the mean absolute error; its gradient is 0 at exact equality.
type MAE struct{}

func (MAE) Compute(output, target *mat.VecDense) float64 {
	var loss float64
	for i := 0; i < output.Len(); i++ {
		loss += math.Abs(output.AtVec(i) - target.AtVec(i))
	}
	return loss / float64(output.Len())
}

func (MAE) Gradient(output, target *mat.VecDense) *mat.VecDense {
	n := float64(output.Len())
	grad := mat.NewVecDense(output.Len(), nil)
	for i := 0; i < output.Len(); i++ {
		d := output.AtVec(i) - target.AtVec(i)
		switch {
		case d > 0:
			grad.SetVec(i, 1/n)
		case d < 0:
			grad.SetVec(i, -1/n)
		}
	}
	return grad
}

func (MAE) Name() string { return "mae" }

// BinaryCrossEntropy averages the per-output binary log loss, and its
// gradient is averaged the same way. Predictions are clipped to [ε, 1-ε]
// before the log.
type BinaryCrossEntropy struct{}

func (BinaryCrossEntropy) Compute(output, target *mat.VecDense) float64 {
	var loss float64
	for i := 0; i < output.Len(); i++ {
		p := clipProb(output.AtVec(i))
		t := target.AtVec(i)
		loss -= t*math.Log(p) + (1-t)*math.Log(1-p)
	}
	return loss / float64(output.Len())
}

func (BinaryCrossEntropy) Gradient(output, target *mat.VecDense) *mat.VecDense {
	n := float64(output.Len())
	grad := mat.NewVecDense(output.Len(), nil)
	for i := 0; i < output.Len(); i++ {
		p := clipProb(output.AtVec(i))
		grad.SetVec(i, (p-target.AtVec(i))/(p*(1-p))/n)
	}
	return grad
}

func (BinaryCrossEntropy) Name() string { return "binary_cross_entropy" }

// CrossEntropy implements categorical cross-entropy against a target
// distribution. The network has no softmax head, so the gradient is taken
// with respect to the clipped probabilities directly.
type CrossEntropy struct{}

func (CrossEntropy) Compute(output, target *mat.VecDense) float64 {
	var loss float64
	for i := 0; i < output.Len(); i++ {
		loss -= target.AtVec(i) * math.Log(clipProb(output.AtVec(i)))
	}
	return loss
}

func (CrossEntropy) Gradient(output, target *mat.VecDense) *mat.VecDense {
	grad := mat.NewVecDense(output.Len(), nil)
	for i := 0; i < output.Len(); i++ {
		grad.SetVec(i, -target.AtVec(i)/clipProb(output.AtVec(i)))
	}
	return grad
}

func (CrossEntropy) Name() string { return "cross_entropy" }

// NewLoss resolves a loss by name, falling back to MSE.
func NewLoss(name string) LossFunction {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mae":
		return MAE{}
	case "binary_cross_entropy", "bce", "binarycrossentropy":
		return BinaryCrossEntropy{}
	case "cross_entropy", "crossentropy", "ce":
		return CrossEntropy{}
	default:
		return MSE{}
	}
}

func clipProb(p float64) float64 {
	return math.Min(math.Max(p, probEpsilon), 1-probEpsilon)
}
