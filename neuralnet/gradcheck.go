package neuralnet

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// GradientCheck compares the analytic weight and bias gradients of one
// sample against central finite differences of the loss and returns the
// largest relative error found.
func (nn *NeuralNetwork) GradientCheck(x, y *mat.VecDense) (float64, error) {
	grads, err := nn.Backward(x, y)
	if err != nil {
		return 0, err
	}
	settings := &fd.Settings{Formula: fd.Central, Step: 1e-6}

	var worst float64
	for i, l := range nn.layers {
		params := [][]float64{l.Weights().RawMatrix().Data}
		analytic := [][]float64{grads[i].Weights.RawMatrix().Data}
		if l.UseBias() {
			params = append(params, l.Bias().RawVector().Data)
			analytic = append(analytic, grads[i].Bias.RawVector().Data)
		}
		for k, p := range params {
			original := append([]float64(nil), p...)
			numeric := fd.Gradient(nil, func(v []float64) float64 {
				copy(p, v)
				out, err := nn.Forward(x)
				if err != nil {
					return math.NaN()
				}
				return nn.loss.Compute(out, y)
			}, original, settings)
			copy(p, original)

			for j, a := range analytic[k] {
				if e := relativeError(a, numeric[j]); e > worst || math.IsNaN(e) {
					worst = e
				}
			}
		}
	}
	return worst, nil
}

// relativeError floors the denominator so that finite-difference noise on
// near-zero gradients does not dominate.
func relativeError(a, b float64) float64 {
	denom := math.Max(math.Abs(a)+math.Abs(b), 1e-4)
	return math.Abs(a-b) / denom
}
