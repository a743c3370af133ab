package dataset

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrScalerNotFitted = errors.New("dataset: scaler used before Fit")

// StandardScaler standardises each column of X and Y to zero mean and unit
// population standard deviation. Zero standard deviations are replaced by 1.
type StandardScaler struct {
	xMean, xStd []float64
	yMean, yStd []float64
	fitted      bool
}

func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// Fit computes per-column statistics. Calling it again refits from scratch.
func (s *StandardScaler) Fit(X, Y *mat.Dense) error {
	if r, _ := X.Dims(); r == 0 {
		return ErrEmptyData
	}
	s.xMean, s.xStd = columnStats(X)
	s.yMean, s.yStd = columnStats(Y)
	s.fitted = true
	return nil
}

func (s *StandardScaler) Fitted() bool { return s.fitted }

func (s *StandardScaler) TransformX(X *mat.Dense) (*mat.Dense, error) {
	return s.apply(X, s.xMean, s.xStd, false)
}

func (s *StandardScaler) TransformY(Y *mat.Dense) (*mat.Dense, error) {
	return s.apply(Y, s.yMean, s.yStd, false)
}

func (s *StandardScaler) InverseTransformX(X *mat.Dense) (*mat.Dense, error) {
	return s.apply(X, s.xMean, s.xStd, true)
}

func (s *StandardScaler) InverseTransformY(Y *mat.Dense) (*mat.Dense, error) {
	return s.apply(Y, s.yMean, s.yStd, true)
}

// Stats returns copies of the fitted means and standard deviations.
func (s *StandardScaler) Stats() (xMean, xStd, yMean, yStd []float64) {
	cp := func(v []float64) []float64 { return append([]float64(nil), v...) }
	return cp(s.xMean), cp(s.xStd), cp(s.yMean), cp(s.yStd)
}

func (s *StandardScaler) apply(m *mat.Dense, mean, std []float64, inverse bool) (*mat.Dense, error) {
	if !s.fitted {
		return nil, ErrScalerNotFitted
	}
	r, c := m.Dims()
	if c != len(mean) {
		return nil, fmt.Errorf("dataset: scaler fitted on %d columns, got %d", len(mean), c)
	}
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, j int, v float64) float64 {
		if inverse {
			return v*std[j] + mean[j]
		}
		return (v - mean[j]) / std[j]
	}, m)
	return out, nil
}

func columnStats(m *mat.Dense) (mean, std []float64) {
	_, c := m.Dims()
	mean = make([]float64, c)
	std = make([]float64, c)
	for j := 0; j < c; j++ {
		mu, variance := stat.PopMeanVariance(mat.Col(nil, j, m), nil)
		mean[j] = mu
		std[j] = math.Sqrt(variance)
		if std[j] == 0 || math.IsNaN(std[j]) {
			std[j] = 1
		}
	}
	return mean, std
}
