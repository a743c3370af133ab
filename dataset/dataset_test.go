package dataset

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name string
		x, y float64
		want float64
	}{
		{"saddle", 2, 1, 3},
		{"rosenbrock", 1, 1, 0},
		{"rosenbrock", 0, 1, 101},
		{"sine", math.Pi / 2, 0, 1},
		{"circle", 3, 4, 25},
	}
	for _, tt := range tests {
		fn, name := Lookup(tt.name)
		assert.Equal(t, tt.name, name)
		assert.InDelta(t, tt.want, fn(tt.x, tt.y), 1e-12, tt.name)
	}

	fn, name := Lookup("mexican-hat")
	assert.Equal(t, DefaultFunction, name)
	assert.Equal(t, 3.0, fn(2, 1))
	assert.Equal(t, []string{"circle", "rosenbrock", "saddle", "sine"}, Names())
}

func TestGenerateWithoutNoise(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Function = "circle"
	cfg.NumSamples = 50
	cfg.XRange = Range{Min: -1, Max: 3}
	data, err := NewGenerator(rand.New(rand.NewSource(1))).Generate(cfg)
	require.NoError(t, err)

	assert.Equal(t, 50, data.Len())
	for i := 0; i < data.Len(); i++ {
		x, y := data.X.At(i, 0), data.X.At(i, 1)
		assert.GreaterOrEqual(t, x, -1.0)
		assert.Less(t, x, 3.0)
		assert.GreaterOrEqual(t, y, -2.0)
		assert.Less(t, y, 2.0)
		assert.Equal(t, x*x+y*y, data.Y.At(i, 0))
	}
}

func TestGenerateNoiseIsIrwinHall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumSamples = 20000
	cfg.Noise = 2
	data, err := NewGenerator(rand.New(rand.NewSource(2))).Generate(cfg)
	require.NoError(t, err)

	residuals := make([]float64, data.Len())
	for i := range residuals {
		x, y := data.X.At(i, 0), data.X.At(i, 1)
		residuals[i] = data.Y.At(i, 0) - (x*x - y*y)
		// each residual is bounded by noise * (4-2)/2
		assert.LessOrEqual(t, math.Abs(residuals[i]), 2.0)
	}
	mean, variance := stat.PopMeanVariance(residuals, nil)
	assert.InDelta(t, 0, mean, 0.02)
	// Var = noise² * (4/12) / 4
	assert.InDelta(t, 4.0/12, variance, 0.02)
}

func TestGenerateRejectsBadConfig(t *testing.T) {
	g := NewGenerator(nil)
	cfg := DefaultConfig()
	cfg.NumSamples = 0
	_, err := g.Generate(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.XRange = Range{Min: 1, Max: -1}
	_, err = g.Generate(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSplitTrainTest(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(3)))
	cfg := DefaultConfig()
	cfg.NumSamples = 100
	data, err := g.Generate(cfg)
	require.NoError(t, err)

	train, test, err := g.SplitTrainTest(data, 0.2)
	require.NoError(t, err)
	assert.Equal(t, 80, train.Len())
	assert.Equal(t, 20, test.Len())

	seen := map[[2]float64]int{}
	for _, part := range []*GeneratedData{train, test} {
		for i := 0; i < part.Len(); i++ {
			seen[[2]float64{part.X.At(i, 0), part.X.At(i, 1)}]++
		}
	}
	require.Len(t, seen, 100, "no sample may be dropped")
	for i := 0; i < data.Len(); i++ {
		assert.Equal(t, 1, seen[[2]float64{data.X.At(i, 0), data.X.At(i, 1)}], "sample %d", i)
	}
}

func TestSplitTrainTestEdgeCases(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(3)))
	data, err := g.Generate(Config{NumSamples: 7, XRange: Range{Max: 1}, YRange: Range{Max: 1}})
	require.NoError(t, err)

	train, test, err := g.SplitTrainTest(data, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, train.Len())
	assert.Equal(t, 0, test.Len())

	train, test, err = g.SplitTrainTest(data, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 4, train.Len())
	assert.Equal(t, 3, test.Len())

	_, _, err = g.SplitTrainTest(data, 1)
	assert.ErrorIs(t, err, ErrInvalidRatio)
	_, _, err = g.SplitTrainTest(&GeneratedData{}, 0.2)
	assert.ErrorIs(t, err, ErrEmptyData)
}

func TestNewGrid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Function = "saddle"
	grid, err := NewGrid(cfg, 5)
	require.NoError(t, err)

	assert.Equal(t, []float64{-2, -1, 0, 1, 2}, grid.XAxis)
	rows, cols := grid.Points.Dims()
	assert.Equal(t, 25, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, []int{5, 5}, []int(grid.Truth.Shape()))

	// row i*5+j is (XAxis[j], YAxis[i])
	assert.Equal(t, []float64{1, -2}, grid.Points.RawRowView(3))
	v, err := grid.Truth.At(0, 3)
	require.NoError(t, err)
	assert.Equal(t, 1.0-4.0, v)

	surface, err := grid.Surface(make([]float64, 25))
	require.NoError(t, err)
	assert.Equal(t, []int{5, 5}, []int(surface.Shape()))
	_, err = grid.Surface(make([]float64, 3))
	assert.Error(t, err)

	_, err = NewGrid(cfg, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestScalerRoundTrip(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(4)))
	cfg := DefaultConfig()
	cfg.Function = "rosenbrock"
	cfg.XRange = Range{Min: 5, Max: 9}
	data, err := g.Generate(cfg)
	require.NoError(t, err)

	s := NewStandardScaler()
	require.NoError(t, s.Fit(data.X, data.Y))

	xs, err := s.TransformX(data.X)
	require.NoError(t, err)
	for j := 0; j < 2; j++ {
		mean, variance := stat.PopMeanVariance(mat.Col(nil, j, xs), nil)
		assert.InDelta(t, 0, mean, 1e-9)
		assert.InDelta(t, 1, variance, 1e-9)
	}
	back, err := s.InverseTransformX(xs)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(data.X, back, 1e-9))

	ys, err := s.TransformY(data.Y)
	require.NoError(t, err)
	yBack, err := s.InverseTransformY(ys)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(data.Y, yBack, 1e-6))
}

func TestScalerConstantColumn(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{1, 5, 2, 5, 3, 5})
	Y := mat.NewDense(3, 1, []float64{7, 7, 7})
	s := NewStandardScaler()
	require.NoError(t, s.Fit(X, Y))

	_, xStd, yMean, yStd := s.Stats()
	assert.Equal(t, 1.0, xStd[1])
	assert.Equal(t, 7.0, yMean[0])
	assert.Equal(t, 1.0, yStd[0])

	ys, err := s.TransformY(Y)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, ys.RawMatrix().Data)
}

func TestScalerRequiresFit(t *testing.T) {
	s := NewStandardScaler()
	assert.False(t, s.Fitted())
	_, err := s.TransformX(mat.NewDense(1, 2, nil))
	assert.ErrorIs(t, err, ErrScalerNotFitted)
	_, err = s.InverseTransformY(mat.NewDense(1, 1, nil))
	assert.ErrorIs(t, err, ErrScalerNotFitted)

	require.NoError(t, s.Fit(mat.NewDense(2, 2, []float64{1, 2, 3, 4}), mat.NewDense(2, 1, []float64{1, 2})))
	_, err = s.TransformX(mat.NewDense(1, 3, nil))
	assert.Error(t, err)
}
