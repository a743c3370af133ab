package neuralnet

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// Helper function for comparing floats with a tolerance
func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func testConfig() NetworkConfig {
	return NetworkConfig{
		InputDim:          2,
		HiddenDims:        []int{4},
		OutputDim:         1,
		HiddenActivations: []string{"relu"},
		OutputActivation:  "linear",
		UseBias:           true,
	}
}

func circleData(rng *rand.Rand, n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 2, nil)
	Y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x, y := 4*rng.Float64()-2, 4*rng.Float64()-2
		X.SetRow(i, []float64{x, y})
		Y.Set(i, 0, x*x+y*y)
	}
	return X, Y
}

func TestNewBuildsLayers(t *testing.T) {
	cfg := testConfig()
	cfg.HiddenDims = []int{5, 3}
	cfg.HiddenActivations = []string{"relu", "tanh"}
	nn, err := New(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	layers := nn.Layers()
	require.Len(t, layers, 3)
	assert.Equal(t, 2, layers[0].InputDim())
	assert.Equal(t, 5, layers[0].OutputDim())
	assert.Equal(t, 5, layers[1].InputDim())
	assert.Equal(t, 3, layers[2].InputDim())
	assert.Equal(t, 1, layers[2].OutputDim())
	assert.Equal(t, "tanh", layers[1].Activation().Name())
	assert.Equal(t, "linear", layers[2].Activation().Name())
	assert.Equal(t, 2*5+5+5*3+3+3*1+1, nn.NumParams())
	assert.Equal(t, "mse", nn.Loss().Name())
	assert.Equal(t, "sgd", nn.Optimizer(0).Name())
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.InputDim = 0
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, ErrMissingInputDim)

	cfg = testConfig()
	cfg.HiddenActivations = nil
	_, err = New(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig()
	cfg.LayerInitializers = []string{"he"}
	_, err = New(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAddLayer(t *testing.T) {
	nn := NewNeuralNetwork(true, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, nn.AddLayer(4, "relu", 0), ErrMissingInputDim)

	require.NoError(t, nn.AddLayer(4, "relu", 3))
	require.NoError(t, nn.AddLayer(2, "sigmoid", 0))
	assert.Equal(t, 4, nn.Layers()[1].InputDim())
	assert.ErrorIs(t, nn.AddLayer(1, "linear", 7), ErrDimensionMismatch)
}

func TestInitializerResolutionOrder(t *testing.T) {
	cfg := testConfig()
	nn, err := New(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, "he", nn.Layers()[0].Initializer().Name(), "relu recommends he")
	assert.Equal(t, "random", nn.Layers()[1].Initializer().Name(), "linear recommends random")

	cfg.WeightInitializer = "xavier"
	nn, err = New(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, "xavier", nn.Layers()[0].Initializer().Name())
	assert.Equal(t, "xavier", nn.Layers()[1].Initializer().Name())

	cfg.LayerInitializers = []string{"zero", ""}
	nn, err = New(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, "zero", nn.Layers()[0].Initializer().Name())
	assert.Equal(t, "xavier", nn.Layers()[1].Initializer().Name())
}

func TestEmptyNetworkFails(t *testing.T) {
	nn := NewNeuralNetwork(true, nil)
	_, err := nn.Forward(vec(1, 2))
	assert.ErrorIs(t, err, ErrNoLayers)
	_, err = nn.Predict(mat.NewDense(1, 2, nil))
	assert.ErrorIs(t, err, ErrNoLayers)
	_, err = nn.Backward(vec(1, 2), vec(1))
	assert.ErrorIs(t, err, ErrNoLayers)
	_, err = nn.TrainOneEpoch(mat.NewDense(1, 2, nil), mat.NewDense(1, 1, nil), 1)
	assert.ErrorIs(t, err, ErrNoLayers)
}

func TestForwardDoesNotLeaveBackwardCache(t *testing.T) {
	nn, err := New(testConfig(), rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	_, err = nn.Forward(vec(0.5, 0.5))
	require.NoError(t, err)
	_, _, err = nn.Layers()[1].Backward(vec(1))
	assert.ErrorIs(t, err, ErrNoForwardCache)
}

func TestPredictMatchesForward(t *testing.T) {
	nn, err := New(testConfig(), rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	X := mat.NewDense(3, 2, []float64{0, 1, -1, 0.5, 2, -2})
	pred, err := nn.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		out, err := nn.Forward(mat.VecDenseCopyOf(X.RowView(i)))
		require.NoError(t, err)
		assert.Equal(t, out.AtVec(0), pred.At(i, 0))
	}
}

func TestBackwardGradientCheck(t *testing.T) {
	for _, act := range []string{"relu", "leaky_relu", "sigmoid", "tanh", "linear"} {
		t.Run(act, func(t *testing.T) {
			cfg := testConfig()
			cfg.HiddenDims = []int{5, 3}
			cfg.HiddenActivations = []string{act, act}
			cfg.OutputDim = 2
			cfg.OutputActivation = "sigmoid"
			nn, err := New(cfg, rand.New(rand.NewSource(4)))
			require.NoError(t, err)

			worst, err := nn.GradientCheck(vec(0.3, -0.8), vec(0.25, 0.75))
			require.NoError(t, err)
			assert.Less(t, worst, 1e-4)
		})
	}
}

func TestBackwardTargetMismatch(t *testing.T) {
	nn, err := New(testConfig(), rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	_, err = nn.Backward(vec(1, 2), vec(1, 2))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestComputeGradientNormIsFrobenius(t *testing.T) {
	nn := NewNeuralNetwork(true, nil)
	a := NewGradients(1, 2)
	a.Weights.SetRow(0, []float64{3, 0})
	b := NewGradients(1, 1)
	b.Weights.Set(0, 0, 0)
	b.Bias.SetVec(0, 4)
	assert.Equal(t, 5.0, nn.ComputeGradientNorm([]*Gradients{a, b}))
}

func TestTrainOneEpochBatches(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	nn, err := New(testConfig(), rng)
	require.NoError(t, err)
	X, Y := circleData(rng, 10)

	res, err := nn.TrainOneEpoch(X, Y, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Batches)
	assert.False(t, math.IsNaN(res.Loss))
	assert.Greater(t, res.GradientNorm, 0.0)

	_, err = nn.TrainOneEpoch(X, Y, 0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
	_, err = nn.TrainOneEpoch(X, mat.NewDense(3, 1, nil), 4)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestTrainOneEpochMovesEveryLayer(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	nn, err := New(testConfig(), rng)
	require.NoError(t, err)
	X := mat.NewDense(4, 2, []float64{1, 1, -1, 1, 1, -1, -1, -1})
	Y := mat.NewDense(4, 1, []float64{2, 2, 2, 2})

	before := make([]*mat.Dense, len(nn.Layers()))
	for i, l := range nn.Layers() {
		before[i] = mat.DenseCopyOf(l.Weights())
	}
	res, err := nn.TrainOneEpoch(X, Y, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Batches)
	for i, l := range nn.Layers() {
		assert.False(t, mat.Equal(before[i], l.Weights()), "layer %d did not move", i)
	}
}

func TestSingleBatchEqualsAveragedGradientStep(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	X, Y := circleData(rng, 6)

	a, err := New(testConfig(), rand.New(rand.NewSource(21)))
	require.NoError(t, err)
	b, err := New(testConfig(), rand.New(rand.NewSource(21)))
	require.NoError(t, err)

	// manual: average per-sample gradients and step once
	acc := []*Gradients{NewGradients(4, 2), NewGradients(1, 4)}
	for i := 0; i < 6; i++ {
		g, err := b.Backward(mat.VecDenseCopyOf(X.RowView(i)), mat.VecDenseCopyOf(Y.RowView(i)))
		require.NoError(t, err)
		acc[0].Add(g[0])
		acc[1].Add(g[1])
	}
	acc[0].Scale(1.0 / 6)
	acc[1].Scale(1.0 / 6)
	require.NoError(t, b.UpdateParameters(acc))

	_, err = a.TrainOneEpoch(X, Y, 6)
	require.NoError(t, err)
	for i := range a.Layers() {
		assert.True(t, mat.EqualApprox(a.Layers()[i].Weights(), b.Layers()[i].Weights(), 1e-12))
	}
}

func TestTrainCircleWithAdam(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cfg := testConfig()
	cfg.HiddenDims = []int{16}
	cfg.Optimizer = "adam"
	cfg.OptimizerParams = OptimizerConfig{LearningRate: 0.01}
	nn, err := New(cfg, rng)
	require.NoError(t, err)
	X, Y := circleData(rng, 128)

	initial, err := nn.Evaluate(X, Y)
	require.NoError(t, err)
	for epoch := 0; epoch < 400; epoch++ {
		_, err := nn.TrainOneEpoch(X, Y, 16)
		require.NoError(t, err)
	}
	final, err := nn.Evaluate(X, Y)
	require.NoError(t, err)
	assert.Less(t, final, 0.1*initial, "initial %.4f final %.4f", initial, final)
}

func TestAccuracyThreshold(t *testing.T) {
	nn := NewNeuralNetwork(false, nil)
	require.NoError(t, nn.AddLayer(1, "linear", 1))
	nn.Layers()[0].Weights().Set(0, 0, 1)

	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	Y := mat.NewDense(4, 1, []float64{0.1, 1.6, 2.4, 3})
	acc, err := nn.Accuracy(X, Y, DefaultAccuracyThreshold)
	require.NoError(t, err)
	assert.True(t, floatEquals(0.75, acc, 1e-12))

	acc, err = nn.Accuracy(&mat.Dense{}, &mat.Dense{}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, acc)
}

func TestSetOptimizerResetsState(t *testing.T) {
	nn, err := New(testConfig(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	nn.SetOptimizer("adam", OptimizerConfig{LearningRate: 0.05})

	X, Y := circleData(rand.New(rand.NewSource(2)), 8)
	_, err = nn.TrainOneEpoch(X, Y, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, nn.Optimizer(0).(*Adam).Timestep())

	nn.SetOptimizer("adam", OptimizerConfig{LearningRate: 0.01})
	for i := range nn.Layers() {
		assert.Equal(t, 0, nn.Optimizer(i).(*Adam).Timestep())
	}
	assert.Equal(t, 0.01, nn.OptimizerConfig().LearningRate)
}

func TestSetLayerInitializer(t *testing.T) {
	nn, err := New(testConfig(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	untouched := mat.DenseCopyOf(nn.Layers()[0].Weights())

	require.NoError(t, nn.SetLayerInitializer(1, "zero"))
	assert.Equal(t, 0.0, mat.Sum(nn.Layers()[1].Weights()))
	assert.True(t, mat.Equal(untouched, nn.Layers()[0].Weights()))
	assert.ErrorIs(t, nn.SetLayerInitializer(5, "he"), ErrInvalidConfig)

	nn.SetWeightInitializer("xavier")
	assert.Equal(t, "xavier", nn.Layers()[0].Initializer().Name())
	assert.Equal(t, "zero", nn.Layers()[1].Initializer().Name(), "per-layer override wins")
}

func TestNetworkString(t *testing.T) {
	nn, err := New(testConfig(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	s := nn.String()
	assert.Contains(t, s, "Layer 0:")
	assert.Contains(t, s, "Dense 2 -> 4 (relu")
}
