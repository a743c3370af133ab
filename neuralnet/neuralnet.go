package neuralnet

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrMissingInputDim   = errors.New("neuralnet: first layer requires an input dimension")
	ErrNoLayers          = errors.New("neuralnet: network has no layers")
	ErrDimensionMismatch = errors.New("neuralnet: dimension mismatch")
	ErrNoForwardCache    = errors.New("neuralnet: backward called without a paired forward")
	ErrInvalidBatchSize  = errors.New("neuralnet: invalid batch size")
	ErrInvalidConfig     = errors.New("neuralnet: invalid configuration")
	ErrNoSamples         = errors.New("neuralnet: no samples")
)

// DefaultAccuracyThreshold is the per-output absolute tolerance under which
// a regression prediction counts as correct.
const DefaultAccuracyThreshold = 0.5

// NeuralNetwork is a pipeline of fully-connected layers. Each layer owns one
// optimizer instance; the loss is shared.
type NeuralNetwork struct {
	layers     []*Layer
	optimizers []Optimizer
	loss       LossFunction

	optimizerName     string
	optimizerConfig   OptimizerConfig
	weightInitializer string
	layerInitializers []string
	useBias           bool

	history *TrainingHistory
	rng     *rand.Rand
}

// EpochResult summarises one call to TrainOneEpoch.
type EpochResult struct {
	Loss         float64
	GradientNorm float64
	Batches      int
}

// NewNeuralNetwork returns an empty network using SGD and MSE. Layers are
// added with AddLayer.
func NewNeuralNetwork(useBias bool, rng *rand.Rand) *NeuralNetwork {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &NeuralNetwork{
		loss:            MSE{},
		optimizerName:   "sgd",
		optimizerConfig: OptimizerConfig{LearningRate: DefaultLearningRate},
		useBias:         useBias,
		history:         NewTrainingHistory(),
		rng:             rng,
	}
}

// New builds a network from cfg: one layer per hidden dimension followed by
// the output layer.
func New(cfg NetworkConfig, rng *rand.Rand) (*NeuralNetwork, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nn := NewNeuralNetwork(cfg.UseBias, rng)
	nn.loss = NewLoss(cfg.Loss)
	nn.optimizerName = cfg.Optimizer
	nn.optimizerConfig = cfg.OptimizerParams
	nn.weightInitializer = cfg.WeightInitializer
	nn.layerInitializers = append([]string(nil), cfg.LayerInitializers...)

	inputDim := cfg.InputDim
	for i, dim := range cfg.HiddenDims {
		if err := nn.AddLayer(dim, cfg.HiddenActivations[i], inputDim); err != nil {
			return nil, err
		}
		inputDim = 0
	}
	if err := nn.AddLayer(cfg.OutputDim, cfg.OutputActivation, inputDim); err != nil {
		return nil, err
	}
	return nn, nil
}

// AddLayer appends a layer. The first layer needs an explicit inputDim;
// later layers take theirs from the previous layer when inputDim is 0.
func (nn *NeuralNetwork) AddLayer(outputDim int, activation string, inputDim int) error {
	if len(nn.layers) == 0 && inputDim <= 0 {
		return ErrMissingInputDim
	}
	if len(nn.layers) > 0 {
		prev := nn.layers[len(nn.layers)-1].OutputDim()
		if inputDim == 0 {
			inputDim = prev
		} else if inputDim != prev {
			return fmt.Errorf("%w: layer %d input %d does not match previous output %d",
				ErrDimensionMismatch, len(nn.layers), inputDim, prev)
		}
	}
	index := len(nn.layers)
	layer, err := NewLayer(inputDim, outputDim, NewActivation(activation), nn.resolveInitializer(index, activation), nn.useBias)
	if err != nil {
		return fmt.Errorf("layer %d: %w", index, err)
	}
	nn.layers = append(nn.layers, layer)
	nn.optimizers = append(nn.optimizers, NewOptimizer(nn.optimizerName, nn.optimizerConfig, outputDim, inputDim))
	return nil
}

// resolveInitializer applies the lookup order per-layer override, then the
// network-wide name, then the activation's recommendation.
func (nn *NeuralNetwork) resolveInitializer(index int, activation string) WeightInitializer {
	if index < len(nn.layerInitializers) && nn.layerInitializers[index] != "" {
		return NewInitializer(nn.layerInitializers[index], nn.rng)
	}
	if nn.weightInitializer != "" {
		return NewInitializer(nn.weightInitializer, nn.rng)
	}
	return RecommendedInitializer(activation, nn.rng)
}

func (nn *NeuralNetwork) Layers() []*Layer { return nn.layers }

func (nn *NeuralNetwork) Loss() LossFunction { return nn.loss }

func (nn *NeuralNetwork) History() *TrainingHistory { return nn.history }

func (nn *NeuralNetwork) OptimizerName() string { return nn.optimizerName }

func (nn *NeuralNetwork) OptimizerConfig() OptimizerConfig { return nn.optimizerConfig }

// Optimizer returns the optimizer owned by layer i.
func (nn *NeuralNetwork) Optimizer(i int) Optimizer { return nn.optimizers[i] }

func (nn *NeuralNetwork) InputDim() int {
	if len(nn.layers) == 0 {
		return 0
	}
	return nn.layers[0].InputDim()
}

func (nn *NeuralNetwork) OutputDim() int {
	if len(nn.layers) == 0 {
		return 0
	}
	return nn.layers[len(nn.layers)-1].OutputDim()
}

// NumParams counts weights and biases across all layers.
func (nn *NeuralNetwork) NumParams() int {
	n := 0
	for _, l := range nn.layers {
		n += l.OutputDim()*l.InputDim() + l.OutputDim()
	}
	return n
}

// Forward runs one sample through every layer without touching the layers'
// backward caches.
func (nn *NeuralNetwork) Forward(x *mat.VecDense) (*mat.VecDense, error) {
	if len(nn.layers) == 0 {
		return nil, ErrNoLayers
	}
	out := x
	for i, l := range nn.layers {
		var err error
		if _, out, err = l.compute(out); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return out, nil
}

// Predict runs every row of X through the network.
func (nn *NeuralNetwork) Predict(X *mat.Dense) (*mat.Dense, error) {
	if len(nn.layers) == 0 {
		return nil, ErrNoLayers
	}
	rows, _ := X.Dims()
	out := mat.NewDense(rows, nn.OutputDim(), nil)
	for i := 0; i < rows; i++ {
		y, err := nn.Forward(mat.VecDenseCopyOf(X.RowView(i)))
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out.SetRow(i, y.RawVector().Data)
	}
	return out, nil
}

// Backward forwards one sample, takes the loss gradient against its target
// and propagates it back, returning one Gradients record per layer.
func (nn *NeuralNetwork) Backward(x, y *mat.VecDense) ([]*Gradients, error) {
	if len(nn.layers) == 0 {
		return nil, ErrNoLayers
	}
	out := x
	for i, l := range nn.layers {
		var err error
		if out, err = l.Forward(out); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	if y.Len() != out.Len() {
		return nil, fmt.Errorf("%w: target has %d values, network outputs %d", ErrDimensionMismatch, y.Len(), out.Len())
	}

	delta := nn.loss.Gradient(out, y)
	grads := make([]*Gradients, len(nn.layers))
	for i := len(nn.layers) - 1; i >= 0; i-- {
		g, dInput, err := nn.layers[i].Backward(delta)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		grads[i] = g
		delta = dInput
	}
	return grads, nil
}

// ComputeGradientNorm is the Frobenius norm over every weight and bias
// gradient. It is reported as a health metric and never used for clipping.
func (nn *NeuralNetwork) ComputeGradientNorm(grads []*Gradients) float64 {
	var sum float64
	for _, g := range grads {
		sum += g.SumSquares()
	}
	return math.Sqrt(sum)
}

// UpdateParameters hands each layer's gradients to that layer's optimizer.
func (nn *NeuralNetwork) UpdateParameters(grads []*Gradients) error {
	if len(grads) != len(nn.layers) {
		return fmt.Errorf("%w: %d gradient records for %d layers", ErrDimensionMismatch, len(grads), len(nn.layers))
	}
	for i, l := range nn.layers {
		if err := nn.optimizers[i].Update(l, grads[i]); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return nil
}

// TrainOneEpoch shuffles the samples once, walks them in mini-batches of
// batchSize (the last may be short) and applies one averaged update per
// batch. The reported loss and gradient norm are means over batches.
func (nn *NeuralNetwork) TrainOneEpoch(X, Y *mat.Dense, batchSize int) (EpochResult, error) {
	if len(nn.layers) == 0 {
		return EpochResult{}, ErrNoLayers
	}
	if batchSize <= 0 {
		return EpochResult{}, fmt.Errorf("%w: %d", ErrInvalidBatchSize, batchSize)
	}
	n, _ := X.Dims()
	if yn, _ := Y.Dims(); yn != n {
		return EpochResult{}, fmt.Errorf("%w: %d inputs, %d targets", ErrDimensionMismatch, n, yn)
	}
	if n == 0 {
		return EpochResult{}, ErrNoSamples
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	nn.rng.Shuffle(n, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })

	numBatches := (n + batchSize - 1) / batchSize
	var totalLoss, totalNorm float64
	for b := 0; b < numBatches; b++ {
		start := b * batchSize
		end := start + batchSize
		if end > n {
			end = n
		}
		batch := indices[start:end]

		acc := make([]*Gradients, len(nn.layers))
		for i, l := range nn.layers {
			acc[i] = NewGradients(l.OutputDim(), l.InputDim())
		}
		for _, idx := range batch {
			grads, err := nn.Backward(mat.VecDenseCopyOf(X.RowView(idx)), mat.VecDenseCopyOf(Y.RowView(idx)))
			if err != nil {
				return EpochResult{}, fmt.Errorf("batch %d sample %d: %w", b, idx, err)
			}
			for i := range acc {
				acc[i].Add(grads[i])
			}
		}
		for _, g := range acc {
			g.Scale(1 / float64(len(batch)))
		}
		if err := nn.UpdateParameters(acc); err != nil {
			return EpochResult{}, fmt.Errorf("batch %d: %w", b, err)
		}

		batchLoss, err := nn.evaluateRows(X, Y, batch)
		if err != nil {
			return EpochResult{}, fmt.Errorf("batch %d: %w", b, err)
		}
		totalLoss += batchLoss
		totalNorm += nn.ComputeGradientNorm(acc)
	}

	return EpochResult{
		Loss:         totalLoss / float64(numBatches),
		GradientNorm: totalNorm / float64(numBatches),
		Batches:      numBatches,
	}, nil
}

// Evaluate returns the mean loss over every row of X.
func (nn *NeuralNetwork) Evaluate(X, Y *mat.Dense) (float64, error) {
	n, _ := X.Dims()
	if n == 0 {
		return 0, ErrNoSamples
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return nn.evaluateRows(X, Y, rows)
}

func (nn *NeuralNetwork) evaluateRows(X, Y *mat.Dense, rows []int) (float64, error) {
	var total float64
	for _, idx := range rows {
		out, err := nn.Forward(mat.VecDenseCopyOf(X.RowView(idx)))
		if err != nil {
			return 0, err
		}
		target := mat.VecDenseCopyOf(Y.RowView(idx))
		if target.Len() != out.Len() {
			return 0, fmt.Errorf("%w: target has %d values, network outputs %d", ErrDimensionMismatch, target.Len(), out.Len())
		}
		total += nn.loss.Compute(out, target)
	}
	return total / float64(len(rows)), nil
}

// Accuracy is a coarse regression proxy: the fraction of samples whose
// every output lies within threshold of its target. Empty input scores 0.
func (nn *NeuralNetwork) Accuracy(X, Y *mat.Dense, threshold float64) (float64, error) {
	n, _ := X.Dims()
	if n == 0 {
		return 0, nil
	}
	pred, err := nn.Predict(X)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		ok := true
		for j := 0; j < nn.OutputDim(); j++ {
			if math.Abs(pred.At(i, j)-Y.At(i, j)) > threshold {
				ok = false
				break
			}
		}
		if ok {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// SetOptimizer replaces every layer's optimizer with fresh state.
// Optimizers snapshot their config, so this must be called again whenever
// the learning rate changes.
func (nn *NeuralNetwork) SetOptimizer(name string, cfg OptimizerConfig) {
	nn.optimizerName = name
	nn.optimizerConfig = cfg
	for i, l := range nn.layers {
		nn.optimizers[i] = NewOptimizer(name, cfg, l.OutputDim(), l.InputDim())
	}
}

func (nn *NeuralNetwork) SetLoss(name string) {
	nn.loss = NewLoss(name)
}

// SetWeightInitializer changes the network-wide initializer and
// reinitialises every layer. Per-layer overrides still take precedence.
// All optimizer state is discarded.
func (nn *NeuralNetwork) SetWeightInitializer(name string) {
	nn.weightInitializer = name
	for i, l := range nn.layers {
		nn.reinitializeLayer(i, l)
	}
}

// SetLayerInitializer overrides the initializer of layer index and
// reinitialises that layer along with its optimizer state.
func (nn *NeuralNetwork) SetLayerInitializer(index int, name string) error {
	if index < 0 || index >= len(nn.layers) {
		return fmt.Errorf("%w: layer index %d out of range [0, %d)", ErrInvalidConfig, index, len(nn.layers))
	}
	for len(nn.layerInitializers) < len(nn.layers) {
		nn.layerInitializers = append(nn.layerInitializers, "")
	}
	nn.layerInitializers[index] = name
	nn.reinitializeLayer(index, nn.layers[index])
	return nil
}

func (nn *NeuralNetwork) reinitializeLayer(i int, l *Layer) {
	l.ReinitializeWeights(nn.resolveInitializer(i, l.Activation().Name()))
	nn.optimizers[i] = NewOptimizer(nn.optimizerName, nn.optimizerConfig, l.OutputDim(), l.InputDim())
}

func (nn *NeuralNetwork) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("NeuralNetwork (optimizer=%s, loss=%s, params=%d)\n",
		nn.optimizerName, nn.loss.Name(), nn.NumParams()))
	for i, layer := range nn.layers {
		sb.WriteString(fmt.Sprintf("Layer %d:\n%s\n", i, layer.String()))
	}
	return sb.String()
}
