package neuralnet

import "fmt"

// NetworkConfig describes a network's architecture and training strategies.
// It is an immutable value: edits replace it wholesale and the network is
// rebuilt.
type NetworkConfig struct {
	InputDim          int      `json:"inputDim"`
	HiddenDims        []int    `json:"hiddenDims"`
	OutputDim         int      `json:"outputDim"`
	HiddenActivations []string `json:"hiddenActivations"`
	OutputActivation  string   `json:"outputActivation"`
	UseBias           bool     `json:"useBias"`
	// WeightInitializer applies to every layer without a per-layer override.
	// Empty selects the activation's recommended initializer.
	WeightInitializer string `json:"weightInitializer,omitempty"`
	// LayerInitializers has one entry per layer (hidden layers then output);
	// empty entries defer to WeightInitializer.
	LayerInitializers []string        `json:"layerInitializers,omitempty"`
	Optimizer         string          `json:"optimizer"`
	OptimizerParams   OptimizerConfig `json:"optimizerParams"`
	Loss              string          `json:"loss"`
}

func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		InputDim:          2,
		HiddenDims:        []int{8},
		OutputDim:         1,
		HiddenActivations: []string{"relu"},
		OutputActivation:  "linear",
		UseBias:           true,
		Optimizer:         "sgd",
		OptimizerParams:   OptimizerConfig{LearningRate: DefaultLearningRate},
		Loss:              "mse",
	}
}

func (c NetworkConfig) Validate() error {
	if c.InputDim <= 0 {
		return ErrMissingInputDim
	}
	if c.OutputDim <= 0 {
		return fmt.Errorf("%w: outputDim must be positive, got %d", ErrInvalidConfig, c.OutputDim)
	}
	if len(c.HiddenActivations) != len(c.HiddenDims) {
		return fmt.Errorf("%w: %d hidden activations for %d hidden layers",
			ErrInvalidConfig, len(c.HiddenActivations), len(c.HiddenDims))
	}
	for i, d := range c.HiddenDims {
		if d <= 0 {
			return fmt.Errorf("%w: hidden layer %d has %d units", ErrInvalidConfig, i, d)
		}
	}
	if c.LayerInitializers != nil && len(c.LayerInitializers) != len(c.HiddenDims)+1 {
		return fmt.Errorf("%w: %d layer initializers for %d layers",
			ErrInvalidConfig, len(c.LayerInitializers), len(c.HiddenDims)+1)
	}
	return nil
}

// TrainingConfig holds the epoch loop parameters.
type TrainingConfig struct {
	LearningRate float64 `json:"learningRate"`
	NumEpochs    int     `json:"numEpochs"`
	BatchSize    int     `json:"batchSize"`
	Noise        float64 `json:"noise"`
	// StartEpoch resumes a run at the given epoch index.
	StartEpoch int `json:"startEpoch,omitempty"`
}

func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		LearningRate: DefaultLearningRate,
		NumEpochs:    100,
		BatchSize:    32,
		Noise:        0,
	}
}

func (c TrainingConfig) Validate() error {
	switch {
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalidConfig, c.LearningRate)
	case c.NumEpochs < 1:
		return fmt.Errorf("%w: numEpochs must be at least 1, got %d", ErrInvalidConfig, c.NumEpochs)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: got batch size %d", ErrInvalidBatchSize, c.BatchSize)
	case c.Noise < 0:
		return fmt.Errorf("%w: noise must be non-negative, got %g", ErrInvalidConfig, c.Noise)
	case c.StartEpoch < 0 || c.StartEpoch >= c.NumEpochs:
		return fmt.Errorf("%w: startEpoch %d outside [0, %d)", ErrInvalidConfig, c.StartEpoch, c.NumEpochs)
	}
	return nil
}
