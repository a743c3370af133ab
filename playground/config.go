package playground

import (
	"fmt"
	"time"

	"nnplayground/dataset"
	"nnplayground/neuralnet"
)

// Config is everything the host supplies to build a playground session. It
// is replaced wholesale on edit.
type Config struct {
	Network  neuralnet.NetworkConfig  `json:"network"`
	Training neuralnet.TrainingConfig `json:"training"`
	// Data.Noise is overridden by Training.Noise when samples are drawn.
	Data              dataset.Config `json:"data"`
	UseNormalization  bool           `json:"useNormalization"`
	TestRatio         float64        `json:"testRatio"`
	GridSize          int            `json:"gridSize"`
	AccuracyThreshold float64        `json:"accuracyThreshold"`
	// Seed makes a session reproducible; 0 picks a random seed.
	Seed int64 `json:"seed,omitempty"`
	// FrameInterval is the pause between epochs; 0 only yields the processor.
	FrameInterval time.Duration `json:"frameInterval,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Network:           neuralnet.DefaultNetworkConfig(),
		Training:          neuralnet.DefaultTrainingConfig(),
		Data:              dataset.DefaultConfig(),
		TestRatio:         0.2,
		GridSize:          25,
		AccuracyThreshold: neuralnet.DefaultAccuracyThreshold,
	}
}

// Validate checks the whole session config. Surfaces are functions of two
// inputs with one output, so the network must be 2-in 1-out.
func (c Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if c.Network.InputDim != 2 || c.Network.OutputDim != 1 {
		return fmt.Errorf("%w: surfaces need inputDim 2 and outputDim 1, got %d and %d",
			neuralnet.ErrInvalidConfig, c.Network.InputDim, c.Network.OutputDim)
	}
	if err := c.Training.Validate(); err != nil {
		return err
	}
	if err := c.Data.Validate(); err != nil {
		return err
	}
	if c.TestRatio < 0 || c.TestRatio >= 1 {
		return fmt.Errorf("%w: got %g", dataset.ErrInvalidRatio, c.TestRatio)
	}
	if c.GridSize < 1 {
		return fmt.Errorf("%w: grid size must be positive, got %d", dataset.ErrInvalidConfig, c.GridSize)
	}
	if c.AccuracyThreshold <= 0 {
		return fmt.Errorf("%w: accuracy threshold must be positive, got %g", neuralnet.ErrInvalidConfig, c.AccuracyThreshold)
	}
	return nil
}
