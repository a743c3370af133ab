package neuralnet

import (
	"gorgonia.org/tensor"
)

const (
	// WeightTraceInterval is how often, in epochs, selected first-layer
	// weights are traced.
	WeightTraceInterval = 5
	// MaxTracedWeights bounds how many first-layer weights are traced.
	MaxTracedWeights = 4

	maxPredictionSnapshots = 50
)

// PredictionSnapshot is the model's output surface over the evaluation grid
// at one epoch, shaped [gridSize, gridSize].
type PredictionSnapshot struct {
	Epoch   int
	Surface *tensor.Dense
}

type WeightSnapshot struct {
	Epoch  int
	Values []float64
}

// TrainingHistory accumulates per-epoch telemetry.
//
// Loss, GradientNorm, TrainAccuracy and TestAccuracy are appended together
// and line up with Epochs. Predictions and SelectedWeights are throttled and
// carry their own epoch tags; never index them by position against Loss.
type TrainingHistory struct {
	Loss            []float64
	GradientNorm    []float64
	Epochs          []int
	TrainAccuracy   []float64
	TestAccuracy    []float64
	Predictions     []PredictionSnapshot
	SelectedWeights []WeightSnapshot
}

func NewTrainingHistory() *TrainingHistory {
	return &TrainingHistory{}
}

func (h *TrainingHistory) Record(epoch int, loss, gradNorm, trainAcc, testAcc float64) {
	h.Epochs = append(h.Epochs, epoch)
	h.Loss = append(h.Loss, loss)
	h.GradientNorm = append(h.GradientNorm, gradNorm)
	h.TrainAccuracy = append(h.TrainAccuracy, trainAcc)
	h.TestAccuracy = append(h.TestAccuracy, testAcc)
}

func (h *TrainingHistory) RecordPredictions(epoch int, surface *tensor.Dense) {
	h.Predictions = append(h.Predictions, PredictionSnapshot{Epoch: epoch, Surface: surface})
}

func (h *TrainingHistory) RecordWeights(epoch int, values []float64) {
	h.SelectedWeights = append(h.SelectedWeights, WeightSnapshot{Epoch: epoch, Values: values})
}

// Len is the number of recorded epochs.
func (h *TrainingHistory) Len() int { return len(h.Epochs) }

// LastLoss returns the most recently recorded epoch loss.
func (h *TrainingHistory) LastLoss() (float64, bool) {
	if len(h.Loss) == 0 {
		return 0, false
	}
	return h.Loss[len(h.Loss)-1], true
}

// LatestPredictions returns the newest prediction snapshot, if any.
func (h *TrainingHistory) LatestPredictions() (PredictionSnapshot, bool) {
	if len(h.Predictions) == 0 {
		return PredictionSnapshot{}, false
	}
	return h.Predictions[len(h.Predictions)-1], true
}

func (h *TrainingHistory) Reset() {
	*h = TrainingHistory{}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (h *TrainingHistory) Clone() *TrainingHistory {
	c := &TrainingHistory{
		Loss:          append([]float64(nil), h.Loss...),
		GradientNorm:  append([]float64(nil), h.GradientNorm...),
		Epochs:        append([]int(nil), h.Epochs...),
		TrainAccuracy: append([]float64(nil), h.TrainAccuracy...),
		TestAccuracy:  append([]float64(nil), h.TestAccuracy...),
	}
	if len(h.Predictions) > 0 {
		c.Predictions = make([]PredictionSnapshot, len(h.Predictions))
		for i, p := range h.Predictions {
			c.Predictions[i] = PredictionSnapshot{Epoch: p.Epoch}
			if p.Surface != nil {
				c.Predictions[i].Surface = p.Surface.Clone().(*tensor.Dense)
			}
		}
	}
	if len(h.SelectedWeights) > 0 {
		c.SelectedWeights = make([]WeightSnapshot, len(h.SelectedWeights))
		for i, w := range h.SelectedWeights {
			c.SelectedWeights[i] = WeightSnapshot{Epoch: w.Epoch, Values: append([]float64(nil), w.Values...)}
		}
	}
	return c
}

// SnapshotInterval bounds prediction snapshots to about fifty per run.
func SnapshotInterval(numEpochs int) int {
	if n := numEpochs / maxPredictionSnapshots; n > 1 {
		return n
	}
	return 1
}

// SelectedWeights returns the first MaxTracedWeights weights of a layer in
// row-major order.
func SelectedWeights(l *Layer) []float64 {
	data := l.Weights().RawMatrix().Data
	n := len(data)
	if n > MaxTracedWeights {
		n = MaxTracedWeights
	}
	return append([]float64(nil), data[:n]...)
}
