package neuralnet

import (
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// WeightInitializer produces a layer's starting weight matrix, shaped
// [outputDim x inputDim].
type WeightInitializer interface {
	Initialize(inputDim, outputDim int) *mat.Dense
	Name() string
}

const defaultRandomScale = 0.1

// RandomInit draws weights uniformly from [-Scale, Scale].
type RandomInit struct {
	Scale float64
	rng   *rand.Rand
}

func (r RandomInit) Initialize(inputDim, outputDim int) *mat.Dense {
	w := mat.NewDense(outputDim, inputDim, nil)
	w.Apply(func(_, _ int, _ float64) float64 {
		return (2*r.rng.Float64() - 1) * r.Scale
	}, w)
	return w
}

func (r RandomInit) Name() string { return "random" }

// HeInit draws from N(0, sqrt(2/inputDim)).
type HeInit struct {
	rng *rand.Rand
}

func (h HeInit) Initialize(inputDim, outputDim int) *mat.Dense {
	return normalMatrix(h.rng, inputDim, outputDim, math.Sqrt(2/float64(inputDim)))
}

func (h HeInit) Name() string { return "he" }

// XavierInit draws from N(0, sqrt(1/(inputDim+outputDim))).
type XavierInit struct {
	rng *rand.Rand
}

func (x XavierInit) Initialize(inputDim, outputDim int) *mat.Dense {
	return normalMatrix(x.rng, inputDim, outputDim, math.Sqrt(1/float64(inputDim+outputDim)))
}

func (x XavierInit) Name() string { return "xavier" }

// XavierUniformInit draws uniformly from ±sqrt(6/(inputDim+outputDim)).
type XavierUniformInit struct {
	rng *rand.Rand
}

func (x XavierUniformInit) Initialize(inputDim, outputDim int) *mat.Dense {
	limit := math.Sqrt(6 / float64(inputDim+outputDim))
	w := mat.NewDense(outputDim, inputDim, nil)
	w.Apply(func(_, _ int, _ float64) float64 {
		return 2*x.rng.Float64()*limit - limit
	}, w)
	return w
}

func (x XavierUniformInit) Name() string { return "xavier_uniform" }

type ZeroInit struct{}

func (ZeroInit) Initialize(inputDim, outputDim int) *mat.Dense {
	return mat.NewDense(outputDim, inputDim, nil)
}

func (ZeroInit) Name() string { return "zero" }

// NewInitializer resolves an initializer by name, falling back to He.
func NewInitializer(name string, rng *rand.Rand) WeightInitializer {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "random":
		return RandomInit{Scale: defaultRandomScale, rng: rng}
	case "he":
		return HeInit{rng: rng}
	case "xavier", "glorot":
		return XavierInit{rng: rng}
	case "xavier_uniform", "glorot_uniform":
		return XavierUniformInit{rng: rng}
	case "zero", "zeros":
		return ZeroInit{}
	default:
		return HeInit{rng: rng}
	}
}

// RecommendedInitializer picks the initializer suited to an activation.
func RecommendedInitializer(activation string, rng *rand.Rand) WeightInitializer {
	switch strings.ToLower(strings.TrimSpace(activation)) {
	case "relu", "leaky_relu":
		return HeInit{rng: rng}
	case "sigmoid", "tanh":
		return XavierInit{rng: rng}
	case "linear":
		return RandomInit{Scale: defaultRandomScale, rng: rng}
	default:
		return HeInit{rng: rng}
	}
}

func normalMatrix(rng *rand.Rand, inputDim, outputDim int, std float64) *mat.Dense {
	w := mat.NewDense(outputDim, inputDim, nil)
	w.Apply(func(_, _ int, _ float64) float64 {
		return boxMuller(rng) * std
	}, w)
	return w
}

// boxMuller returns one standard normal draw.
func boxMuller(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	for u1 == 0 {
		u1 = rng.Float64()
	}
	u2 := rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
