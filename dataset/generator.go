package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

var (
	ErrInvalidConfig = errors.New("dataset: invalid configuration")
	ErrInvalidRatio  = errors.New("dataset: split ratio must be in [0, 1)")
	ErrEmptyData     = errors.New("dataset: no samples")
)

// Range is a closed interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) span() float64 { return r.Max - r.Min }

// Config describes how synthetic samples are drawn.
type Config struct {
	Function   string  `json:"function"`
	NumSamples int     `json:"numSamples"`
	XRange     Range   `json:"xRange"`
	YRange     Range   `json:"yRange"`
	Noise      float64 `json:"noise"`
}

func DefaultConfig() Config {
	return Config{
		Function:   DefaultFunction,
		NumSamples: 200,
		XRange:     Range{Min: -2, Max: 2},
		YRange:     Range{Min: -2, Max: 2},
	}
}

func (c Config) Validate() error {
	switch {
	case c.NumSamples < 1:
		return fmt.Errorf("%w: numSamples must be positive, got %d", ErrInvalidConfig, c.NumSamples)
	case c.XRange.Max < c.XRange.Min:
		return fmt.Errorf("%w: x range [%g, %g]", ErrInvalidConfig, c.XRange.Min, c.XRange.Max)
	case c.YRange.Max < c.YRange.Min:
		return fmt.Errorf("%w: y range [%g, %g]", ErrInvalidConfig, c.YRange.Min, c.YRange.Max)
	case c.Noise < 0:
		return fmt.Errorf("%w: noise must be non-negative, got %g", ErrInvalidConfig, c.Noise)
	}
	return nil
}

// GeneratedData holds N samples: X is [N x 2], Y is [N x 1].
type GeneratedData struct {
	X *mat.Dense
	Y *mat.Dense
}

// Len is the number of samples.
func (d *GeneratedData) Len() int {
	if d == nil || d.X == nil {
		return 0
	}
	r, _ := d.X.Dims()
	return r
}

// rows copies the given sample rows into a new GeneratedData.
func (d *GeneratedData) rows(idx []int) *GeneratedData {
	_, xc := d.X.Dims()
	_, yc := d.Y.Dims()
	if len(idx) == 0 {
		return &GeneratedData{X: &mat.Dense{}, Y: &mat.Dense{}}
	}
	out := &GeneratedData{
		X: mat.NewDense(len(idx), xc, nil),
		Y: mat.NewDense(len(idx), yc, nil),
	}
	for i, j := range idx {
		out.X.SetRow(i, d.X.RawRowView(j))
		out.Y.SetRow(i, d.Y.RawRowView(j))
	}
	return out
}

// Generator draws samples from a seeded source.
type Generator struct {
	rng *rand.Rand
}

func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Generator{rng: rng}
}

// Generate samples (x, y) uniformly from the configured ranges and sets
// z = f(x, y) + noise.
func (g *Generator) Generate(cfg Config) (*GeneratedData, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fn, _ := Lookup(cfg.Function)
	data := &GeneratedData{
		X: mat.NewDense(cfg.NumSamples, 2, nil),
		Y: mat.NewDense(cfg.NumSamples, 1, nil),
	}
	for i := 0; i < cfg.NumSamples; i++ {
		x := cfg.XRange.Min + g.rng.Float64()*cfg.XRange.span()
		y := cfg.YRange.Min + g.rng.Float64()*cfg.YRange.span()
		z := fn(x, y)
		if cfg.Noise > 0 {
			z += g.noise() * cfg.Noise
		}
		data.X.Set(i, 0, x)
		data.X.Set(i, 1, y)
		data.Y.Set(i, 0, z)
	}
	return data, nil
}

// noise approximates a Gaussian with an Irwin-Hall sum of four uniforms,
// centred and halved. Its variance is 1/12, not 1.
func (g *Generator) noise() float64 {
	var sum float64
	for i := 0; i < 4; i++ {
		sum += g.rng.Float64()
	}
	return (sum - 2) / 2
}

// SplitTrainTest shuffles the samples and holds out floor(N*testRatio) of
// them for testing.
func (g *Generator) SplitTrainTest(data *GeneratedData, testRatio float64) (train, test *GeneratedData, err error) {
	if testRatio < 0 || testRatio >= 1 || math.IsNaN(testRatio) {
		return nil, nil, fmt.Errorf("%w: got %g", ErrInvalidRatio, testRatio)
	}
	n := data.Len()
	if n == 0 {
		return nil, nil, ErrEmptyData
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	g.rng.Shuffle(n, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })

	testCount := int(math.Floor(float64(n) * testRatio))
	return data.rows(indices[:n-testCount]), data.rows(indices[n-testCount:]), nil
}

// Grid is a regular Size x Size mesh over the configured ranges, used for
// surface display and model evaluation. Row i*Size+j of Points is
// (XAxis[j], YAxis[i]).
type Grid struct {
	Function string
	Size     int
	XAxis    []float64
	YAxis    []float64
	Points   *mat.Dense
	Truth    *tensor.Dense
}

// NewGrid evaluates cfg's function on a gridSize x gridSize mesh.
func NewGrid(cfg Config, gridSize int) (*Grid, error) {
	if gridSize < 1 {
		return nil, fmt.Errorf("%w: grid size must be positive, got %d", ErrInvalidConfig, gridSize)
	}
	fn, name := Lookup(cfg.Function)
	g := &Grid{
		Function: name,
		Size:     gridSize,
		XAxis:    axis(cfg.XRange, gridSize),
		YAxis:    axis(cfg.YRange, gridSize),
		Points:   mat.NewDense(gridSize*gridSize, 2, nil),
	}
	truth := make([]float64, gridSize*gridSize)
	for i, y := range g.YAxis {
		for j, x := range g.XAxis {
			k := i*gridSize + j
			g.Points.Set(k, 0, x)
			g.Points.Set(k, 1, y)
			truth[k] = fn(x, y)
		}
	}
	g.Truth = tensor.New(tensor.WithShape(gridSize, gridSize), tensor.WithBacking(truth))
	return g, nil
}

// Surface reshapes one value per grid point into a [Size, Size] tensor.
func (g *Grid) Surface(values []float64) (*tensor.Dense, error) {
	if len(values) != g.Size*g.Size {
		return nil, fmt.Errorf("%w: %d values for a %dx%d grid", ErrInvalidConfig, len(values), g.Size, g.Size)
	}
	backing := append([]float64(nil), values...)
	return tensor.New(tensor.WithShape(g.Size, g.Size), tensor.WithBacking(backing)), nil
}

func axis(r Range, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = r.Min
		return out
	}
	step := r.span() / float64(n-1)
	for i := range out {
		out[i] = r.Min + float64(i)*step
	}
	return out
}
