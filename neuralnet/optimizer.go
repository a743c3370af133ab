package neuralnet

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

const DefaultLearningRate = 0.01

// OptimizerConfig carries the hyperparameters of every optimizer variant.
// Zero values are replaced by the variant's defaults.
type OptimizerConfig struct {
	LearningRate       float64 `json:"learningRate"`
	Momentum           float64 `json:"momentum"`
	Decay              float64 `json:"decay"`
	Beta1              float64 `json:"beta1"`
	Beta2              float64 `json:"beta2"`
	Epsilon            float64 `json:"epsilon"`
	WeightDecay        float64 `json:"weightDecay"`
	InitialAccumulator float64 `json:"initialAccumulator"`
}

// Optimizer converts averaged gradients into an in-place parameter update
// for the single layer it was built for. Its state is shaped at
// construction and never resized.
type Optimizer interface {
	Update(layer *Layer, grads *Gradients) error
	Name() string
}

// NewOptimizer builds an optimizer for a layer of the given shape, falling
// back to SGD for unknown names.
func NewOptimizer(name string, cfg OptimizerConfig, outputDim, inputDim int) Optimizer {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultLearningRate
	}
	shape := paramShape{rows: outputDim, cols: inputDim}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rmsprop":
		return newRMSProp(cfg, shape)
	case "adam":
		return newAdam(cfg, shape)
	case "adagrad":
		return newAdagrad(cfg, shape)
	default:
		return newSGD(cfg, shape)
	}
}

type paramShape struct {
	rows, cols int
}

// state allocates one weight-shaped and one bias-shaped buffer.
func (s paramShape) state(fill float64) [2][]float64 {
	w := make([]float64, s.rows*s.cols)
	b := make([]float64, s.rows)
	if fill != 0 {
		for i := range w {
			w[i] = fill
		}
		for i := range b {
			b[i] = fill
		}
	}
	return [2][]float64{w, b}
}

// slices exposes the layer's parameters and the matching gradients as flat
// weight/bias pairs after checking that they fit the optimizer's shape.
func (s paramShape) slices(layer *Layer, grads *Gradients) (params, g [2][]float64, err error) {
	if layer.OutputDim() != s.rows || layer.InputDim() != s.cols {
		return params, g, fmt.Errorf("%w: optimizer built for %dx%d, layer is %dx%d",
			ErrDimensionMismatch, s.rows, s.cols, layer.OutputDim(), layer.InputDim())
	}
	gr, gc := grads.Weights.Dims()
	if gr != s.rows || gc != s.cols || grads.Bias.Len() != s.rows {
		return params, g, fmt.Errorf("%w: gradients are %dx%d, optimizer expects %dx%d",
			ErrDimensionMismatch, gr, gc, s.rows, s.cols)
	}
	params = [2][]float64{layer.Weights().RawMatrix().Data, layer.Bias().RawVector().Data}
	g = [2][]float64{grads.Weights.RawMatrix().Data, grads.Bias.RawVector().Data}
	return params, g, nil
}

// SGD implements stochastic gradient descent with optional momentum.
//
//	v = momentum*v + g
//	p = p - lr*v
type SGD struct {
	shape    paramShape
	lr       float64
	momentum float64
	velocity [2][]float64
}

func newSGD(cfg OptimizerConfig, shape paramShape) *SGD {
	o := &SGD{shape: shape, lr: cfg.LearningRate, momentum: cfg.Momentum}
	if o.momentum != 0 {
		o.velocity = shape.state(0)
	}
	return o
}

func (o *SGD) Update(layer *Layer, grads *Gradients) error {
	params, g, err := o.shape.slices(layer, grads)
	if err != nil {
		return err
	}
	for k := range params {
		if o.momentum == 0 {
			floats.AddScaled(params[k], -o.lr, g[k])
			continue
		}
		floats.Scale(o.momentum, o.velocity[k])
		floats.Add(o.velocity[k], g[k])
		floats.AddScaled(params[k], -o.lr, o.velocity[k])
	}
	return nil
}

func (o *SGD) Name() string { return "sgd" }

// RMSProp scales each step by a moving average of squared gradients.
type RMSProp struct {
	shape paramShape
	lr    float64
	decay float64
	eps   float64
	cache [2][]float64
}

func newRMSProp(cfg OptimizerConfig, shape paramShape) *RMSProp {
	if cfg.Decay == 0 {
		cfg.Decay = 0.9
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-8
	}
	return &RMSProp{shape: shape, lr: cfg.LearningRate, decay: cfg.Decay, eps: cfg.Epsilon, cache: shape.state(0)}
}

func (o *RMSProp) Update(layer *Layer, grads *Gradients) error {
	params, g, err := o.shape.slices(layer, grads)
	if err != nil {
		return err
	}
	for k := range params {
		p, c := params[k], o.cache[k]
		for i, gi := range g[k] {
			c[i] = o.decay*c[i] + (1-o.decay)*gi*gi
			p[i] -= o.lr * gi / (math.Sqrt(c[i]) + o.eps)
		}
	}
	return nil
}

func (o *RMSProp) Name() string { return "rmsprop" }

// Adam keeps bias-corrected first and second moment estimates.
//
//	m = beta1*m + (1-beta1)*g
//	v = beta2*v + (1-beta2)*g²
//	p = p - lr * (m/(1-beta1^t)) / (sqrt(v/(1-beta2^t)) + eps)
type Adam struct {
	shape paramShape
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	t     int
	m     [2][]float64
	v     [2][]float64
}

func newAdam(cfg OptimizerConfig, shape paramShape) *Adam {
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-8
	}
	return &Adam{
		shape: shape,
		lr:    cfg.LearningRate,
		beta1: cfg.Beta1,
		beta2: cfg.Beta2,
		eps:   cfg.Epsilon,
		m:     shape.state(0),
		v:     shape.state(0),
	}
}

func (o *Adam) Update(layer *Layer, grads *Gradients) error {
	params, g, err := o.shape.slices(layer, grads)
	if err != nil {
		return err
	}
	o.t++
	bc1 := 1 - math.Pow(o.beta1, float64(o.t))
	bc2 := 1 - math.Pow(o.beta2, float64(o.t))
	for k := range params {
		p, m, v := params[k], o.m[k], o.v[k]
		for i, gi := range g[k] {
			m[i] = o.beta1*m[i] + (1-o.beta1)*gi
			v[i] = o.beta2*v[i] + (1-o.beta2)*gi*gi
			p[i] -= o.lr * (m[i] / bc1) / (math.Sqrt(v[i]/bc2) + o.eps)
		}
	}
	return nil
}

func (o *Adam) Name() string { return "adam" }

// Timestep returns the number of updates applied so far.
func (o *Adam) Timestep() int { return o.t }

// Adagrad accumulates squared gradients monotonically. A non-zero weight
// decay folds an L2 term into the weight gradient before accumulation.
type Adagrad struct {
	shape       paramShape
	lr          float64
	eps         float64
	weightDecay float64
	cache       [2][]float64
}

func newAdagrad(cfg OptimizerConfig, shape paramShape) *Adagrad {
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-10
	}
	return &Adagrad{
		shape:       shape,
		lr:          cfg.LearningRate,
		eps:         cfg.Epsilon,
		weightDecay: cfg.WeightDecay,
		cache:       shape.state(cfg.InitialAccumulator),
	}
}

func (o *Adagrad) Update(layer *Layer, grads *Gradients) error {
	params, g, err := o.shape.slices(layer, grads)
	if err != nil {
		return err
	}
	for k := range params {
		p, c := params[k], o.cache[k]
		for i, gi := range g[k] {
			// weight decay applies to weights only (k == 0)
			if k == 0 && o.weightDecay != 0 {
				gi += o.weightDecay * p[i]
			}
			c[i] += gi * gi
			p[i] -= o.lr * gi / (math.Sqrt(c[i]) + o.eps)
		}
	}
	return nil
}

func (o *Adagrad) Name() string { return "adagrad" }
