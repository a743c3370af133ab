// Package playground drives a NeuralNetwork over synthetic surface data: it
// builds the network and datasets from a Config, runs the epoch loop with a
// cooperative yield between epochs and reports progress to the host.
package playground

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"nnplayground/dataset"
	"nnplayground/neuralnet"
)

var ErrTrainingInProgress = errors.New("playground: training in progress")

type State int

const (
	StateIdle State = iota
	StateInitialized
	StateTraining
	StateCompleted
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitialized:
		return "initialized"
	case StateTraining:
		return "training"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// YieldFunc runs between epochs. A non-nil error stops the run.
type YieldFunc func(ctx context.Context) error

type Option func(*Controller)

func WithLogger(l *logrus.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

func WithVisualizer(v Visualizer) Option {
	return func(c *Controller) { c.visualizer = v }
}

// WithYield replaces the default between-epoch yield.
func WithYield(y YieldFunc) Option {
	return func(c *Controller) { c.yield = y }
}

// Controller owns one playground session. All exported methods are safe for
// concurrent use; mu is held for the whole of each epoch so setters called
// from other goroutines land between epochs.
type Controller struct {
	mu         sync.Mutex
	cfg        Config
	log        *logrus.Logger
	observer   Observer
	visualizer Visualizer
	yield      YieldFunc

	rng       *rand.Rand
	network   *neuralnet.NeuralNetwork
	scaler    *dataset.StandardScaler
	train     *dataset.GeneratedData
	test      *dataset.GeneratedData
	grid      *dataset.Grid
	gridInput *mat.Dense
	runID     string

	state        State
	currentEpoch int
	lastErr      error
	done         chan struct{}

	training atomic.Bool
	stop     atomic.Bool
}

// New returns an idle controller. Call Initialize before training.
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		log:      logrus.New(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	c.rng = rand.New(rand.NewSource(seed))
	return c
}

func (c *Controller) entry() *logrus.Entry {
	return c.log.WithField("run_id", c.runID)
}

// Initialize builds fresh data, scaler and network from the current config.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.training.Load() {
		return ErrTrainingInProgress
	}
	return c.initializeLocked()
}

func (c *Controller) initializeLocked() error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	dataCfg := c.cfg.Data
	dataCfg.Noise = c.cfg.Training.Noise

	gen := dataset.NewGenerator(c.rng)
	data, err := gen.Generate(dataCfg)
	if err != nil {
		return err
	}
	train, test, err := gen.SplitTrainTest(data, c.cfg.TestRatio)
	if err != nil {
		return err
	}
	grid, err := dataset.NewGrid(dataCfg, c.cfg.GridSize)
	if err != nil {
		return err
	}

	var scaler *dataset.StandardScaler
	gridInput := grid.Points
	if c.cfg.UseNormalization {
		scaler = dataset.NewStandardScaler()
		if err := scaler.Fit(train.X, train.Y); err != nil {
			return err
		}
		if train, err = scaleData(scaler, train); err != nil {
			return err
		}
		if test.Len() > 0 {
			if test, err = scaleData(scaler, test); err != nil {
				return err
			}
		}
		if gridInput, err = scaler.TransformX(grid.Points); err != nil {
			return err
		}
	}

	netCfg := c.cfg.Network
	netCfg.OptimizerParams.LearningRate = c.cfg.Training.LearningRate
	network, err := neuralnet.New(netCfg, c.rng)
	if err != nil {
		return err
	}

	c.network = network
	c.scaler = scaler
	c.train, c.test = train, test
	c.grid, c.gridInput = grid, gridInput
	c.runID = uuid.NewString()
	c.state = StateInitialized
	c.currentEpoch = 0
	c.lastErr = nil

	c.entry().WithFields(logrus.Fields{
		"function":      grid.Function,
		"train_samples": train.Len(),
		"test_samples":  test.Len(),
		"params":        network.NumParams(),
		"normalized":    c.cfg.UseNormalization,
	}).Info("session initialized")
	return nil
}

func scaleData(s *dataset.StandardScaler, d *dataset.GeneratedData) (*dataset.GeneratedData, error) {
	X, err := s.TransformX(d.X)
	if err != nil {
		return nil, err
	}
	Y, err := s.TransformY(d.Y)
	if err != nil {
		return nil, err
	}
	return &dataset.GeneratedData{X: X, Y: Y}, nil
}

// StartTraining runs the epoch loop until every epoch is done, the run is
// stopped, or an epoch fails. It is a logged no-op when a run is already
// active or the session is not initialized. Context cancellation counts as
// a stop, not an error.
func (c *Controller) StartTraining(ctx context.Context) error {
	run, ok := c.begin()
	if !ok {
		return nil
	}
	return c.loop(ctx, run)
}

// Start is StartTraining on a new goroutine. The guard is taken before
// Start returns, so a StopTraining issued right after is never lost. The
// channel yields the run's result and is then closed.
func (c *Controller) Start(ctx context.Context) <-chan error {
	errc := make(chan error, 1)
	run, ok := c.begin()
	if !ok {
		close(errc)
		return errc
	}
	go func() {
		errc <- c.loop(ctx, run)
		close(errc)
	}()
	return errc
}

type runPlan struct {
	start, total int
	done         chan struct{}
	yield        YieldFunc
}

func (c *Controller) begin() (runPlan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.training.Load() {
		c.entry().Warn("start ignored: already training")
		return runPlan{}, false
	}
	if c.network == nil || c.train == nil {
		c.entry().Warn("start ignored: session not initialized")
		return runPlan{}, false
	}

	total := c.cfg.Training.NumEpochs
	start := 0
	switch {
	case c.state == StateStopped && c.currentEpoch > 0 && c.currentEpoch < total:
		start = c.currentEpoch
	case c.state == StateInitialized && c.cfg.Training.StartEpoch > 0:
		start = c.cfg.Training.StartEpoch
		c.currentEpoch = start
	default:
		c.network.History().Reset()
		c.currentEpoch = 0
	}

	yield := c.yield
	if yield == nil {
		yield = defaultYield(c.cfg.FrameInterval)
	}
	c.stop.Store(false)
	c.training.Store(true)
	c.state = StateTraining
	c.lastErr = nil
	c.done = make(chan struct{})

	c.entry().WithFields(logrus.Fields{
		"start_epoch": start,
		"epochs":      total,
		"optimizer":   c.network.OptimizerName(),
		"loss":        c.network.Loss().Name(),
	}).Info("training started")
	return runPlan{start: start, total: total, done: c.done, yield: yield}, true
}

func (c *Controller) loop(ctx context.Context, run runPlan) error {
	defer close(run.done)
	for epoch := run.start; epoch < run.total; epoch++ {
		if c.stop.Load() || ctx.Err() != nil {
			return c.finish(StateStopped, nil)
		}
		loss, progress, frame, err := c.runEpoch(epoch, run.total)
		if err != nil {
			return c.finish(StateErrored, err)
		}
		c.observer.OnEpoch(epoch, loss, progress)
		if frame != nil {
			c.visualizer.Render(*frame)
		}
		if epoch == run.total-1 {
			break
		}
		if err := run.yield(ctx); err != nil {
			if ctx.Err() != nil {
				return c.finish(StateStopped, nil)
			}
			return c.finish(StateErrored, err)
		}
	}
	return c.finish(StateCompleted, nil)
}

// runEpoch trains one epoch and records its telemetry under mu.
func (c *Controller) runEpoch(epoch, total int) (float64, float64, *Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	net := c.network
	res, err := net.TrainOneEpoch(c.train.X, c.train.Y, c.cfg.Training.BatchSize)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("epoch %d: %w", epoch, err)
	}
	trainAcc, err := net.Accuracy(c.train.X, c.train.Y, c.cfg.AccuracyThreshold)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("epoch %d: %w", epoch, err)
	}
	var testAcc float64
	if c.test.Len() > 0 {
		if testAcc, err = net.Accuracy(c.test.X, c.test.Y, c.cfg.AccuracyThreshold); err != nil {
			return 0, 0, nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
	}

	history := net.History()
	history.Record(epoch, res.Loss, res.GradientNorm, trainAcc, testAcc)
	if epoch%neuralnet.SnapshotInterval(total) == 0 {
		surface, err := c.predictSurface()
		if err != nil {
			return 0, 0, nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		history.RecordPredictions(epoch, surface)
	}
	if epoch%neuralnet.WeightTraceInterval == 0 {
		history.RecordWeights(epoch, neuralnet.SelectedWeights(net.Layers()[0]))
	}

	c.currentEpoch = epoch + 1
	progress := c.progressLocked()
	c.entry().WithFields(logrus.Fields{
		"epoch":     epoch,
		"loss":      res.Loss,
		"grad_norm": res.GradientNorm,
		"train_acc": trainAcc,
		"test_acc":  testAcc,
	}).Debug("epoch complete")

	var frame *Frame
	if c.visualizer != nil {
		frame = &Frame{
			RunID:       c.runID,
			Epoch:       epoch,
			TotalEpochs: total,
			History:     history.Clone(),
			Grid:        c.grid,
		}
	}
	return res.Loss, progress, frame, nil
}

// predictSurface evaluates the network over the grid in original units.
func (c *Controller) predictSurface() (*tensor.Dense, error) {
	pred, err := c.network.Predict(c.gridInput)
	if err != nil {
		return nil, err
	}
	if c.scaler != nil {
		if pred, err = c.scaler.InverseTransformY(pred); err != nil {
			return nil, err
		}
	}
	return c.grid.Surface(mat.Col(nil, 0, pred))
}

func (c *Controller) finish(state State, err error) error {
	c.mu.Lock()
	c.state = state
	c.lastErr = err
	epoch := c.currentEpoch
	c.training.Store(false)
	entry := c.entry().WithFields(logrus.Fields{"state": state.String(), "epochs_done": epoch})
	c.mu.Unlock()

	if err != nil {
		entry.WithError(err).Error("training failed")
	} else {
		entry.Info("training ended")
	}
	c.observer.OnComplete(state, err)
	return err
}

func defaultYield(interval time.Duration) YieldFunc {
	if interval <= 0 {
		return func(ctx context.Context) error {
			runtime.Gosched()
			return ctx.Err()
		}
	}
	return func(ctx context.Context) error {
		t := time.NewTimer(interval)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
}

// StopTraining asks the active run to stop at the next epoch boundary. An
// epoch already in progress finishes first.
func (c *Controller) StopTraining() {
	if !c.training.Load() {
		c.log.Debug("stop ignored: not training")
		return
	}
	c.stop.Store(true)
}

// Reset stops any active run, waits for it to finish and rebuilds the
// session with new data and new weights.
func (c *Controller) Reset() error {
	// A run may begin between wait and Lock; begin sets the guard under mu,
	// so checking it under mu is authoritative.
	for {
		c.StopTraining()
		c.wait()
		c.mu.Lock()
		if !c.training.Load() {
			break
		}
		c.mu.Unlock()
	}
	defer c.mu.Unlock()
	c.currentEpoch = 0
	return c.initializeLocked()
}

// wait blocks until the active run, if any, has finished.
func (c *Controller) wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// SetOptimizer swaps every layer's optimizer, discarding its state.
func (c *Controller) SetOptimizer(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Network.Optimizer = name
	if c.network != nil {
		c.network.SetOptimizer(name, c.optimizerParamsLocked())
	}
}

// SetLearningRate rebuilds the optimizers at the new rate. Their state is
// discarded.
func (c *Controller) SetLearningRate(lr float64) error {
	if lr <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g", neuralnet.ErrInvalidConfig, lr)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Training.LearningRate = lr
	if c.network != nil {
		c.network.SetOptimizer(c.network.OptimizerName(), c.optimizerParamsLocked())
	}
	return nil
}

func (c *Controller) optimizerParamsLocked() neuralnet.OptimizerConfig {
	params := c.cfg.Network.OptimizerParams
	params.LearningRate = c.cfg.Training.LearningRate
	return params
}

func (c *Controller) SetLoss(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Network.Loss = name
	if c.network != nil {
		c.network.SetLoss(name)
	}
}

// SetWeightInitializer reinitializes every layer of the live network.
func (c *Controller) SetWeightInitializer(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Network.WeightInitializer = name
	if c.network != nil {
		c.network.SetWeightInitializer(name)
	}
}

// SetLayerInitializer overrides one layer's initializer and reinitializes
// that layer. Index counts hidden layers first, then the output layer.
func (c *Controller) SetLayerInitializer(index int, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	layers := len(c.cfg.Network.HiddenDims) + 1
	if index < 0 || index >= layers {
		return fmt.Errorf("%w: layer index %d out of range [0, %d)", neuralnet.ErrInvalidConfig, index, layers)
	}
	if c.network != nil {
		if err := c.network.SetLayerInitializer(index, name); err != nil {
			return err
		}
	}
	inits := make([]string, layers)
	copy(inits, c.cfg.Network.LayerInitializers)
	inits[index] = name
	c.cfg.Network.LayerInitializers = inits
	return nil
}

// SetUseNormalization changes every downstream computation, so it resets
// the session when the value changes.
func (c *Controller) SetUseNormalization(on bool) error {
	c.mu.Lock()
	if c.cfg.UseNormalization == on {
		c.mu.Unlock()
		return nil
	}
	c.cfg.UseNormalization = on
	initialized := c.network != nil
	c.mu.Unlock()
	if !initialized {
		return nil
	}
	return c.Reset()
}

// SetConfig replaces the config wholesale. An initialized session is
// rebuilt, stopping any active run first.
func (c *Controller) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	initialized := c.network != nil
	c.mu.Unlock()
	if !initialized {
		return nil
	}
	return c.Reset()
}

func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentEpoch is the number of completed epochs in the current run.
func (c *Controller) CurrentEpoch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentEpoch
}

// Progress is the completed share of the run as a percentage.
func (c *Controller) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked()
}

func (c *Controller) progressLocked() float64 {
	if c.cfg.Training.NumEpochs <= 0 {
		return 0
	}
	return float64(c.currentEpoch) / float64(c.cfg.Training.NumEpochs) * 100
}

func (c *Controller) IsTraining() bool { return c.training.Load() }

// History returns a copy of the live network's history, or nil before
// Initialize.
func (c *Controller) History() *neuralnet.TrainingHistory {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.network == nil {
		return nil
	}
	return c.network.History().Clone()
}

func (c *Controller) Grid() *dataset.Grid {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grid
}

// Network returns the live network. It must not be used while a run is
// active.
func (c *Controller) Network() *neuralnet.NeuralNetwork {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.network
}

func (c *Controller) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// LastError is the error that ended the most recent run, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
