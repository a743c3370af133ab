package playground

import (
	"github.com/sirupsen/logrus"

	"nnplayground/dataset"
	"nnplayground/neuralnet"
)

// Observer receives host-facing progress callbacks. Callbacks run on the
// training goroutine between epochs; they may call StopTraining but must not
// call Reset or any setter that waits for the run to finish.
type Observer interface {
	OnEpoch(epoch int, loss, progress float64)
	OnComplete(state State, err error)
}

// Frame is what the visualization consumer gets after every completed
// epoch. History is a private copy; Grid is shared and read-only.
type Frame struct {
	RunID       string
	Epoch       int
	TotalEpochs int
	History     *neuralnet.TrainingHistory
	Grid        *dataset.Grid
}

// Visualizer renders frames. It makes no assumption beyond numeric arrays.
type Visualizer interface {
	Render(frame Frame)
}

// ObserverFuncs adapts plain functions to Observer; nil fields are skipped.
type ObserverFuncs struct {
	Epoch    func(epoch int, loss, progress float64)
	Complete func(state State, err error)
}

func (o ObserverFuncs) OnEpoch(epoch int, loss, progress float64) {
	if o.Epoch != nil {
		o.Epoch(epoch, loss, progress)
	}
}

func (o ObserverFuncs) OnComplete(state State, err error) {
	if o.Complete != nil {
		o.Complete(state, err)
	}
}

// LogObserver writes progress through logrus.
type LogObserver struct {
	Logger *logrus.Logger
	// Every limits epoch lines to one per Every epochs; 0 logs all of them.
	Every int
}

func (o LogObserver) OnEpoch(epoch int, loss, progress float64) {
	if o.Every > 1 && epoch%o.Every != 0 {
		return
	}
	o.Logger.WithFields(logrus.Fields{
		"epoch":    epoch,
		"loss":     loss,
		"progress": progress,
	}).Info("epoch complete")
}

func (o LogObserver) OnComplete(state State, err error) {
	entry := o.Logger.WithField("state", state.String())
	if err != nil {
		entry.WithError(err).Error("training ended with error")
		return
	}
	entry.Info("training finished")
}

type nopObserver struct{}

func (nopObserver) OnEpoch(int, float64, float64) {}
func (nopObserver) OnComplete(State, error)       {}
