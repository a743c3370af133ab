package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"nnplayground/dataset"
	"nnplayground/playground"
	"nnplayground/vizstream"
)

func main() {
	configPath := flag.String("config", "", "JSON session config; flags override it")
	function := flag.String("function", dataset.DefaultFunction, "target surface: "+strings.Join(dataset.Names(), ", "))
	samples := flag.Int("samples", 200, "number of samples")
	noise := flag.Float64("noise", 0, "target noise scale")
	hidden := flag.String("hidden", "8", "comma-separated hidden layer sizes")
	activation := flag.String("activation", "relu", "hidden activation")
	optimizer := flag.String("optimizer", "sgd", "sgd, rmsprop, adam or adagrad")
	loss := flag.String("loss", "mse", "mse, mae, binary_cross_entropy or cross_entropy")
	lr := flag.Float64("lr", 0.01, "learning rate")
	epochs := flag.Int("epochs", 100, "number of epochs")
	batch := flag.Int("batch", 32, "mini-batch size")
	normalize := flag.Bool("normalize", false, "standardize inputs and targets")
	seed := flag.Int64("seed", 0, "random seed (0 = time based)")
	frame := flag.Duration("frame", 0, "pause between epochs")
	listen := flag.String("listen", "", "serve the websocket frame stream on this address, e.g. :8080")
	pngPath := flag.String("png", "", "write the latest prediction snapshot to this PNG (snapshots are taken every max(1, epochs/50) epochs)")
	verbose := flag.Bool("v", false, "log every epoch")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := playground.DefaultConfig()
	if *configPath != "" {
		if err := loadConfig(*configPath, &cfg); err != nil {
			log.WithError(err).Fatal("load config")
		}
	}

	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "function":
			cfg.Data.Function = *function
		case "samples":
			cfg.Data.NumSamples = *samples
		case "noise":
			cfg.Training.Noise = *noise
		case "hidden":
			dims, err := parseDims(*hidden)
			if err != nil {
				flagErr = err
				return
			}
			cfg.Network.HiddenDims = dims
		case "optimizer":
			cfg.Network.Optimizer = *optimizer
		case "loss":
			cfg.Network.Loss = *loss
		case "lr":
			cfg.Training.LearningRate = *lr
		case "epochs":
			cfg.Training.NumEpochs = *epochs
		case "batch":
			cfg.Training.BatchSize = *batch
		case "normalize":
			cfg.UseNormalization = *normalize
		case "seed":
			cfg.Seed = *seed
		case "frame":
			cfg.FrameInterval = *frame
		}
	})
	if flagErr != nil {
		log.WithError(flagErr).Fatal("bad -hidden")
	}
	if len(cfg.Network.HiddenActivations) != len(cfg.Network.HiddenDims) || isSet("activation") {
		cfg.Network.HiddenActivations = make([]string, len(cfg.Network.HiddenDims))
		for i := range cfg.Network.HiddenActivations {
			cfg.Network.HiddenActivations[i] = *activation
		}
	}
	if len(cfg.Network.LayerInitializers) != 0 && len(cfg.Network.LayerInitializers) != len(cfg.Network.HiddenDims)+1 {
		cfg.Network.LayerInitializers = nil
	}

	every := cfg.Training.NumEpochs / 10
	if *verbose {
		every = 1
	}
	opts := []playground.Option{
		playground.WithLogger(log),
		playground.WithObserver(playground.LogObserver{Logger: log, Every: every}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *listen != "" {
		hub := newStream(log, *listen)
		opts = append(opts, playground.WithVisualizer(hub))
	}

	ctrl := playground.New(cfg, opts...)
	if err := ctrl.Initialize(); err != nil {
		log.WithError(err).Fatal("initialize")
	}
	log.Info("\n" + ctrl.Network().String())

	if err := ctrl.StartTraining(ctx); err != nil {
		log.WithError(err).Fatal("training failed")
	}

	history := ctrl.History()
	if n := history.Len(); n > 0 {
		log.WithFields(logrus.Fields{
			"state":     ctrl.State().String(),
			"epochs":    n,
			"loss":      history.Loss[n-1],
			"train_acc": history.TrainAccuracy[n-1],
			"test_acc":  history.TestAccuracy[n-1],
		}).Info("summary")
	}

	if *pngPath != "" {
		epoch, err := saveLatestSurface(history, *pngPath)
		if errors.Is(err, errNoSnapshot) {
			log.Warn("no prediction snapshot to save")
			return
		}
		if err != nil {
			log.WithError(err).Fatal("save surface")
		}
		log.WithFields(logrus.Fields{"path": *pngPath, "epoch": epoch}).Info("surface saved")
	}
}

func isSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func parseDims(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	dims := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		if d < 1 {
			return nil, errors.New("hidden sizes must be positive")
		}
		dims = append(dims, d)
	}
	return dims, nil
}

// newStream serves hub frames on addr/ws in the background.
func newStream(log *logrus.Logger, addr string) *vizstream.Hub {
	hub := vizstream.NewHub(log)
	mux := http.NewServeMux()
	mux.Handle("/ws", hub.Handler())
	go func() {
		log.WithField("addr", addr).Info("frame stream listening on /ws")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("frame stream stopped")
		}
	}()
	return hub
}
