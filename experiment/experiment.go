package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/samuelsimko/scaling-mlps/checkpoints"
	"github.com/samuelsimko/scaling-mlps/config"
	"github.com/samuelsimko/scaling-mlps/layers"
	"github.com/samuelsimko/scaling-mlps/optimizer"
	"github.com/samuelsimko/scaling-mlps/tracking"
	"github.com/samuelsimko/scaling-mlps/training"
	"github.com/samuelsimko/scaling-mlps/vision/dataset"
)

// Options adjusts how New wires an experiment.
type Options struct {
	Logger      *slog.Logger
	Out         io.Writer     // architecture and epoch summaries, stdout when nil
	ProgressOut io.Writer     // progress bars, stderr when nil
	Sink        tracking.Sink // replaces the configured tracking backends
	CacheSize   int           // decoded image-folder samples kept in memory
}

// Experiment is a fully assembled run.
type Experiment struct {
	Config       *config.Configuration
	Info         dataset.Info
	Identity     string
	Network      *layers.Network
	Sink         tracking.Sink
	Orchestrator *training.Orchestrator

	logger *slog.Logger
}

// New resolves cfg and builds every collaborator of the run. cfg is
// updated with its derived fields and must not be changed afterwards.
func New(ctx context.Context, cfg *config.Configuration, opts Options) (*Experiment, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	info, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}

	network, err := layers.Build(layers.Options{
		Model:        cfg.Model,
		Architecture: cfg.Architecture,
		Resolution:   cfg.Resolution,
		NumChannels:  cfg.NumChannels,
		NumClasses:   cfg.NumClasses,
		Seed:         cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	cfg.NumParams = network.NumParameters()
	training.NewModelArchitecturePrinter(cfg.Model).PrintArchitecture(out, network.Spec())

	loaderOpts := dataset.LoaderOptions{
		Dataset:    cfg.Dataset,
		DataPath:   cfg.DataPath,
		Split:      dataset.SplitTrain,
		Resolution: cfg.Resolution,
		BatchSize:  cfg.BatchSize,
		Workers:    cfg.Workers,
		Seed:       cfg.Seed,
		Augment:    cfg.Augment,
		Mixup:      cfg.Mixup,
		Limit:      cfg.NTrain,
		CacheSize:  opts.CacheSize,
	}
	train, _, err := dataset.NewLoader(loaderOpts)
	if err != nil {
		return nil, err
	}
	if n := train.Samples(); n != cfg.NTrain {
		logger.Warn("training split is smaller than n_train", "n_train", cfg.NTrain, "available", n)
		cfg.NTrain = n
	}
	loaderOpts.Split = dataset.SplitTest
	test, _, err := dataset.NewLoader(loaderOpts)
	if err != nil {
		return nil, err
	}

	loss, err := training.NewCrossEntropyLoss(cfg.Smooth)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "smooth", Value: fmt.Sprint(cfg.Smooth), Err: err}
	}
	opt, err := optimizer.Build(cfg.Optimizer, network.Parameters(), cfg.LR, cfg.WeightDecay)
	if err != nil {
		return nil, err
	}
	sched, err := training.BuildScheduler(cfg.Scheduler, opt, training.SchedulerOptions{
		StepSize: cfg.StepSize,
		Gamma:    cfg.Gamma,
		TMax:     cfg.Epochs,
	})
	if err != nil {
		return nil, err
	}

	format, err := checkpoints.ParseFormat(cfg.CheckpointFormat)
	if err != nil {
		return nil, err
	}
	identity, err := checkpoints.DeriveIdentity(cfg)
	if err != nil {
		return nil, err
	}

	sink := opts.Sink
	if sink == nil {
		sink, err = openSink(ctx, cfg, identity, logger)
		if err != nil {
			return nil, err
		}
	}

	orch, err := training.NewOrchestrator(training.OrchestratorConfig{
		Config:      cfg,
		Model:       network,
		TrainData:   train,
		TestData:    test,
		Loss:        loss,
		Optimizer:   opt,
		Scheduler:   sched,
		Checkpoints: checkpoints.NewManager(cfg.CheckpointFolder, format, logger),
		Runner: training.NewEpochRunner(training.RunnerConfig{
			ChannelAvg:  cfg.ChannelAvg,
			Clip:        cfg.Clip,
			Mixup:       cfg.Mixup,
			Progress:    cfg.Progress,
			ProgressOut: opts.ProgressOut,
		}, logger),
		Sink:    sink,
		Summary: training.NewSummaryPrinter(out),
		Logger:  logger,
	})
	if err != nil {
		sink.Close()
		return nil, err
	}

	return &Experiment{
		Config:       cfg,
		Info:         info,
		Identity:     identity,
		Network:      network,
		Sink:         sink,
		Orchestrator: orch,
		logger:       logger,
	}, nil
}

func openSink(ctx context.Context, cfg *config.Configuration, identity string, logger *slog.Logger) (tracking.Sink, error) {
	if !cfg.Tracking.Enabled() {
		logger.Info("no tracking backend configured, metrics are only printed")
		return tracking.Noop{}, nil
	}
	snapshot, err := cfg.Snapshot()
	if err != nil {
		return nil, err
	}
	run := tracking.NewRun(cfg, identity, snapshot)
	sink, err := tracking.Open(ctx, cfg.Tracking, run, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("tracking run", "run_id", run.ID, "name", run.Name, "tags", run.Tags)

	if prom, ok := tracking.Find[*tracking.PrometheusSink](sink); ok {
		if err := prom.Serve(ctx, cfg.Tracking.MetricsAddr); err != nil {
			sink.Close()
			return nil, err
		}
		logger.Info("serving metrics", "addr", cfg.Tracking.MetricsAddr)
	}
	return sink, nil
}

// Run trains until every epoch is done or ctx is cancelled.
func (e *Experiment) Run(ctx context.Context) (*training.RunSummary, error) {
	summary, err := e.Orchestrator.Run(ctx)
	if errors.Is(err, context.Canceled) {
		e.logger.Warn("training interrupted", "identity", e.Identity)
	}
	return summary, err
}

// Close releases the tracking sinks.
func (e *Experiment) Close() error {
	return e.Sink.Close()
}
