package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/samuelsimko/scaling-mlps/checkpoints"
	"github.com/samuelsimko/scaling-mlps/config"
	"github.com/samuelsimko/scaling-mlps/optimizer"
)

// Metric names reported to the sink.
const (
	MetricTrainingTime     = "Training time"
	MetricTrainingLoss     = "Training loss"
	MetricTrainingAccuracy = "Training accuracy"
	MetricTrainingTopK     = "Training Top 5 accuracy"
	MetricTestAccuracy     = "Test accuracy"
	MetricTestTopK         = "Test Top 5 accuracy"
	MetricTestLoss         = "Test loss"
	MetricInferenceTime    = "Inference time"
	MetricCompute          = "Compute"
)

// MetricSink receives per-epoch metrics. Failures are reported but never
// stop training.
type MetricSink interface {
	Log(ctx context.Context, epoch int, metrics map[string]float64) error
}

// ExperimentRecord is the mutable state of a run. BestAccuracy only ever
// increases.
type ExperimentRecord struct {
	Identity     string
	Path         string
	BestAccuracy float64
	Epoch        int
	Compute      float64
}

// RunSummary describes a finished run.
type RunSummary struct {
	Record        ExperimentRecord
	Created       bool
	Reloaded      bool
	PerEpoch      float64
	BestSaves     int
	PeriodicSaves int
	LastTrain     EpochResult
	LastTest      *EpochResult
	Elapsed       time.Duration
}

// OrchestratorConfig wires the collaborators of a run.
type OrchestratorConfig struct {
	Config    *config.Configuration
	Model     Model
	TrainData Stream
	TestData  Stream
	Loss      Loss
	Optimizer optimizer.Optimizer
	Scheduler Scheduler

	Checkpoints *checkpoints.Manager
	Runner      *EpochRunner
	Estimator   *ComputeEstimator
	Sink        MetricSink
	Summary     *SummaryPrinter
	Logger      *slog.Logger
}

// Orchestrator drives the epoch loop of an experiment.
type Orchestrator struct {
	cfg    OrchestratorConfig
	record ExperimentRecord
	logger *slog.Logger
}

// NewOrchestrator validates the wiring and returns an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	switch {
	case cfg.Config == nil:
		return nil, fmt.Errorf("orchestrator: configuration is required")
	case cfg.Model == nil:
		return nil, fmt.Errorf("orchestrator: model is required")
	case cfg.TrainData == nil || cfg.TestData == nil:
		return nil, fmt.Errorf("orchestrator: train and test streams are required")
	case cfg.Loss == nil:
		return nil, fmt.Errorf("orchestrator: loss is required")
	case cfg.Optimizer == nil:
		return nil, fmt.Errorf("orchestrator: optimizer is required")
	case cfg.Checkpoints == nil:
		return nil, fmt.Errorf("orchestrator: checkpoint manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Runner == nil {
		cfg.Runner = NewEpochRunner(RunnerConfig{
			ChannelAvg: cfg.Config.ChannelAvg,
			Clip:       cfg.Config.Clip,
			Mixup:      cfg.Config.Mixup,
		}, cfg.Logger)
	}
	if cfg.Estimator == nil {
		cfg.Estimator = NewComputeEstimator()
	}
	return &Orchestrator{
		cfg:    cfg,
		record: ExperimentRecord{BestAccuracy: -1},
		logger: cfg.Logger,
	}, nil
}

// Record returns a copy of the current experiment record.
func (o *Orchestrator) Record() ExperimentRecord {
	return o.record
}

// Run executes every epoch. Cancellation of ctx is observed between epochs.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	start := time.Now()
	cfg := o.cfg.Config

	ctx, span := tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()

	identity, err := checkpoints.DeriveIdentity(cfg)
	if err != nil {
		return nil, err
	}
	snapshot, err := cfg.Snapshot()
	if err != nil {
		return nil, err
	}
	dir, created, err := o.cfg.Checkpoints.EnsureDirectory(identity, snapshot)
	if err != nil {
		return nil, err
	}
	o.record.Identity = identity
	o.record.Path = dir
	span.SetAttributes(attribute.String("experiment.identity", identity))

	summary := &RunSummary{Created: created}
	if cfg.Reload {
		summary.Reloaded = o.reload(dir)
	}

	perEpoch, err := o.cfg.Estimator.PerEpoch(o.cfg.Model, cfg.NTrain, cfg.Resolution)
	if err != nil {
		return nil, err
	}
	summary.PerEpoch = perEpoch

	o.logger.Info("starting training",
		"identity", identity,
		"epochs", cfg.Epochs,
		"train_batches", o.cfg.TrainData.Len(),
		"flops_per_epoch", perEpoch,
	)

	for ep := 1; ep <= cfg.Epochs; ep++ {
		if err := ctx.Err(); err != nil {
			summary.Record = o.record
			summary.Elapsed = time.Since(start)
			return summary, err
		}
		if err := o.epoch(ctx, ep, perEpoch, summary); err != nil {
			return nil, err
		}
	}

	summary.Record = o.record
	summary.Elapsed = time.Since(start)
	o.logger.Info("training finished",
		"identity", identity,
		"best_accuracy", o.record.BestAccuracy,
		"compute", o.record.Compute,
		"elapsed", summary.Elapsed,
	)
	return summary, nil
}

func (o *Orchestrator) epoch(ctx context.Context, ep int, perEpoch float64, summary *RunSummary) error {
	cfg := o.cfg.Config
	ctx, span := tracer.Start(ctx, "Orchestrator.epoch", trace.WithAttributes(attribute.Int("epoch", ep)))
	defer span.End()

	epochStart := time.Now()
	train, err := o.cfg.Runner.Train(ctx, o.cfg.Model, o.cfg.TrainData, o.cfg.Loss, o.cfg.Optimizer, o.cfg.Scheduler, ep)
	if err != nil {
		return err
	}
	summary.LastTrain = train

	compute := o.cfg.Estimator.Cumulative(perEpoch, ep)
	o.record.Epoch = ep
	o.record.Compute = compute

	o.log(ctx, ep, map[string]float64{
		MetricTrainingTime: train.Elapsed.Seconds(),
		MetricTrainingLoss: train.Loss,
	})

	if cfg.ShouldSave(ep) {
		path := checkpoints.EpochPath(o.record.Path, ep, compute)
		if err := o.cfg.Checkpoints.Save(o.cfg.Model.Snapshot(), path, o.progress()); err != nil {
			return fmt.Errorf("save epoch checkpoint: %w", err)
		}
		summary.PeriodicSaves++
	}

	if !cfg.ShouldEvaluate(ep) {
		return nil
	}

	test, err := o.cfg.Runner.Evaluate(ctx, o.cfg.Model, o.cfg.TestData, o.cfg.Loss)
	if err != nil {
		return err
	}
	summary.LastTest = &test

	improved := o.cfg.Checkpoints.UpdateBest(test.Accuracy, o.record.BestAccuracy)
	if improved {
		o.record.BestAccuracy = test.Accuracy
		if cfg.Save {
			if err := o.cfg.Checkpoints.Save(o.cfg.Model.Snapshot(), checkpoints.OptimalPath(o.record.Path), o.progress()); err != nil {
				return fmt.Errorf("save optimal checkpoint: %w", err)
			}
			summary.BestSaves++
		}
		o.logger.Info("new best accuracy", "epoch", ep, "accuracy", test.Accuracy)
	}

	o.log(ctx, ep, map[string]float64{
		MetricTrainingTime:     train.Elapsed.Seconds(),
		MetricTrainingLoss:     train.Loss,
		MetricTrainingAccuracy: train.Accuracy,
		MetricTrainingTopK:     train.TopK,
		MetricTestAccuracy:     test.Accuracy,
		MetricTestTopK:         test.TopK,
		MetricTestLoss:         test.Loss,
		MetricInferenceTime:    test.Elapsed.Seconds(),
		MetricCompute:          compute,
	})

	if o.cfg.Summary != nil {
		o.cfg.Summary.Print(EpochSummary{
			Epoch:        ep,
			Elapsed:      time.Since(epochStart),
			Train:        train,
			Test:         test,
			Best:         o.record.BestAccuracy,
			Compute:      compute,
			ImprovedBest: improved,
		})
	}
	return nil
}

// reload restores the model from optimal_params. A missing or unreadable
// file leaves the fresh model in place.
func (o *Orchestrator) reload(dir string) bool {
	path := checkpoints.OptimalPath(dir)
	state, progress, err := o.cfg.Checkpoints.Load(path)
	if err != nil {
		var corrupt *checkpoints.CorruptCheckpointError
		switch {
		case errors.Is(err, checkpoints.ErrCheckpointNotFound):
			o.logger.Warn("no checkpoint to reload, starting from scratch", "path", path)
		case errors.As(err, &corrupt):
			o.logger.Warn("checkpoint is corrupt, starting from scratch", "path", path, "error", err)
		default:
			o.logger.Warn("could not read checkpoint, starting from scratch", "path", path, "error", err)
		}
		return false
	}
	if err := o.cfg.Model.Restore(state); err != nil {
		o.logger.Warn("checkpoint does not match the model, starting from scratch", "path", path, "error", err)
		return false
	}
	o.logger.Info("reloaded parameters",
		"path", path,
		"epoch", progress.Epoch,
		"best_accuracy", progress.BestAccuracy,
	)
	return true
}

func (o *Orchestrator) progress() checkpoints.TrainingState {
	return checkpoints.TrainingState{
		Epoch:        o.record.Epoch,
		BestAccuracy: o.record.BestAccuracy,
		Compute:      o.record.Compute,
	}
}

func (o *Orchestrator) log(ctx context.Context, ep int, metrics map[string]float64) {
	if o.cfg.Sink == nil {
		return
	}
	if err := o.cfg.Sink.Log(ctx, ep, metrics); err != nil {
		o.logger.Warn("metric sink failed", "epoch", ep, "error", err)
	}
}
