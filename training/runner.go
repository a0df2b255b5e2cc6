package training

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samuelsimko/scaling-mlps/optimizer"
	"github.com/samuelsimko/scaling-mlps/tensor"
)

var tracer = otel.Tracer("scaling-mlps.training")

// Mode selects what a pass does with each batch.
type Mode int

const (
	// ModeTrain runs forward, backward and an optimizer step per batch.
	ModeTrain Mode = iota
	// ModeEval runs forward only.
	ModeEval
)

func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeEval:
		return "eval"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// DefaultTopK is the k of the secondary accuracy metric.
const DefaultTopK = 5

// EpochResult holds the aggregate metrics of one pass. Accuracies are
// percentages.
type EpochResult struct {
	Accuracy float64
	TopK     float64
	Loss     float64
	Elapsed  time.Duration
}

// BatchProcessingError aborts a pass. No partial result is returned
// alongside it.
type BatchProcessingError struct {
	Mode  Mode
	Epoch int
	Batch int
	Err   error
}

func (e *BatchProcessingError) Error() string {
	return fmt.Sprintf("%s epoch %d batch %d: %v", e.Mode, e.Epoch, e.Batch, e.Err)
}

func (e *BatchProcessingError) Unwrap() error {
	return e.Err
}

// RunnerConfig holds the per-batch knobs of an EpochRunner
type RunnerConfig struct {
	// ChannelAvg averages [B, C, H, W] inputs over C before flattening.
	ChannelAvg bool
	// Clip bounds the global gradient norm; zero disables clipping.
	Clip float64
	// Mixup is the mixup strength; blending only happens when it is positive.
	Mixup float64
	// TopK defaults to DefaultTopK.
	TopK int

	// Progress draws a bar per pass on ProgressOut.
	Progress    bool
	ProgressOut io.Writer
}

// EpochRunner executes one full pass over a data stream.
type EpochRunner struct {
	config RunnerConfig
	logger *slog.Logger
}

// NewEpochRunner creates an EpochRunner
func NewEpochRunner(config RunnerConfig, logger *slog.Logger) *EpochRunner {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EpochRunner{config: config, logger: logger}
}

// Train runs one training epoch and steps the scheduler once at its end.
func (r *EpochRunner) Train(ctx context.Context, model Model, loader Stream, loss Loss, opt optimizer.Optimizer, sched Scheduler, epoch int) (EpochResult, error) {
	if opt == nil {
		return EpochResult{}, fmt.Errorf("train: optimizer is required")
	}
	result, err := r.run(ctx, ModeTrain, model, loader, loss, opt, epoch)
	if err != nil {
		return EpochResult{}, err
	}
	if sched != nil {
		sched.Step()
	}
	return result, nil
}

// Evaluate runs one forward-only pass.
func (r *EpochRunner) Evaluate(ctx context.Context, model Model, loader Stream, loss Loss) (EpochResult, error) {
	return r.run(ctx, ModeEval, model, loader, loss, nil, 0)
}

func (r *EpochRunner) run(ctx context.Context, mode Mode, model Model, loader Stream, loss Loss, opt optimizer.Optimizer, epoch int) (EpochResult, error) {
	_, span := tracer.Start(ctx, "EpochRunner."+mode.String(),
		trace.WithAttributes(
			attribute.String("pass.mode", mode.String()),
			attribute.Int("pass.epoch", epoch),
			attribute.Int("pass.batches", loader.Len()),
		),
	)
	defer span.End()

	start := time.Now()
	if mode == ModeTrain {
		model.Train()
	} else {
		model.Eval()
	}

	var bar *ProgressBar
	if r.config.Progress {
		description := "Evaluation"
		if mode == ModeTrain {
			description = fmt.Sprintf("Training epoch: %d", epoch)
		}
		bar = NewProgressBar(r.config.ProgressOut, description, loader.Len())
	}

	var top1Meter, topkMeter, lossMeter AverageMeter
	loader.Reset()
	for step := 0; ; step++ {
		batch, err := loader.Next()
		if err == nil && batch == nil {
			break
		}
		if err == nil {
			err = r.step(mode, model, batch, loss, opt, &top1Meter, &topkMeter, &lossMeter)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return EpochResult{}, &BatchProcessingError{Mode: mode, Epoch: epoch, Batch: step, Err: err}
		}
		if bar != nil {
			bar.Update(step+1, map[string]float64{"loss": lossMeter.Average(false)})
		}
	}
	if bar != nil {
		bar.Finish()
	}

	result := EpochResult{
		Accuracy: top1Meter.Average(true),
		TopK:     topkMeter.Average(true),
		Loss:     lossMeter.Average(false),
		Elapsed:  time.Since(start),
	}
	span.SetAttributes(
		attribute.Float64("pass.accuracy", result.Accuracy),
		attribute.Float64("pass.loss", result.Loss),
		attribute.Int("pass.samples", lossMeter.Count()),
	)
	r.logger.Debug("pass finished",
		"mode", mode.String(),
		"epoch", epoch,
		"samples", lossMeter.Count(),
		"loss", result.Loss,
		"accuracy", result.Accuracy,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (r *EpochRunner) step(mode Mode, model Model, batch *Batch, loss Loss, opt optimizer.Optimizer, top1Meter, topkMeter, lossMeter *AverageMeter) error {
	if batch.Targets == nil {
		return fmt.Errorf("batch has no targets")
	}
	if mode == ModeTrain {
		opt.ZeroGrad()
	}

	inputs, err := r.prepareInputs(batch.Inputs)
	if err != nil {
		return err
	}
	n := inputs.Shape[0]
	if batch.Targets.Len() != n {
		return fmt.Errorf("%d targets for %d inputs", batch.Targets.Len(), n)
	}
	if n == 0 {
		return nil
	}

	preds, err := model.Forward(inputs)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}

	mixed, blend := batch.Targets.(Mixed)
	blend = blend && mode == ModeTrain && r.config.Mixup > 0

	var (
		lossValue float64
		secondary []int32
	)
	primary := batch.Targets.PrimaryLabels()
	if blend {
		lossValue, err = MixedLoss(loss, preds, mixed)
		secondary = mixed.Secondary
	} else {
		lossValue, err = loss.Forward(preds, primary)
	}
	if err != nil {
		return fmt.Errorf("loss: %w", err)
	}

	if mode == ModeTrain {
		var grad *tensor.Tensor
		if blend {
			grad, err = MixedLossGrad(loss, preds, mixed)
		} else {
			grad, err = loss.Backward(preds, primary)
		}
		if err != nil {
			return fmt.Errorf("loss gradient: %w", err)
		}
		if err := model.Backward(grad); err != nil {
			return fmt.Errorf("backward: %w", err)
		}
		if r.config.Clip > 0 {
			optimizer.ClipGradNorm(model.Parameters(), r.config.Clip)
		}
		if err := opt.Step(); err != nil {
			return fmt.Errorf("optimizer step: %w", err)
		}
	}

	acc, topk, err := TopKAccuracyAvg(preds, primary, secondary, r.config.TopK)
	if err != nil {
		return fmt.Errorf("accuracy: %w", err)
	}
	top1Meter.Update(acc, n)
	topkMeter.Update(topk, n)
	lossMeter.Update(lossValue, n)
	return nil
}

// prepareInputs applies the optional channel average and flattens the
// batch to [B, features].
func (r *EpochRunner) prepareInputs(inputs *tensor.Tensor) (*tensor.Tensor, error) {
	if inputs == nil || len(inputs.Shape) == 0 {
		return nil, fmt.Errorf("batch has no inputs")
	}
	if r.config.ChannelAvg {
		if len(inputs.Shape) != 4 {
			return nil, fmt.Errorf("channel average needs [B, C, H, W] inputs, got %v", inputs.Shape)
		}
		avg, err := tensor.MeanAxis(inputs, 1)
		if err != nil {
			return nil, err
		}
		inputs = avg
	}
	return inputs.Flatten()
}
