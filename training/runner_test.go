package training

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/samuelsimko/scaling-mlps/optimizer"
)

func newTestLoader(t *testing.T, n, classes, batch int) *DataLoader {
	t.Helper()
	dl, err := NewDataLoader(newIndexDataset(n, classes), DataLoaderConfig{BatchSize: batch, Workers: 2})
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}
	return dl
}

func newTestLoss(t *testing.T) *CrossEntropyLoss {
	t.Helper()
	ce, err := NewCrossEntropyLoss(0)
	if err != nil {
		t.Fatalf("failed to create loss: %v", err)
	}
	return ce
}

func TestEpochRunnerTrain(t *testing.T) {
	model := newScriptedModel(2)
	opt := optimizer.NewSGD(model.Parameters(), optimizer.DefaultSGDConfig())
	sched := &countingScheduler{}
	runner := NewEpochRunner(RunnerConfig{}, nil)

	result, err := runner.Train(context.Background(), model, newTestLoader(t, 10, 2, 4), newTestLoss(t), opt, sched, 1)
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if sched.steps != 1 {
		t.Errorf("scheduler stepped %d times, expected 1", sched.steps)
	}
	if model.backwards != 3 || opt.GetStepCount() != 3 {
		t.Errorf("backwards = %d, optimizer steps = %d, expected 3 each", model.backwards, opt.GetStepCount())
	}
	if result.Accuracy != 100 || result.TopK != 100 {
		t.Errorf("accuracy = %v, top-k = %v, expected 100", result.Accuracy, result.TopK)
	}
	if math.IsNaN(result.Loss) || result.Loss <= 0 {
		t.Errorf("unexpected loss %v", result.Loss)
	}
	if !model.training {
		t.Error("model should be in training mode after a training pass")
	}
}

func TestEpochRunnerEvaluate(t *testing.T) {
	model := newScriptedModel(2, 5)
	runner := NewEpochRunner(RunnerConfig{}, nil)

	result, err := runner.Evaluate(context.Background(), model, newTestLoader(t, 10, 2, 3), newTestLoss(t))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if math.Abs(result.Accuracy-50) > 1e-9 {
		t.Errorf("accuracy = %v, expected 50", result.Accuracy)
	}
	if result.TopK != 100 {
		t.Errorf("top-5 of a 2-class problem should saturate, got %v", result.TopK)
	}
	if model.backwards != 0 {
		t.Errorf("evaluation ran %d backward passes", model.backwards)
	}
}

func TestEpochRunnerBatchFailure(t *testing.T) {
	model := newScriptedModel(2)
	model.failOn = 2
	opt := optimizer.NewSGD(model.Parameters(), optimizer.DefaultSGDConfig())
	sched := &countingScheduler{}
	runner := NewEpochRunner(RunnerConfig{}, nil)

	_, err := runner.Train(context.Background(), model, newTestLoader(t, 10, 2, 4), newTestLoss(t), opt, sched, 7)
	var batchErr *BatchProcessingError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchProcessingError, got %v", err)
	}
	if batchErr.Mode != ModeTrain || batchErr.Epoch != 7 || batchErr.Batch != 1 {
		t.Errorf("unexpected error fields %+v", batchErr)
	}
	if sched.steps != 0 {
		t.Error("scheduler must not step after a failed epoch")
	}
}

func TestEpochRunnerStreamFailure(t *testing.T) {
	stream := &sliceStream{err: errors.New("disk gone"), errAt: 0}
	runner := NewEpochRunner(RunnerConfig{}, nil)

	_, err := runner.Evaluate(context.Background(), newScriptedModel(2), stream, newTestLoss(t))
	var batchErr *BatchProcessingError
	if !errors.As(err, &batchErr) || batchErr.Mode != ModeEval {
		t.Fatalf("expected eval BatchProcessingError, got %v", err)
	}
}

func TestEpochRunnerSkipsEmptyBatch(t *testing.T) {
	stream := func() *sliceStream {
		empty := mustTensor([]int{0, 2}, []float32{})
		full := mustTensor([]int{2, 2}, []float32{0, 0, 1, 1})
		return &sliceStream{batches: []*Batch{
			{Inputs: empty, Targets: Plain{Labels: []int32{}}},
			{Inputs: full, Targets: Plain{Labels: []int32{0, 1}}},
		}}
	}
	runner := NewEpochRunner(RunnerConfig{}, nil)

	model := newScriptedModel(2)
	result, err := runner.Evaluate(context.Background(), model, stream(), newTestLoss(t))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if result.Accuracy != 100 {
		t.Errorf("accuracy = %v, expected 100", result.Accuracy)
	}
	if model.forwards != 1 {
		t.Errorf("forward called %d times, expected 1", model.forwards)
	}

	model = newScriptedModel(2)
	opt := optimizer.NewSGD(model.Parameters(), optimizer.SGDConfig{LearningRate: 0.1})
	if _, err := runner.Train(context.Background(), model, stream(), newTestLoss(t), opt, nil, 1); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if model.backwards != 1 {
		t.Errorf("backward called %d times, expected 1", model.backwards)
	}
}

func mixedStream() *sliceStream {
	// The model predicts the label stored in column 0, which matches the
	// secondary labels only.
	inputs := mustTensor([]int{4, 2}, []float32{0, 0, 1, 1, 0, 2, 1, 3})
	return &sliceStream{batches: []*Batch{{
		Inputs: inputs,
		Targets: Mixed{
			Primary:   []int32{1, 0, 1, 0},
			Secondary: []int32{0, 1, 0, 1},
			Weight:    0.6,
		},
	}}}
}

func TestEpochRunnerScoresMixedTargets(t *testing.T) {
	tests := []struct {
		name     string
		mixup    float64
		eval     bool
		expected float64
	}{
		{"train with mixup", 0.8, false, 100},
		{"train without mixup", 0, false, 0},
		{"eval uses primary", 0.8, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := newScriptedModel(2)
			runner := NewEpochRunner(RunnerConfig{Mixup: tt.mixup, TopK: 1}, nil)
			var (
				result EpochResult
				err    error
			)
			if tt.eval {
				model.correct = []int{100}
				result, err = runner.Evaluate(context.Background(), model, mixedStream(), newTestLoss(t))
			} else {
				opt := optimizer.NewSGD(model.Parameters(), optimizer.DefaultSGDConfig())
				result, err = runner.Train(context.Background(), model, mixedStream(), newTestLoss(t), opt, nil, 1)
			}
			if err != nil {
				t.Fatalf("pass failed: %v", err)
			}
			if result.Accuracy != tt.expected {
				t.Errorf("accuracy = %v, expected %v", result.Accuracy, tt.expected)
			}
		})
	}
}

func TestEpochRunnerChannelAverage(t *testing.T) {
	// [B, C, H, W] = [2, 3, 1, 2]; every channel holds [label, index].
	data := []float32{
		0, 0, 0, 0, 0, 0,
		1, 1, 1, 1, 1, 1,
	}
	batch := &Batch{Inputs: mustTensor([]int{2, 3, 1, 2}, data), Targets: Plain{Labels: []int32{0, 1}}}

	runner := NewEpochRunner(RunnerConfig{ChannelAvg: true}, nil)
	model := newScriptedModel(2, 100)
	result, err := runner.Evaluate(context.Background(), model, &sliceStream{batches: []*Batch{batch}}, newTestLoss(t))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if result.Accuracy != 100 {
		t.Errorf("accuracy = %v, expected 100", result.Accuracy)
	}

	flat := NewEpochRunner(RunnerConfig{}, nil)
	if _, err := flat.Evaluate(context.Background(), newScriptedModel(2), &sliceStream{batches: []*Batch{batch}}, newTestLoss(t)); err == nil {
		t.Error("expected shape error without channel averaging")
	}
}

func TestEpochRunnerClipsGradients(t *testing.T) {
	model := newScriptedModel(2)
	opt := optimizer.NewSGD(model.Parameters(), optimizer.SGDConfig{LearningRate: 0.1})
	runner := NewEpochRunner(RunnerConfig{Clip: 0.5}, nil)

	if _, err := runner.Train(context.Background(), model, newTestLoader(t, 4, 2, 4), newTestLoss(t), opt, nil, 1); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if norm := optimizer.GradNorm(model.Parameters()); math.Abs(norm-0.5) > 1e-4 {
		t.Errorf("gradient norm after clipping = %v, expected 0.5", norm)
	}
}

func TestComputeEstimator(t *testing.T) {
	est := NewComputeEstimator()
	perEpoch, err := est.PerEpoch(newScriptedModel(2), 100, 64)
	if err != nil {
		t.Fatalf("per-epoch compute failed: %v", err)
	}
	if perEpoch != 3000 {
		t.Errorf("per-epoch compute = %v, expected 3000", perEpoch)
	}
	if got := est.Cumulative(perEpoch, 3); got != 9000 {
		t.Errorf("cumulative compute = %v, expected 9000", got)
	}
	if _, err := est.PerEpoch(newScriptedModel(2), -1, 64); err == nil {
		t.Error("expected error for negative sample count")
	}
}
