package training

import (
	"fmt"
)

// TrainingFLOPFactor converts forward FLOPs into the cost of a training
// step: one forward plus a backward pass of roughly twice the cost.
const TrainingFLOPFactor = 3

// ComputeEstimator derives the FLOP cost of training from the model's
// forward cost.
type ComputeEstimator struct {
	Factor float64
}

// NewComputeEstimator returns an estimator using TrainingFLOPFactor.
func NewComputeEstimator() *ComputeEstimator {
	return &ComputeEstimator{Factor: TrainingFLOPFactor}
}

// PerEpoch returns the FLOPs of one training pass over samples inputs at
// resolution.
func (e *ComputeEstimator) PerEpoch(model FLOPCounter, samples, resolution int) (float64, error) {
	if samples < 0 {
		return 0, fmt.Errorf("compute: negative sample count %d", samples)
	}
	forward, err := model.FLOPsPerSample(resolution)
	if err != nil {
		return 0, fmt.Errorf("compute: %w", err)
	}
	return float64(forward) * e.Factor * float64(samples), nil
}

// Cumulative returns the compute spent after epoch training passes.
func (e *ComputeEstimator) Cumulative(perEpoch float64, epoch int) float64 {
	return perEpoch * float64(epoch)
}
