// Package training runs the epoch loop of an experiment: batches flow
// through a Model, metrics are accumulated, parameters are stepped, and
// the Orchestrator decides what to evaluate, save and report.
package training

import (
	"github.com/samuelsimko/scaling-mlps/checkpoints"
	"github.com/samuelsimko/scaling-mlps/tensor"
)

// FLOPCounter reports the forward cost of one sample.
type FLOPCounter interface {
	FLOPsPerSample(resolution int) (int64, error)
}

// Model interface defines what the training loop needs from a network
type Model interface {
	FLOPCounter

	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	// Backward accumulates parameter gradients for the last Forward.
	Backward(gradOutput *tensor.Tensor) error
	Parameters() []*tensor.Tensor // Returns trainable parameters (tensors with requiresGrad=true)
	Train()                       // Sets module to training mode
	Eval()                        // Sets module to evaluation mode

	Snapshot() checkpoints.ParameterState
	Restore(state checkpoints.ParameterState) error
}
