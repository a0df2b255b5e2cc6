// Package optimizer updates model parameters from their accumulated
// gradients.
package optimizer

import (
	"github.com/samuelsimko/scaling-mlps/tensor"
)

// Optimizer defines the common interface for all optimizers
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate

	// GetStepCount returns the number of completed steps
	GetStepCount() uint64
}

// trainable returns the parameters that carry gradients.
func trainable(params []*tensor.Tensor) []*tensor.Tensor {
	out := make([]*tensor.Tensor, 0, len(params))
	for _, p := range params {
		if p.RequiresGrad() && p.Grad() != nil {
			out = append(out, p)
		}
	}
	return out
}

// newState allocates one zeroed buffer per parameter.
func newState(params []*tensor.Tensor) [][]float32 {
	state := make([][]float32, len(params))
	for i, p := range params {
		state[i] = make([]float32, p.NumElems)
	}
	return state
}
