package optimizer

import (
	"sync"

	"github.com/samuelsimko/scaling-mlps/tensor"
)

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	Dampening    float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.9,
		Dampening:    0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// SGD implements Stochastic Gradient Descent with optional momentum and
// L2 weight decay.
type SGD struct {
	config     SGDConfig
	parameters []*tensor.Tensor
	velocities [][]float32
	stepCount  uint64
	mutex      sync.RWMutex
}

// NewSGD creates a new SGD optimizer
func NewSGD(parameters []*tensor.Tensor, config SGDConfig) *SGD {
	params := trainable(parameters)
	sgd := &SGD{
		config:     config,
		parameters: params,
	}
	// Velocity buffers exist only with momentum
	if config.Momentum > 0 {
		sgd.velocities = newState(params)
	}
	return sgd
}

// Step performs a single optimization step
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	lr := float32(sgd.config.LearningRate)
	wd := float32(sgd.config.WeightDecay)
	mom := float32(sgd.config.Momentum)
	damp := float32(1 - sgd.config.Dampening)

	for i, param := range sgd.parameters {
		grad := param.Grad()
		for j, g := range grad {
			// grad = grad + weight_decay * param
			g += wd * param.Data[j]

			if mom > 0 {
				v := sgd.velocities[i]
				if sgd.stepCount == 0 {
					v[j] = g
				} else {
					v[j] = mom*v[j] + damp*g
				}
				if sgd.config.Nesterov {
					g += mom * v[j]
				} else {
					g = v[j]
				}
			}

			param.Data[j] -= lr * g
		}
	}

	sgd.stepCount++
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

// GetLR returns the current learning rate
func (sgd *SGD) GetLR() float64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.config.LearningRate
}

// SetLR sets the learning rate
func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.config.LearningRate = lr
}

// GetStepCount returns the number of completed steps
func (sgd *SGD) GetStepCount() uint64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.stepCount
}
