package optimizer

import (
	"sync"

	"github.com/samuelsimko/scaling-mlps/tensor"
)

// LionConfig holds configuration for the Lion optimizer
type LionConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	WeightDecay  float64
}

// DefaultLionConfig returns default Lion optimizer configuration
func DefaultLionConfig() LionConfig {
	return LionConfig{
		LearningRate: 1e-4,
		Beta1:        0.9,
		Beta2:        0.99,
		WeightDecay:  0.0,
	}
}

// Lion updates each parameter by the sign of an interpolated momentum,
// with decoupled weight decay.
type Lion struct {
	config     LionConfig
	parameters []*tensor.Tensor
	momentum   [][]float32
	stepCount  uint64
	mutex      sync.RWMutex
}

// NewLion creates a new Lion optimizer
func NewLion(parameters []*tensor.Tensor, config LionConfig) *Lion {
	params := trainable(parameters)
	return &Lion{
		config:     config,
		parameters: params,
		momentum:   newState(params),
	}
}

// Step performs a single optimization step
func (l *Lion) Step() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	lr := float32(l.config.LearningRate)
	decay := float32(1 - l.config.LearningRate*l.config.WeightDecay)
	b1, b2 := float32(l.config.Beta1), float32(l.config.Beta2)

	for i, param := range l.parameters {
		m := l.momentum[i]
		for j, g := range param.Grad() {
			param.Data[j] *= decay

			c := b1*m[j] + (1-b1)*g
			switch {
			case c > 0:
				param.Data[j] -= lr
			case c < 0:
				param.Data[j] += lr
			}

			m[j] = b2*m[j] + (1-b2)*g
		}
	}

	l.stepCount++
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (l *Lion) ZeroGrad() {
	tensor.ZeroGrad(l.parameters)
}

// GetLR returns the current learning rate
func (l *Lion) GetLR() float64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.config.LearningRate
}

// SetLR sets the learning rate
func (l *Lion) SetLR(lr float64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.config.LearningRate = lr
}

// GetStepCount returns the number of completed steps
func (l *Lion) GetStepCount() uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.stepCount
}
