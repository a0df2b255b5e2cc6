package optimizer

import (
	"math"
	"sync"

	"github.com/samuelsimko/scaling-mlps/tensor"
)

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64

	// Decoupled applies weight decay directly to the parameters (AdamW)
	// instead of adding it to the gradient.
	Decoupled bool
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// Adam implements the Adam optimizer, and AdamW when Decoupled is set
type Adam struct {
	config     AdamConfig
	parameters []*tensor.Tensor
	m          [][]float32 // First moment estimates
	v          [][]float32 // Second moment estimates
	stepCount  uint64
	mutex      sync.RWMutex
}

// NewAdam creates a new Adam optimizer
func NewAdam(parameters []*tensor.Tensor, config AdamConfig) *Adam {
	params := trainable(parameters)
	return &Adam{
		config:     config,
		parameters: params,
		m:          newState(params),
		v:          newState(params),
	}
}

// Step performs a single optimization step
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.stepCount++

	cfg := adam.config
	// Bias correction factors
	bias1 := 1.0 - math.Pow(cfg.Beta1, float64(adam.stepCount))
	bias2 := 1.0 - math.Pow(cfg.Beta2, float64(adam.stepCount))
	stepSize := cfg.LearningRate / bias1
	b1, b2 := float32(cfg.Beta1), float32(cfg.Beta2)

	for i, param := range adam.parameters {
		m, v := adam.m[i], adam.v[i]
		for j, g := range param.Grad() {
			if cfg.WeightDecay > 0 {
				if cfg.Decoupled {
					param.Data[j] -= float32(cfg.LearningRate*cfg.WeightDecay) * param.Data[j]
				} else {
					g += float32(cfg.WeightDecay) * param.Data[j]
				}
			}

			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g

			denom := math.Sqrt(float64(v[j])/bias2) + cfg.Epsilon
			param.Data[j] -= float32(stepSize * float64(m[j]) / denom)
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// GetLR returns the current learning rate
func (adam *Adam) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.config.LearningRate
}

// SetLR sets the learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.config.LearningRate = lr
}

// GetStepCount returns the number of completed steps
func (adam *Adam) GetStepCount() uint64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.stepCount
}
