package optimizer

import (
	"math"

	"github.com/samuelsimko/scaling-mlps/tensor"
)

// GradNorm returns the global L2 norm over all parameter gradients.
func GradNorm(params []*tensor.Tensor) float64 {
	var sum float64
	for _, p := range params {
		for _, g := range p.Grad() {
			sum += float64(g) * float64(g)
		}
	}
	return math.Sqrt(sum)
}

// ClipGradNorm rescales gradients in place so their global L2 norm is at
// most maxNorm. It returns the norm before clipping. A non-positive
// maxNorm leaves gradients untouched.
func ClipGradNorm(params []*tensor.Tensor, maxNorm float64) float64 {
	norm := GradNorm(params)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	scale := float32(maxNorm / (norm + 1e-6))
	for _, p := range params {
		grad := p.Grad()
		for i := range grad {
			grad[i] *= scale
		}
	}
	return norm
}
