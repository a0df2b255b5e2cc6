package tensor

import (
	"fmt"
)

// Tensor is a dense, row-major float32 array living in host memory.
// Parameters additionally carry a gradient buffer of the same size.
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int

	requiresGrad bool
	grad         []float32
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d, requires_grad=%t)",
		t.Shape, t.NumElems, t.requiresGrad)
}

// RequiresGrad reports whether the tensor collects gradients.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad enables or disables gradient collection. Enabling it
// allocates a zeroed gradient buffer.
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
	if requires && len(t.grad) != t.NumElems {
		t.grad = make([]float32, t.NumElems)
	}
	if !requires {
		t.grad = nil
	}
}

// Grad returns the gradient buffer, or nil for tensors without gradients.
func (t *Tensor) Grad() []float32 {
	return t.grad
}

// AccumulateGrad adds g element-wise into the gradient buffer.
func (t *Tensor) AccumulateGrad(g []float32) error {
	if !t.requiresGrad {
		return fmt.Errorf("tensor %v does not require gradients", t.Shape)
	}
	if len(g) != len(t.grad) {
		return fmt.Errorf("gradient length %d does not match tensor size %d", len(g), len(t.grad))
	}
	for i, v := range g {
		t.grad[i] += v
	}
	return nil
}

// ZeroGrad clears the gradient buffer in place.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: must have at least one dimension")
	}
	for i, dim := range shape {
		if dim < 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be non-negative", i, dim)
		}
	}
	return nil
}
