package layers

import (
	"fmt"
	"math/rand"

	"github.com/samuelsimko/scaling-mlps/checkpoints"
	"github.com/samuelsimko/scaling-mlps/tensor"
)

// Network executes a compiled ModelSpec on the CPU with manual
// backpropagation.
type Network struct {
	spec       *ModelSpec
	modules    []module
	params     []namedParam
	resolution int
	training   bool
	forwarded  bool
}

// NewNetwork instantiates spec with freshly initialised parameters.
// resolution is the image side length the input size was derived from;
// zero skips the resolution check in FLOPsPerSample.
func NewNetwork(spec *ModelSpec, resolution int, seed int64) (*Network, error) {
	if spec == nil || !spec.Compiled {
		return nil, fmt.Errorf("model not compiled")
	}

	rng := rand.New(rand.NewSource(seed))
	modules, err := buildModules(spec.Layers, rng)
	if err != nil {
		return nil, err
	}

	n := &Network{
		spec:       spec,
		modules:    modules,
		resolution: resolution,
		training:   true,
	}
	for _, m := range modules {
		n.params = append(n.params, m.parameters()...)
	}
	return n, nil
}

// Spec returns the compiled model description.
func (n *Network) Spec() *ModelSpec {
	return n.spec
}

// InputFeatures is the flattened per-sample input size.
func (n *Network) InputFeatures() int {
	return n.spec.InputShape[1]
}

// Forward maps [batch, features] inputs to [batch, classes] scores.
func (n *Network) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil || len(x.Shape) != 2 || x.Shape[1] != n.InputFeatures() {
		var shape []int
		if x != nil {
			shape = x.Shape
		}
		return nil, fmt.Errorf("expected input [batch, %d], got %v", n.InputFeatures(), shape)
	}
	out, err := forwardAll(n.modules, x)
	if err != nil {
		return nil, err
	}
	n.forwarded = true
	return out, nil
}

// Backward propagates the gradient of the loss with respect to the last
// Forward output, accumulating into every parameter's gradient.
func (n *Network) Backward(gradOutput *tensor.Tensor) error {
	if !n.forwarded {
		return fmt.Errorf("backward called before forward")
	}
	if !n.training {
		return fmt.Errorf("backward called in eval mode")
	}
	if _, err := backwardAll(n.modules, gradOutput); err != nil {
		return err
	}
	return nil
}

// Parameters returns the learnable tensors in a stable order.
func (n *Network) Parameters() []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(n.params))
	for i, p := range n.params {
		out[i] = p.t
	}
	return out
}

// NumParameters counts every learnable scalar.
func (n *Network) NumParameters() int64 {
	var total int64
	for _, p := range n.params {
		total += int64(p.t.NumElems)
	}
	return total
}

func (n *Network) Train() { n.training = true }

func (n *Network) Eval() { n.training = false }

// Training reports whether the network is in training mode.
func (n *Network) Training() bool { return n.training }

// Snapshot copies the current parameter values.
func (n *Network) Snapshot() checkpoints.ParameterState {
	state := checkpoints.ParameterState{Tensors: make([]checkpoints.WeightTensor, len(n.params))}
	for i, p := range n.params {
		data := make([]float32, len(p.t.Data))
		copy(data, p.t.Data)
		state.Tensors[i] = checkpoints.WeightTensor{
			Name:  p.name,
			Shape: append([]int(nil), p.t.Shape...),
			Data:  data,
		}
	}
	return state
}

// Restore overwrites the parameters with state. Names and shapes must
// match this network exactly; nothing is modified on mismatch.
func (n *Network) Restore(state checkpoints.ParameterState) error {
	if len(state.Tensors) != len(n.params) {
		return fmt.Errorf("weight count mismatch: %d weights, %d tensors", len(state.Tensors), len(n.params))
	}
	for i, w := range state.Tensors {
		p := n.params[i]
		if w.Name != p.name {
			return fmt.Errorf("weight %d: expected %s, got %s", i, p.name, w.Name)
		}
		if len(w.Shape) != len(p.t.Shape) {
			return fmt.Errorf("shape mismatch for weight %s: tensor %v vs weight %v", w.Name, p.t.Shape, w.Shape)
		}
		for j, dim := range p.t.Shape {
			if w.Shape[j] != dim {
				return fmt.Errorf("dimension mismatch for weight %s at index %d: tensor %d vs weight %d",
					w.Name, j, dim, w.Shape[j])
			}
		}
		if len(w.Data) != len(p.t.Data) {
			return fmt.Errorf("data length mismatch for weight %s", w.Name)
		}
	}
	for i, w := range state.Tensors {
		copy(n.params[i].t.Data, w.Data)
	}
	return nil
}

// FLOPsPerSample returns the forward cost of one sample at resolution.
func (n *Network) FLOPsPerSample(resolution int) (int64, error) {
	if n.resolution != 0 && resolution != n.resolution {
		return 0, fmt.Errorf("model was built for resolution %d, got %d", n.resolution, resolution)
	}
	return n.spec.FLOPsPerSample, nil
}
