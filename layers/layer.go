package layers

import (
	"fmt"
	"strings"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	LayerNorm
	GELU
	ReLU
	Residual
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case LayerNorm:
		return "LayerNorm"
	case GELU:
		return "GELU"
	case ReLU:
		return "ReLU"
	case Residual:
		return "Residual"
	default:
		return "Unknown"
	}
}

// LayerSpec defines layer configuration
// This is pure configuration - no execution logic
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Residual blocks wrap a sub-sequence whose output is added to the input.
	Children []LayerSpec `json:"children,omitempty"`

	// Shape information (computed during model compilation)
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during model compilation)
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`

	// Forward multiply-adds counted as two FLOPs, per sample
	FLOPs int64 `json:"flops,omitempty"`
}

// ModelSpec defines a complete neural network model as layer configuration
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	// Compiled model information
	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	FLOPsPerSample  int64   `json:"flops_per_sample"`
	Compiled        bool    `json:"compiled"`
}

// ModelBuilder assembles a ModelSpec layer by layer
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
	compiled   bool
}

// NewModelBuilder creates a new model builder. The input shape is
// [batch, features]; the batch entry is informational.
func NewModelBuilder(inputShape []int) *ModelBuilder {
	return &ModelBuilder{
		layers:     make([]LayerSpec, 0),
		inputShape: inputShape,
		compiled:   false,
	}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	mb.compiled = false // Invalidate compilation
	return mb
}

// AddDense adds a dense layer to the model
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	// Input size will be computed during compilation
	layer := LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	}
	return mb.AddLayer(layer)
}

// AddLayerNorm normalizes over the feature dimension with a learnable
// scale and shift.
func (mb *ModelBuilder) AddLayerNorm(eps float32, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: LayerNorm,
		Name: name,
		Parameters: map[string]interface{}{
			"eps": eps,
		},
	})
}

// AddGELU adds a GELU activation
func (mb *ModelBuilder) AddGELU(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: GELU, Name: name, Parameters: map[string]interface{}{}})
}

// AddReLU adds a ReLU activation
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: ReLU, Name: name, Parameters: map[string]interface{}{}})
}

// AddResidual adds a block computing x + f(x), where f is assembled by
// body on a nested builder. f must preserve the feature size.
func (mb *ModelBuilder) AddResidual(name string, body func(b *ModelBuilder)) *ModelBuilder {
	inner := NewModelBuilder(nil)
	body(inner)
	children := make([]LayerSpec, len(inner.layers))
	copy(children, inner.layers)
	for i := range children {
		children[i].Name = name + "." + children[i].Name
	}
	return mb.AddLayer(LayerSpec{
		Type:       Residual,
		Name:       name,
		Parameters: map[string]interface{}{},
		Children:   children,
	})
}

// Compile computes shapes, parameter counts and FLOPs for every layer
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if len(mb.inputShape) != 2 || mb.inputShape[1] <= 0 {
		return nil, fmt.Errorf("model input must be [batch, features], got %v", mb.inputShape)
	}

	model := &ModelSpec{
		InputShape: mb.inputShape,
		Compiled:   false,
	}

	layers, outputShape, err := compileLayers(mb.layers, mb.inputShape)
	if err != nil {
		return nil, err
	}
	model.Layers = layers

	for _, layer := range flatten(model.Layers) {
		model.ParameterShapes = append(model.ParameterShapes, layer.ParameterShapes...)
		model.TotalParameters += layer.ParameterCount
		model.FLOPsPerSample += layer.FLOPs
	}

	model.OutputShape = outputShape
	model.Compiled = true
	mb.compiled = true

	return model, nil
}

func compileLayers(specs []LayerSpec, inputShape []int) ([]LayerSpec, []int, error) {
	out := make([]LayerSpec, len(specs))
	currentShape := inputShape

	for i := range specs {
		layer := cloneSpec(specs[i])

		// Set input shape for this layer
		layer.InputShape = append([]int(nil), currentShape...)

		outputShape, paramShapes, paramCount, flops, err := computeLayerInfo(&layer, currentShape)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to compute layer %d (%s) info: %v", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount
		layer.FLOPs = flops
		out[i] = layer

		// Update current shape for next layer
		currentShape = outputShape
	}
	return out, currentShape, nil
}

// computeLayerInfo computes output shape, parameter information and
// per-sample FLOPs for a layer
func computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, int64, error) {
	features := int64(inputShape[1])

	switch layer.Type {
	case Dense:
		return computeDenseInfo(layer, inputShape)

	case LayerNorm:
		// gamma and beta; mean, variance, normalize, scale, shift
		shapes := [][]int{{inputShape[1]}, {inputShape[1]}}
		return inputShape, shapes, 2 * features, 5 * features, nil

	case GELU, ReLU:
		return inputShape, nil, 0, features, nil

	case Residual:
		if len(layer.Children) == 0 {
			return nil, nil, 0, 0, fmt.Errorf("residual block has no layers")
		}
		children, outputShape, err := compileLayers(layer.Children, inputShape)
		if err != nil {
			return nil, nil, 0, 0, err
		}
		if outputShape[1] != inputShape[1] {
			return nil, nil, 0, 0, fmt.Errorf("residual body maps %d features to %d", inputShape[1], outputShape[1])
		}
		layer.Children = children
		// Children carry their own parameters; the block only adds the skip.
		return inputShape, nil, 0, features, nil

	default:
		return nil, nil, 0, 0, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

// computeDenseInfo computes dense layer information
func computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, int64, error) {
	outputSize := getIntParam(layer.Parameters, "output_size", 0)
	if outputSize <= 0 {
		return nil, nil, 0, 0, fmt.Errorf("missing output_size parameter")
	}
	useBias := getBoolParam(layer.Parameters, "use_bias", true)

	inputSize := inputShape[1]
	layer.Parameters["input_size"] = inputSize

	// Weight matrix: [inputSize, outputSize]
	paramShapes := [][]int{{inputSize, outputSize}}
	paramCount := int64(inputSize) * int64(outputSize)
	flops := 2 * int64(inputSize) * int64(outputSize)

	// Bias vector: [outputSize] (if enabled)
	if useBias {
		paramShapes = append(paramShapes, []int{outputSize})
		paramCount += int64(outputSize)
		flops += int64(outputSize)
	}

	return []int{inputShape[0], outputSize}, paramShapes, paramCount, flops, nil
}

// flatten lists the leaf layers of a compiled spec in execution order.
func flatten(specs []LayerSpec) []LayerSpec {
	var out []LayerSpec
	for _, s := range specs {
		out = append(out, s)
		if s.Type == Residual {
			out = append(out, flatten(s.Children)...)
		}
	}
	return out
}

func cloneSpec(s LayerSpec) LayerSpec {
	params := make(map[string]interface{}, len(s.Parameters))
	for k, v := range s.Parameters {
		params[k] = v
	}
	s.Parameters = params
	if s.Children != nil {
		s.Children = append([]LayerSpec(nil), s.Children...)
	}
	return s
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Model Summary:\n")
	fmt.Fprintf(&sb, "Input Shape: %v\n", ms.InputShape)
	fmt.Fprintf(&sb, "Output Shape: %v\n", ms.OutputShape)
	fmt.Fprintf(&sb, "Total Parameters: %d\n", ms.TotalParameters)
	fmt.Fprintf(&sb, "FLOPs per sample: %d\n", ms.FLOPsPerSample)
	fmt.Fprintf(&sb, "Layers: %d\n\n", len(ms.Layers))

	writeLayers(&sb, ms.Layers, "")
	return sb.String()
}

func writeLayers(sb *strings.Builder, layers []LayerSpec, indent string) {
	for i, layer := range layers {
		fmt.Fprintf(sb, "%sLayer %d: %s (%s)\n", indent, i+1, layer.Name, layer.Type.String())
		fmt.Fprintf(sb, "%s  Input:  %v\n", indent, layer.InputShape)
		fmt.Fprintf(sb, "%s  Output: %v\n", indent, layer.OutputShape)
		fmt.Fprintf(sb, "%s  Params: %d\n", indent, layer.ParameterCount)
		if len(layer.Children) > 0 {
			writeLayers(sb, layer.Children, indent+"    ")
		}
	}
}

func getIntParam(params map[string]interface{}, key string, defaultValue int) int {
	if val, exists := params[key]; exists {
		if intVal, ok := val.(int); ok {
			return intVal
		}
	}
	return defaultValue
}

func getBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, exists := params[key]; exists {
		if boolVal, ok := val.(bool); ok {
			return boolVal
		}
	}
	return defaultValue
}

func getFloatParam(params map[string]interface{}, key string, defaultValue float32) float32 {
	if val, exists := params[key]; exists {
		switch v := val.(type) {
		case float32:
			return v
		case float64:
			return float32(v)
		}
	}
	return defaultValue
}
