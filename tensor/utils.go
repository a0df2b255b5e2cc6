package tensor

import (
	"fmt"
	"strings"
)

// Reshape returns a view over the same data with a new shape. One
// dimension may be -1 and is inferred.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	shape := append([]int(nil), newShape...)
	infer := -1
	known := 1
	for i, dim := range shape {
		switch {
		case dim == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("reshape: only one dimension can be inferred, got %v", newShape)
			}
			infer = i
		case dim < 0:
			return nil, fmt.Errorf("reshape: invalid dimension %d in %v", dim, newShape)
		default:
			known *= dim
		}
	}

	if infer >= 0 {
		if known == 0 {
			return nil, fmt.Errorf("reshape: cannot infer dimension with zero-sized shape %v", newShape)
		}
		if t.NumElems%known != 0 {
			return nil, fmt.Errorf("reshape: cannot view %d elements as %v", t.NumElems, newShape)
		}
		shape[infer] = t.NumElems / known
		known *= shape[infer]
	}

	if known != t.NumElems {
		return nil, fmt.Errorf("reshape: cannot view %v (%d elements) as %v", t.Shape, t.NumElems, newShape)
	}

	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// Flatten collapses every dimension after the first: [B, ...] -> [B, F].
func (t *Tensor) Flatten() (*Tensor, error) {
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("flatten: tensor has no dimensions")
	}
	features := 1
	for _, dim := range t.Shape[1:] {
		features *= dim
	}
	return t.Reshape([]int{t.Shape[0], features})
}

// Clone deep-copies data and shape. Gradient state is not copied.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		Data:     data,
		NumElems: t.NumElems,
	}
}

// Row returns the i-th row of a 2D tensor as a slice sharing storage.
func (t *Tensor) Row(i int) []float32 {
	cols := t.Shape[1]
	return t.Data[i*cols : (i+1)*cols]
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) (float32, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range for dimension %d of size %d", idx, i, t.Shape[i])
		}
		offset += idx * t.Strides[i]
	}
	return t.Data[offset], nil
}

// Dim returns the number of dimensions.
func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Equal reports whether shapes and values match exactly.
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil || len(t.Shape) != len(other.Shape) || len(t.Data) != len(other.Data) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	for i := range t.Data {
		if t.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

// PrintData renders up to maxElements values for debugging.
func (t *Tensor) PrintData(maxElements int) string {
	n := len(t.Data)
	if maxElements > 0 && n > maxElements {
		n = maxElements
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%.4f", t.Data[i])
	}
	suffix := ""
	if n < len(t.Data) {
		suffix = ", ..."
	}
	return "[" + strings.Join(parts, ", ") + suffix + "]"
}

// ZeroGrad clears gradients on every tensor in the slice.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t != nil && t.RequiresGrad() {
			t.ZeroGrad()
		}
	}
}
