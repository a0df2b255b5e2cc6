package tensor

import (
	"fmt"
	"math"
)

// MeanAxis averages over one axis, removing it from the shape.
func MeanAxis(t *Tensor, axis int) (*Tensor, error) {
	if axis < 0 || axis >= len(t.Shape) {
		return nil, fmt.Errorf("mean: axis %d out of range for shape %v", axis, t.Shape)
	}

	outer := 1
	for _, dim := range t.Shape[:axis] {
		outer *= dim
	}
	inner := 1
	for _, dim := range t.Shape[axis+1:] {
		inner *= dim
	}
	size := t.Shape[axis]

	shape := make([]int, 0, len(t.Shape)-1)
	shape = append(shape, t.Shape[:axis]...)
	shape = append(shape, t.Shape[axis+1:]...)
	if len(shape) == 0 {
		shape = []int{1}
	}
	out, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return out, nil
	}

	scale := 1.0 / float32(size)
	for o := 0; o < outer; o++ {
		dst := out.Data[o*inner : (o+1)*inner]
		for s := 0; s < size; s++ {
			src := t.Data[(o*size+s)*inner : (o*size+s+1)*inner]
			for i, v := range src {
				dst[i] += v
			}
		}
		for i := range dst {
			dst[i] *= scale
		}
	}
	return out, nil
}

// Scale multiplies every element by s in place.
func Scale(t *Tensor, s float32) {
	for i := range t.Data {
		t.Data[i] *= s
	}
}

// AddScaled computes dst += s * src element-wise.
func AddScaled(dst, src *Tensor, s float32) error {
	if len(dst.Data) != len(src.Data) {
		return fmt.Errorf("add_scaled: size mismatch %d vs %d", len(dst.Data), len(src.Data))
	}
	for i, v := range src.Data {
		dst.Data[i] += s * v
	}
	return nil
}

// GELU applies the tanh approximation of the Gaussian error linear unit.
func GELU(x float32) float32 {
	v := float64(x)
	return float32(0.5 * v * (1 + math.Tanh(geluC*(v+0.044715*v*v*v))))
}

// GELUGrad is the derivative of GELU at x.
func GELUGrad(x float32) float32 {
	v := float64(x)
	inner := geluC * (v + 0.044715*v*v*v)
	th := math.Tanh(inner)
	dInner := geluC * (1 + 3*0.044715*v*v)
	return float32(0.5*(1+th) + 0.5*v*(1-th*th)*dInner)
}

var geluC = math.Sqrt(2 / math.Pi)

// ReLU clamps negatives to zero in a new tensor.
func ReLU(t *Tensor) *Tensor {
	out := t.Clone()
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	return out
}

// Argmax returns the first index of the maximum value in row.
func Argmax(row []float32) int {
	best := 0
	for j := 1; j < len(row); j++ {
		if row[j] > row[best] {
			best = j
		}
	}
	return best
}
