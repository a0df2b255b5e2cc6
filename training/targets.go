package training

import (
	"fmt"

	"github.com/samuelsimko/scaling-mlps/tensor"
)

// Targets are the labels of one batch: either Plain or Mixed.
type Targets interface {
	// Len is the number of samples.
	Len() int
	// PrimaryLabels returns the label each sample is primarily scored against.
	PrimaryLabels() []int32

	isTargets()
}

// Plain holds one class label per sample.
type Plain struct {
	Labels []int32
}

func (p Plain) Len() int               { return len(p.Labels) }
func (p Plain) PrimaryLabels() []int32 { return p.Labels }
func (Plain) isTargets()               {}

// Mixed holds the label pair of a mixup batch. The inputs were blended
// as Weight*x[i] + (1-Weight)*x[perm[i]]; Secondary[i] is the label of
// x[perm[i]].
type Mixed struct {
	Primary   []int32
	Secondary []int32
	Weight    float64
}

func (m Mixed) Len() int               { return len(m.Primary) }
func (m Mixed) PrimaryLabels() []int32 { return m.Primary }
func (Mixed) isTargets()               {}

// NoMixWeight marks a row of the [batch, 3] wire form as unmixed.
const NoMixWeight = -1

// DecodeMixupTargets converts the [batch, 3] wire form (label, permuted
// label, weight) into Targets. A weight of -1 on every row decodes to
// Plain; otherwise all rows must share one weight in [0, 1].
func DecodeMixupTargets(t *tensor.Tensor) (Targets, error) {
	if t == nil || len(t.Shape) != 2 || t.Shape[1] != 3 {
		return nil, fmt.Errorf("mixup targets must be [batch, 3]")
	}
	n := t.Shape[0]
	if n == 0 {
		return Plain{Labels: []int32{}}, nil
	}

	primary := make([]int32, n)
	secondary := make([]int32, n)
	weight := float64(t.Data[2])
	for i := 0; i < n; i++ {
		row := t.Row(i)
		primary[i] = int32(row[0])
		secondary[i] = int32(row[1])
		if float64(row[2]) != weight {
			return nil, fmt.Errorf("mixup targets: row %d weight %v differs from %v", i, row[2], weight)
		}
	}

	if weight == NoMixWeight {
		return Plain{Labels: primary}, nil
	}
	if weight < 0 || weight > 1 {
		return nil, fmt.Errorf("mixup targets: weight %v outside [0, 1]", weight)
	}
	return Mixed{Primary: primary, Secondary: secondary, Weight: weight}, nil
}

// EncodeMixupTargets is the inverse of DecodeMixupTargets.
func EncodeMixupTargets(targets Targets) (*tensor.Tensor, error) {
	n := targets.Len()
	data := make([]float32, 0, 3*n)
	switch t := targets.(type) {
	case Plain:
		for _, l := range t.Labels {
			data = append(data, float32(l), float32(l), NoMixWeight)
		}
	case Mixed:
		for i := range t.Primary {
			data = append(data, float32(t.Primary[i]), float32(t.Secondary[i]), float32(t.Weight))
		}
	default:
		return nil, fmt.Errorf("unsupported targets %T", targets)
	}
	return tensor.NewTensor([]int{n, 3}, data)
}
