package dataset

import (
	"fmt"
	"math/rand"

	"github.com/samuelsimko/scaling-mlps/tensor"
)

// SyntheticDataset generates class-conditioned images without touching
// disk. Each class has a fixed mean image; samples add Gaussian noise.
// Sample contents depend only on the seed and the index.
type SyntheticDataset struct {
	n       int
	classes int
	side    int
	seed    int64
	means   [][]float32
}

// NewSyntheticDataset creates n samples of [3, side, side] images over classes
func NewSyntheticDataset(n, classes, side int, seed int64) (*SyntheticDataset, error) {
	if n < 0 || classes <= 0 || side <= 0 {
		return nil, fmt.Errorf("synthetic dataset: invalid size n=%d classes=%d side=%d", n, classes, side)
	}
	// Class means are shared across splits; only the noise depends on seed.
	rng := rand.New(rand.NewSource(int64(classes)*7919 + int64(side)))
	means := make([][]float32, classes)
	for c := range means {
		means[c] = make([]float32, 3*side*side)
		for i := range means[c] {
			means[c][i] = rng.Float32()
		}
	}
	return &SyntheticDataset{n: n, classes: classes, side: side, seed: seed, means: means}, nil
}

// Len returns the number of samples
func (d *SyntheticDataset) Len() int {
	return d.n
}

// Get returns sample idx
func (d *SyntheticDataset) Get(idx int) (*tensor.Tensor, int32, error) {
	if idx < 0 || idx >= d.n {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, d.n)
	}
	label := idx % d.classes
	rng := rand.New(rand.NewSource(d.seed<<32 ^ int64(idx)))
	mean := d.means[label]
	data := make([]float32, len(mean))
	for i, m := range mean {
		v := m + float32(rng.NormFloat64()*0.1)
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		data[i] = v
	}
	t, err := tensor.NewTensor([]int{3, d.side, d.side}, data)
	if err != nil {
		return nil, 0, err
	}
	return t, int32(label), nil
}
