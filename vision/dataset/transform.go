package dataset

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/samuelsimko/scaling-mlps/tensor"
	"github.com/samuelsimko/scaling-mlps/training"
	"github.com/samuelsimko/scaling-mlps/vision/preprocessing"
)

// TransformConfig describes the per-sample pipeline
type TransformConfig struct {
	Resolution int
	Augment    bool
	CropPad    int // zero padding of the random crop, in native pixels
	Mean       [3]float32
	Std        [3]float32
	Seed       int64
}

// Transformed applies augmentation, resizing and normalization to the
// [3, H, W] samples of a source dataset. Source tensors are never modified.
type Transformed struct {
	source training.Dataset
	config TransformConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTransformed wraps source
func NewTransformed(source training.Dataset, config TransformConfig) (*Transformed, error) {
	if config.Resolution <= 0 {
		return nil, fmt.Errorf("resolution must be positive, got %d", config.Resolution)
	}
	return &Transformed{
		source: source,
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}, nil
}

// Len returns the number of samples in the source
func (t *Transformed) Len() int {
	return t.source.Len()
}

// Get returns the transformed sample idx as [3, resolution, resolution]
func (t *Transformed) Get(idx int) (*tensor.Tensor, int32, error) {
	src, label, err := t.source.Get(idx)
	if err != nil {
		return nil, 0, err
	}
	if len(src.Shape) != 3 {
		return nil, 0, fmt.Errorf("sample %d: expected [C, H, W], got %v", idx, src.Shape)
	}
	c, h, w := src.Shape[0], src.Shape[1], src.Shape[2]

	data := append([]float32(nil), src.Data...)
	if t.config.Augment {
		t.mu.Lock()
		cropRng := rand.New(rand.NewSource(t.rng.Int63()))
		flip := t.rng.Intn(2) == 1
		t.mu.Unlock()

		data = preprocessing.RandomCrop(data, c, h, w, t.config.CropPad, cropRng)
		if flip {
			preprocessing.HorizontalFlip(data, c, h, w)
		}
	}

	size := t.config.Resolution
	data, err = preprocessing.Resize(data, c, h, w, size)
	if err != nil {
		return nil, 0, err
	}
	if err := preprocessing.Normalize(data, c, t.config.Mean[:], t.config.Std[:]); err != nil {
		return nil, 0, err
	}

	out, err := tensor.NewTensor([]int{c, size, size}, data)
	if err != nil {
		return nil, 0, err
	}
	return out, label, nil
}
