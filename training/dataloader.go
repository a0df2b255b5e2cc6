package training

import (
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samuelsimko/scaling-mlps/tensor"
)

// Dataset interface defines methods that all datasets must implement
// Get may be called from several goroutines at once.
type Dataset interface {
	Len() int                                                  // Total number of samples
	Get(idx int) (data *tensor.Tensor, label int32, err error) // Returns a single sample
}

// Batch is one step of input: [batch, ...] inputs and their targets
type Batch struct {
	Inputs  *tensor.Tensor
	Targets Targets
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return b.Inputs.Shape[0]
}

// Stream yields the batches of one pass. Next returns nil, nil once the
// pass is exhausted; Reset starts a new pass.
type Stream interface {
	Reset()
	Next() (*Batch, error)
	Len() int
}

// DataLoaderConfig configures batching, shuffling, mixup and parallelism
type DataLoaderConfig struct {
	BatchSize int
	Shuffle   bool
	Workers   int
	Seed      int64

	// Mixup is the Beta(α, α) concentration. Zero disables mixup.
	Mixup float64
}

// DataLoader provides batching, shuffling, and parallel data loading
type DataLoader struct {
	dataset  Dataset
	config   DataLoaderConfig
	indices  []int
	position int
	rng      *rand.Rand
	lambda   distuv.Beta
	mutex    sync.Mutex
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, config DataLoaderConfig) (*DataLoader, error) {
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Mixup < 0 {
		return nil, fmt.Errorf("mixup strength must be non-negative, got %v", config.Mixup)
	}

	datasetLen := dataset.Len()
	indices := make([]int, datasetLen)
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset: dataset,
		config:  config,
		indices: indices,
		rng:     rand.New(rand.NewSource(config.Seed)),
	}
	if config.Mixup > 0 {
		dl.lambda = newMixupSampler(config.Mixup, config.Seed)
	}
	dl.Reset()
	return dl, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.config.BatchSize - 1) / dl.config.BatchSize
}

// Samples returns the number of samples in an epoch
func (dl *DataLoader) Samples() int {
	return dl.dataset.Len()
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.config.Shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	// Calculate batch end position
	batchEnd := dl.position + dl.config.BatchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	if dl.config.Mixup > 0 {
		dl.mix(batch)
	}
	return batch, nil
}

// loadBatch reads samples concurrently into one batched tensor
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	// Load first sample to determine shapes
	first, firstLabel, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %w", indices[0], err)
	}

	batchSize := len(indices)
	sampleSize := first.NumElems
	inputs, err := tensor.Zeros(append([]int{batchSize}, first.Shape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create batch tensor: %w", err)
	}
	labels := make([]int32, batchSize)
	copy(inputs.Data[:sampleSize], first.Data)
	labels[0] = firstLabel

	var g errgroup.Group
	g.SetLimit(dl.config.Workers)
	for i := 1; i < batchSize; i++ {
		i, idx := i, indices[i]
		g.Go(func() error {
			data, label, err := dl.dataset.Get(idx)
			if err != nil {
				return fmt.Errorf("failed to load sample %d: %w", idx, err)
			}
			if data.NumElems != sampleSize {
				return fmt.Errorf("sample %d has %d values, expected %d", idx, data.NumElems, sampleSize)
			}
			copy(inputs.Data[i*sampleSize:(i+1)*sampleSize], data.Data)
			labels[i] = label
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Batch{Inputs: inputs, Targets: Plain{Labels: labels}}, nil
}

// mix applies mixup to half of the batches on average: inputs become
// λ·x + (1-λ)·x[perm] with λ ~ Beta(α, α).
func (dl *DataLoader) mix(batch *Batch) {
	if dl.rng.Float64() < 0.5 {
		return
	}

	plain := batch.Targets.(Plain)
	n := batch.Size()
	lambda := dl.lambda.Rand()
	perm := dl.rng.Perm(n)

	src := batch.Inputs.Clone()
	sampleSize := src.NumElems / n
	l := float32(lambda)
	for i := 0; i < n; i++ {
		dst := batch.Inputs.Data[i*sampleSize : (i+1)*sampleSize]
		a := src.Data[i*sampleSize : (i+1)*sampleSize]
		b := src.Data[perm[i]*sampleSize : (perm[i]+1)*sampleSize]
		for j := range dst {
			dst[j] = l*a[j] + (1-l)*b[j]
		}
	}

	secondary := make([]int32, n)
	for i, p := range perm {
		secondary[i] = plain.Labels[p]
	}
	batch.Targets = Mixed{Primary: plain.Labels, Secondary: secondary, Weight: lambda}
}
