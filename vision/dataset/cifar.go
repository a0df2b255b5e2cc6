package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samuelsimko/scaling-mlps/tensor"
)

const (
	cifarSide   = 32
	cifarPixels = 3 * cifarSide * cifarSide
)

// Directory names of the CIFAR binary distributions under data_path.
const (
	CIFAR10Dir  = "cifar-10-batches-bin"
	CIFAR100Dir = "cifar-100-binary"
)

// CIFARDataset holds a CIFAR-10 or CIFAR-100 split in memory as raw bytes
type CIFARDataset struct {
	images []byte
	labels []int32
}

// LoadCIFAR reads the binary CIFAR files of split from dataPath.
func LoadCIFAR(dataPath string, format Format, split Split) (*CIFARDataset, error) {
	var (
		files      []string
		labelBytes int
	)
	switch format {
	case FormatCIFAR10:
		dir := filepath.Join(dataPath, CIFAR10Dir)
		labelBytes = 1
		if split == SplitTrain {
			for i := 1; i <= 5; i++ {
				files = append(files, filepath.Join(dir, fmt.Sprintf("data_batch_%d.bin", i)))
			}
		} else {
			files = []string{filepath.Join(dir, "test_batch.bin")}
		}
	case FormatCIFAR100:
		dir := filepath.Join(dataPath, CIFAR100Dir)
		labelBytes = 2 // coarse, fine
		if split == SplitTrain {
			files = []string{filepath.Join(dir, "train.bin")}
		} else {
			files = []string{filepath.Join(dir, "test.bin")}
		}
	default:
		return nil, fmt.Errorf("format %s is not a CIFAR layout", format)
	}

	d := &CIFARDataset{}
	for _, path := range files {
		if err := d.readFile(path, labelBytes); err != nil {
			return nil, err
		}
	}
	if len(d.labels) == 0 {
		return nil, fmt.Errorf("no samples in %v", files)
	}
	return d, nil
}

func (d *CIFARDataset) readFile(path string, labelBytes int) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read CIFAR file: %w", err)
	}
	record := labelBytes + cifarPixels
	if len(raw)%record != 0 {
		return fmt.Errorf("CIFAR file %s: size %d is not a multiple of the %d-byte record", path, len(raw), record)
	}

	n := len(raw) / record
	for i := 0; i < n; i++ {
		rec := raw[i*record : (i+1)*record]
		// The fine label is the last label byte.
		d.labels = append(d.labels, int32(rec[labelBytes-1]))
		d.images = append(d.images, rec[labelBytes:]...)
	}
	return nil
}

// Len returns the number of samples
func (d *CIFARDataset) Len() int {
	return len(d.labels)
}

// Get returns sample idx as a [3, 32, 32] tensor in [0, 1]
func (d *CIFARDataset) Get(idx int) (*tensor.Tensor, int32, error) {
	if idx < 0 || idx >= len(d.labels) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.labels))
	}
	pixels := d.images[idx*cifarPixels : (idx+1)*cifarPixels]
	data := make([]float32, cifarPixels)
	for i, p := range pixels {
		data[i] = float32(p) / 255
	}
	t, err := tensor.NewTensor([]int{3, cifarSide, cifarSide}, data)
	if err != nil {
		return nil, 0, err
	}
	return t, d.labels[idx], nil
}
