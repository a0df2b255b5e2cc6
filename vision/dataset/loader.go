package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/samuelsimko/scaling-mlps/training"
	"github.com/samuelsimko/scaling-mlps/vision/dataloader"
)

// Split selects the train or test portion of a dataset
type Split int

const (
	SplitTrain Split = iota
	SplitTest
)

func (s Split) String() string {
	if s == SplitTrain {
		return "train"
	}
	return "test"
}

// LoaderOptions configures NewLoader
type LoaderOptions struct {
	Dataset    string
	DataPath   string
	Split      Split
	Resolution int
	BatchSize  int
	Workers    int
	Seed       int64

	// Train-only knobs; ignored for the test split.
	Augment bool
	Mixup   float64
	Limit   int

	// CacheSize bounds the number of decoded images kept in memory for
	// image-folder datasets. Zero disables caching.
	CacheSize int
}

// Open resolves opts to a transformed sample source.
func Open(opts LoaderOptions) (training.Dataset, Info, error) {
	info, err := Lookup(opts.Dataset)
	if err != nil {
		return nil, Info{}, err
	}

	var source training.Dataset
	switch info.Format {
	case FormatCIFAR10, FormatCIFAR100:
		source, err = LoadCIFAR(opts.DataPath, info.Format, opts.Split)
	case FormatImageFolder:
		source, err = openImageFolder(opts, info)
	case FormatSynthetic:
		n := info.TrainSamples
		if opts.Split == SplitTest {
			n = info.TestSamples
		}
		source, err = NewSyntheticDataset(n, info.Classes, info.Resolution, opts.Seed+int64(opts.Split)+1)
	default:
		err = fmt.Errorf("unsupported dataset format %s", info.Format)
	}
	if err != nil {
		return nil, Info{}, fmt.Errorf("open %s %s split: %w", info.Name, opts.Split, err)
	}

	train := opts.Split == SplitTrain
	transformed, err := NewTransformed(source, TransformConfig{
		Resolution: opts.Resolution,
		Augment:    train && opts.Augment,
		CropPad:    info.Resolution / 8,
		Mean:       info.Mean,
		Std:        info.Std,
		Seed:       opts.Seed,
	})
	if err != nil {
		return nil, Info{}, err
	}

	var ds training.Dataset = transformed
	if train && opts.Limit > 0 {
		ds, err = training.NewSubsetDataset(transformed, opts.Limit)
		if err != nil {
			return nil, Info{}, err
		}
	}
	return ds, info, nil
}

func openImageFolder(opts LoaderOptions, info Info) (training.Dataset, error) {
	root := filepath.Join(opts.DataPath, info.Name)
	trainFolder, err := NewImageFolderDataset(filepath.Join(root, "train"), nil)
	if err != nil {
		return nil, err
	}
	folder := trainFolder
	if opts.Split == SplitTest {
		folder, err = NewImageFolderDatasetWithClasses(filepath.Join(root, "val"), nil, trainFolder.ClassNames())
		if err != nil {
			return nil, err
		}
	}

	var source training.Dataset = NewDecodedImageFolder(folder, info.Resolution)
	if opts.CacheSize > 0 {
		source = dataloader.NewCachedDataset(source, dataloader.NewCacheManager(opts.CacheSize))
	}
	return source, nil
}

// NewLoader builds the batch stream of one split. The train split is
// shuffled and may be augmented, mixed and truncated; the test split is
// read in order as is.
func NewLoader(opts LoaderOptions) (*training.DataLoader, Info, error) {
	ds, info, err := Open(opts)
	if err != nil {
		return nil, Info{}, err
	}

	train := opts.Split == SplitTrain
	cfg := training.DataLoaderConfig{
		BatchSize: opts.BatchSize,
		Shuffle:   train,
		Workers:   opts.Workers,
		Seed:      opts.Seed,
	}
	if train {
		cfg.Mixup = opts.Mixup
	}
	dl, err := training.NewDataLoader(ds, cfg)
	if err != nil {
		return nil, Info{}, err
	}
	return dl, info, nil
}
