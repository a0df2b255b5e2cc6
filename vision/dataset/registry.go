// Package dataset resolves dataset identifiers to sample sources and
// builds the train and test streams of a run.
package dataset

import (
	"sort"
	"strings"

	"github.com/samuelsimko/scaling-mlps/config"
)

// Format is the on-disk layout of a dataset.
type Format int

const (
	FormatCIFAR10 Format = iota
	FormatCIFAR100
	FormatImageFolder
	FormatSynthetic
)

func (f Format) String() string {
	switch f {
	case FormatCIFAR10:
		return "cifar-10-binary"
	case FormatCIFAR100:
		return "cifar-100-binary"
	case FormatImageFolder:
		return "image-folder"
	case FormatSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// Info holds the fixed statistics of a dataset.
type Info struct {
	Name         string
	Classes      int
	TrainSamples int
	TestSamples  int
	Resolution   int // native image side length
	Mean         [3]float32
	Std          [3]float32
	Format       Format
}

var (
	cifar10Mean  = [3]float32{0.4914, 0.4822, 0.4465}
	cifar10Std   = [3]float32{0.2470, 0.2435, 0.2616}
	cifar100Mean = [3]float32{0.5071, 0.4865, 0.4409}
	cifar100Std  = [3]float32{0.2673, 0.2564, 0.2762}
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

var registry = map[string]Info{
	"cifar10": {
		Name: "cifar10", Classes: 10, TrainSamples: 50000, TestSamples: 10000,
		Resolution: 32, Mean: cifar10Mean, Std: cifar10Std, Format: FormatCIFAR10,
	},
	"cifar100": {
		Name: "cifar100", Classes: 100, TrainSamples: 50000, TestSamples: 10000,
		Resolution: 32, Mean: cifar100Mean, Std: cifar100Std, Format: FormatCIFAR100,
	},
	"stl10": {
		Name: "stl10", Classes: 10, TrainSamples: 5000, TestSamples: 8000,
		Resolution: 96, Mean: imagenetMean, Std: imagenetStd, Format: FormatImageFolder,
	},
	"tinyimagenet": {
		Name: "tinyimagenet", Classes: 200, TrainSamples: 100000, TestSamples: 10000,
		Resolution: 64, Mean: imagenetMean, Std: imagenetStd, Format: FormatImageFolder,
	},
	"imagenet": {
		Name: "imagenet", Classes: 1000, TrainSamples: 1281167, TestSamples: 50000,
		Resolution: 64, Mean: imagenetMean, Std: imagenetStd, Format: FormatImageFolder,
	},
	"imagenet21": {
		Name: "imagenet21", Classes: 11230, TrainSamples: 11801680, TestSamples: 561052,
		Resolution: 64, Mean: imagenetMean, Std: imagenetStd, Format: FormatImageFolder,
	},
	"synthetic": {
		Name: "synthetic", Classes: 10, TrainSamples: 2000, TestSamples: 500,
		Resolution: 8, Mean: [3]float32{0.5, 0.5, 0.5}, Std: [3]float32{0.25, 0.25, 0.25}, Format: FormatSynthetic,
	},
}

// Names lists the registered dataset identifiers.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the statistics of a registered dataset. Unknown names
// are a *config.ConfigurationError.
func Lookup(name string) (Info, error) {
	info, ok := registry[strings.ToLower(name)]
	if !ok {
		return Info{}, config.Unknown("dataset", name, Names())
	}
	return info, nil
}
