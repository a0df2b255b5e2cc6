package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samuelsimko/scaling-mlps/tensor"
	"github.com/samuelsimko/scaling-mlps/vision/preprocessing"
)

// ImageFolderDataset represents a dataset loaded from a directory structure
// where each subdirectory represents a class
type ImageFolderDataset struct {
	imagePaths []string
	labels     []int32
	classNames []string
	classToIdx map[string]int
}

// NewImageFolderDataset creates a dataset from a directory structure.
// Classes are the sorted subdirectory names.
func NewImageFolderDataset(root string, extensions []string) (*ImageFolderDataset, error) {
	classes, err := filepath.Glob(filepath.Join(root, "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}
	var names []string
	for _, classPath := range classes {
		info, err := os.Stat(classPath)
		if err != nil || !info.IsDir() {
			continue
		}
		names = append(names, filepath.Base(classPath))
	}
	return NewImageFolderDatasetWithClasses(root, extensions, names)
}

// NewImageFolderDatasetWithClasses indexes root using a fixed class list,
// so a validation folder shares the label mapping of its training folder.
// Subdirectories not in classNames are skipped.
func NewImageFolderDatasetWithClasses(root string, extensions []string, classNames []string) (*ImageFolderDataset, error) {
	if len(extensions) == 0 {
		extensions = []string{".jpg", ".jpeg", ".png", ".JPEG"}
	}

	dataset := &ImageFolderDataset{
		classNames: classNames,
		classToIdx: make(map[string]int, len(classNames)),
	}

	for classIdx, className := range classNames {
		dataset.classToIdx[className] = classIdx
		classPath := filepath.Join(root, className)

		// Find all images in this class
		for _, ext := range extensions {
			files, err := filepath.Glob(filepath.Join(classPath, "*"+ext))
			if err != nil {
				continue
			}
			for _, file := range files {
				dataset.imagePaths = append(dataset.imagePaths, file)
				dataset.labels = append(dataset.labels, int32(classIdx))
			}
		}
	}

	if len(dataset.imagePaths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}

	return dataset, nil
}

// Len returns the number of items in the dataset
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and label at the given index
func (d *ImageFolderDataset) GetItem(index int) (string, int32, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// NumClasses returns the number of classes
func (d *ImageFolderDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names
func (d *ImageFolderDataset) ClassNames() []string {
	return d.classNames
}

// ClassDistribution returns the distribution of samples per class
func (d *ImageFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[d.classNames[label]]++
	}
	return dist
}

// String returns a string representation of the dataset
func (d *ImageFolderDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ImageFolderDataset: %d samples, %d classes\n", len(d.imagePaths), len(d.classNames)))
	sb.WriteString("Class distribution:\n")

	dist := d.ClassDistribution()
	for _, className := range d.classNames {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", className, dist[className]))
	}

	return sb.String()
}

// DecodedImageFolder decodes the images of an ImageFolderDataset into
// [3, size, size] tensors.
type DecodedImageFolder struct {
	folder     *ImageFolderDataset
	size       int
	processors sync.Pool
}

// NewDecodedImageFolder decodes folder images at size×size
func NewDecodedImageFolder(folder *ImageFolderDataset, size int) *DecodedImageFolder {
	d := &DecodedImageFolder{folder: folder, size: size}
	d.processors.New = func() any { return preprocessing.NewImageProcessor(size) }
	return d
}

// Len returns the number of images
func (d *DecodedImageFolder) Len() int {
	return d.folder.Len()
}

// Get decodes image idx
func (d *DecodedImageFolder) Get(idx int) (*tensor.Tensor, int32, error) {
	path, label, err := d.folder.GetItem(idx)
	if err != nil {
		return nil, 0, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	processor := d.processors.Get().(*preprocessing.ImageProcessor)
	defer d.processors.Put(processor)

	img, err := processor.DecodeAndPreprocess(file)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	t, err := tensor.NewTensor([]int{img.Channels, img.Height, img.Width}, img.Data)
	if err != nil {
		return nil, 0, err
	}
	return t, label, nil
}
