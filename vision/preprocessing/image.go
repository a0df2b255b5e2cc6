// Package preprocessing converts decoded images into CHW float32 data and
// applies the spatial transforms used during training.
package preprocessing

import (
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"io"
	"math/rand"
	"sync"
)

// ImageProcessor decodes images and resizes them to a square target size
type ImageProcessor struct {
	mu              sync.Mutex
	tempImageBuffer *image.RGBA
	targetSize      int
}

// NewImageProcessor creates a new image processor with the specified target size
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
	}
}

// ProcessedImage represents a preprocessed image ready for neural network input
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// DecodeAndPreprocess decodes a JPEG or PNG image and preprocesses it for neural network input
// Returns data in CHW format (channels, height, width) normalized to [0, 1]
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("image has no pixels")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Reuse image buffer
	if p.tempImageBuffer == nil || p.tempImageBuffer.Bounds().Dx() != p.targetSize {
		p.tempImageBuffer = image.NewRGBA(image.Rect(0, 0, p.targetSize, p.targetSize))
	}
	targetImg := p.tempImageBuffer

	// Nearest-neighbour resize
	scaleX := float64(width) / float64(p.targetSize)
	scaleY := float64(height) / float64(p.targetSize)
	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			srcX := int(float64(x) * scaleX)
			srcY := int(float64(y) * scaleY)
			if srcX >= width {
				srcX = width - 1
			}
			if srcY >= height {
				srcY = height - 1
			}
			targetImg.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}

	plane := p.targetSize * p.targetSize
	data := make([]float32, 3*plane)
	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			r, g, b, _ := targetImg.At(x, y).RGBA()
			idx := y*p.targetSize + x
			data[0*plane+idx] = float32(r) / 65535.0 // R channel
			data[1*plane+idx] = float32(g) / 65535.0 // G channel
			data[2*plane+idx] = float32(b) / 65535.0 // B channel
		}
	}

	return &ProcessedImage{
		Data:     data,
		Width:    p.targetSize,
		Height:   p.targetSize,
		Channels: 3,
	}, nil
}

// Resize scales a CHW image to size×size by nearest neighbour.
func Resize(data []float32, channels, height, width, size int) ([]float32, error) {
	if len(data) != channels*height*width {
		return nil, fmt.Errorf("resize: %d values for %dx%dx%d image", len(data), channels, height, width)
	}
	if size <= 0 {
		return nil, fmt.Errorf("resize: invalid target size %d", size)
	}
	if size == height && size == width {
		return append([]float32(nil), data...), nil
	}

	out := make([]float32, channels*size*size)
	for c := 0; c < channels; c++ {
		src := data[c*height*width : (c+1)*height*width]
		dst := out[c*size*size : (c+1)*size*size]
		for y := 0; y < size; y++ {
			sy := y * height / size
			for x := 0; x < size; x++ {
				dst[y*size+x] = src[sy*width+x*width/size]
			}
		}
	}
	return out, nil
}

// Normalize applies (x - mean[c]) / std[c] in place.
func Normalize(data []float32, channels int, mean, std []float32) error {
	if len(mean) < channels || len(std) < channels {
		return fmt.Errorf("normalize: need %d channel statistics", channels)
	}
	plane := len(data) / channels
	for c := 0; c < channels; c++ {
		for i := c * plane; i < (c+1)*plane; i++ {
			data[i] = (data[i] - mean[c]) / std[c]
		}
	}
	return nil
}

// RandomCrop pads a CHW image with zeros by pad pixels on every side and
// crops a random height×width window from it.
func RandomCrop(data []float32, channels, height, width, pad int, rng *rand.Rand) []float32 {
	if pad <= 0 {
		return data
	}
	dy := rng.Intn(2*pad+1) - pad
	dx := rng.Intn(2*pad+1) - pad

	out := make([]float32, len(data))
	for c := 0; c < channels; c++ {
		base := c * height * width
		for y := 0; y < height; y++ {
			sy := y + dy
			if sy < 0 || sy >= height {
				continue
			}
			for x := 0; x < width; x++ {
				sx := x + dx
				if sx < 0 || sx >= width {
					continue
				}
				out[base+y*width+x] = data[base+sy*width+sx]
			}
		}
	}
	return out
}

// HorizontalFlip mirrors a CHW image left to right in place.
func HorizontalFlip(data []float32, channels, height, width int) {
	for c := 0; c < channels; c++ {
		for y := 0; y < height; y++ {
			row := data[(c*height+y)*width : (c*height+y+1)*width]
			for i, j := 0, width-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
	}
}
