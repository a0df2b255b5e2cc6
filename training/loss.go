package training

import (
	"fmt"
	"math"

	"github.com/samuelsimko/scaling-mlps/tensor"
)

// Loss interface defines methods for loss functions over class labels
type Loss interface {
	// Forward returns the mean loss over the batch
	Forward(predicted *tensor.Tensor, target []int32) (float64, error)
	// Backward returns the gradient of the mean loss w.r.t. predicted
	Backward(predicted *tensor.Tensor, target []int32) (*tensor.Tensor, error)
}

// CrossEntropyLoss implements softmax cross entropy with optional label
// smoothing: the target distribution is (1-ε)·onehot + ε/C.
type CrossEntropyLoss struct {
	smoothing float64
}

// NewCrossEntropyLoss creates a new Cross Entropy loss function
func NewCrossEntropyLoss(smoothing float64) (*CrossEntropyLoss, error) {
	if smoothing < 0 || smoothing >= 1 {
		return nil, fmt.Errorf("label smoothing must be in [0, 1), got %v", smoothing)
	}
	return &CrossEntropyLoss{smoothing: smoothing}, nil
}

// Smoothing returns ε.
func (ce *CrossEntropyLoss) Smoothing() float64 {
	return ce.smoothing
}

func (ce *CrossEntropyLoss) validate(predicted *tensor.Tensor, target []int32) (int, int, error) {
	if predicted == nil || len(predicted.Shape) != 2 {
		return 0, 0, fmt.Errorf("predicted must be 2D tensor [batch_size, num_classes]")
	}
	batchSize, numClasses := predicted.Shape[0], predicted.Shape[1]
	if len(target) != batchSize {
		return 0, 0, fmt.Errorf("batch size mismatch: predicted %d, target %d", batchSize, len(target))
	}
	if batchSize == 0 {
		return 0, 0, fmt.Errorf("empty batch")
	}
	for _, c := range target {
		if c < 0 || int(c) >= numClasses {
			return 0, 0, fmt.Errorf("target class %d out of range [0, %d)", c, numClasses)
		}
	}
	return batchSize, numClasses, nil
}

// Forward computes the Cross Entropy loss
// predicted: [batch_size, num_classes] logits
// target: class index per sample
func (ce *CrossEntropyLoss) Forward(predicted *tensor.Tensor, target []int32) (float64, error) {
	batchSize, numClasses, err := ce.validate(predicted, target)
	if err != nil {
		return 0, err
	}

	off := ce.smoothing / float64(numClasses)
	on := 1 - ce.smoothing + off

	var total float64
	for i := 0; i < batchSize; i++ {
		row := predicted.Row(i)
		lse := logSumExp(row)
		// -Σ q_c log p_c = lse - Σ q_c z_c
		var qz float64
		for c, z := range row {
			q := off
			if c == int(target[i]) {
				q = on
			}
			qz += q * float64(z)
		}
		total += lse - qz
	}
	return total / float64(batchSize), nil
}

// Backward computes the gradient of Cross Entropy loss
func (ce *CrossEntropyLoss) Backward(predicted *tensor.Tensor, target []int32) (*tensor.Tensor, error) {
	batchSize, numClasses, err := ce.validate(predicted, target)
	if err != nil {
		return nil, err
	}

	grad, err := tensor.Zeros(predicted.Shape)
	if err != nil {
		return nil, err
	}

	off := ce.smoothing / float64(numClasses)
	on := 1 - ce.smoothing + off
	scale := 1 / float64(batchSize)

	for i := 0; i < batchSize; i++ {
		row := predicted.Row(i)
		g := grad.Row(i)
		lse := logSumExp(row)
		for c, z := range row {
			q := off
			if c == int(target[i]) {
				q = on
			}
			g[c] = float32((math.Exp(float64(z)-lse) - q) * scale)
		}
	}
	return grad, nil
}

func logSumExp(row []float32) float64 {
	maxVal := math.Inf(-1)
	for _, v := range row {
		if float64(v) > maxVal {
			maxVal = float64(v)
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxVal)
	}
	return maxVal + math.Log(sum)
}

// MixedLoss blends the loss against both label sets of a mixup batch:
// w·L(primary) + (1-w)·L(secondary).
func MixedLoss(loss Loss, predicted *tensor.Tensor, targets Mixed) (float64, error) {
	a, err := loss.Forward(predicted, targets.Primary)
	if err != nil {
		return 0, err
	}
	b, err := loss.Forward(predicted, targets.Secondary)
	if err != nil {
		return 0, err
	}
	return targets.Weight*a + (1-targets.Weight)*b, nil
}

// MixedLossGrad is the gradient of MixedLoss.
func MixedLossGrad(loss Loss, predicted *tensor.Tensor, targets Mixed) (*tensor.Tensor, error) {
	ga, err := loss.Backward(predicted, targets.Primary)
	if err != nil {
		return nil, err
	}
	gb, err := loss.Backward(predicted, targets.Secondary)
	if err != nil {
		return nil, err
	}
	tensor.Scale(ga, float32(targets.Weight))
	if err := tensor.AddScaled(ga, gb, float32(1-targets.Weight)); err != nil {
		return nil, err
	}
	return ga, nil
}
