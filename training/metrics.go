package training

import (
	"fmt"

	"github.com/samuelsimko/scaling-mlps/tensor"
)

// AverageMeter keeps a running sample-weighted mean.
type AverageMeter struct {
	sum   float64
	count int
}

// Update adds value observed over n samples.
func (m *AverageMeter) Update(value float64, n int) {
	m.sum += value * float64(n)
	m.count += n
}

// Average returns the weighted mean, scaled by 100 when percentage is
// set. It is 0 before any update.
func (m *AverageMeter) Average(percentage bool) float64 {
	if m.count == 0 {
		return 0
	}
	avg := m.sum / float64(m.count)
	if percentage {
		avg *= 100
	}
	return avg
}

// Count returns the number of samples seen.
func (m *AverageMeter) Count() int {
	return m.count
}

// Reset clears the meter.
func (m *AverageMeter) Reset() {
	m.sum = 0
	m.count = 0
}

// rank counts the classes that outrank class c: strictly higher scores,
// and equal scores at a lower index. Argmax has rank 0.
func rank(row []float32, c int) int {
	target := row[c]
	r := 0
	for j, v := range row {
		if v > target || (v == target && j < c) {
			r++
		}
	}
	return r
}

// TopKAccuracy scores each sample of a [batch, classes] score tensor.
// top1[i] reports whether the highest-scoring class matches a label;
// topk[i] whether a label is among the k highest-scoring classes. When
// secondary is non-nil, either label counts as a match. A k larger than
// the number of classes is clamped, so every sample is a top-k match.
func TopKAccuracy(scores *tensor.Tensor, primary, secondary []int32, k int) (top1, topk []bool, err error) {
	if k < 1 {
		return nil, nil, fmt.Errorf("top-k: k must be at least 1, got %d", k)
	}
	if scores == nil || len(scores.Shape) != 2 {
		return nil, nil, fmt.Errorf("top-k: scores must be [batch, classes]")
	}
	batch, classes := scores.Shape[0], scores.Shape[1]
	if len(primary) != batch {
		return nil, nil, fmt.Errorf("top-k: %d labels for batch of %d", len(primary), batch)
	}
	if secondary != nil && len(secondary) != batch {
		return nil, nil, fmt.Errorf("top-k: %d secondary labels for batch of %d", len(secondary), batch)
	}

	top1 = make([]bool, batch)
	topk = make([]bool, batch)
	for i := 0; i < batch; i++ {
		row := scores.Row(i)
		labels := []int32{primary[i]}
		if secondary != nil {
			labels = append(labels, secondary[i])
		}
		for _, label := range labels {
			if label < 0 || int(label) >= classes {
				return nil, nil, fmt.Errorf("top-k: label %d out of range [0, %d)", label, classes)
			}
			r := rank(row, int(label))
			if r == 0 {
				top1[i] = true
			}
			if r < k {
				topk[i] = true
			}
		}
	}
	return top1, topk, nil
}

// TopKAccuracyAvg returns the fraction of top-1 and top-k matches.
func TopKAccuracyAvg(scores *tensor.Tensor, primary, secondary []int32, k int) (top1, topk float64, err error) {
	h1, hk, err := TopKAccuracy(scores, primary, secondary, k)
	if err != nil {
		return 0, 0, err
	}
	if len(h1) == 0 {
		return 0, 0, nil
	}
	return fraction(h1), fraction(hk), nil
}

func fraction(hits []bool) float64 {
	n := 0
	for _, h := range hits {
		if h {
			n++
		}
	}
	return float64(n) / float64(len(hits))
}
