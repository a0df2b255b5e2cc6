package training

import (
	"math"
	"testing"
)

func TestCrossEntropyUniformLogits(t *testing.T) {
	ce, err := NewCrossEntropyLoss(0)
	if err != nil {
		t.Fatalf("failed to create loss: %v", err)
	}
	pred := mustTensor([]int{2, 4}, make([]float32, 8))
	loss, err := ce.Forward(pred, []int32{0, 3})
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if math.Abs(loss-math.Log(4)) > 1e-6 {
		t.Errorf("loss = %v, expected ln 4 = %v", loss, math.Log(4))
	}
}

func TestCrossEntropySmoothingRaisesConfidentLoss(t *testing.T) {
	pred := mustTensor([]int{1, 3}, []float32{10, 0, 0})
	plain, _ := NewCrossEntropyLoss(0)
	smooth, _ := NewCrossEntropyLoss(0.3)

	a, _ := plain.Forward(pred, []int32{0})
	b, _ := smooth.Forward(pred, []int32{0})
	if !(b > a) {
		t.Errorf("smoothed loss %v should exceed plain loss %v on a confident correct prediction", b, a)
	}
}

func TestCrossEntropyGradient(t *testing.T) {
	ce, _ := NewCrossEntropyLoss(0.2)
	data := []float32{0.3, -1.2, 0.8, 0.1, 2.0, -0.5}
	target := []int32{2, 0}

	grad, err := ce.Backward(mustTensor([]int{2, 3}, data), target)
	if err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	// Rows of softmax - q sum to zero.
	for i := 0; i < 2; i++ {
		var sum float64
		for _, g := range grad.Row(i) {
			sum += float64(g)
		}
		if math.Abs(sum) > 1e-6 {
			t.Errorf("row %d gradient sums to %v, expected 0", i, sum)
		}
	}

	const h = 1e-3
	for j := range data {
		plus := append([]float32(nil), data...)
		minus := append([]float32(nil), data...)
		plus[j] += h
		minus[j] -= h
		lp, _ := ce.Forward(mustTensor([]int{2, 3}, plus), target)
		lm, _ := ce.Forward(mustTensor([]int{2, 3}, minus), target)
		numeric := (lp - lm) / (2 * h)
		if math.Abs(numeric-float64(grad.Data[j])) > 1e-3 {
			t.Errorf("element %d: analytic %v, numeric %v", j, grad.Data[j], numeric)
		}
	}
}

func TestCrossEntropyInvalid(t *testing.T) {
	if _, err := NewCrossEntropyLoss(1); err == nil {
		t.Error("expected error for smoothing 1")
	}
	if _, err := NewCrossEntropyLoss(-0.1); err == nil {
		t.Error("expected error for negative smoothing")
	}

	ce, _ := NewCrossEntropyLoss(0)
	pred := mustTensor([]int{2, 2}, []float32{1, 0, 0, 1})
	if _, err := ce.Forward(pred, []int32{0}); err == nil {
		t.Error("expected batch size mismatch error")
	}
	if _, err := ce.Forward(pred, []int32{0, 5}); err == nil {
		t.Error("expected out-of-range label error")
	}
	if _, err := ce.Backward(mustTensor([]int{4}, []float32{1, 0, 0, 1}), []int32{0, 1}); err == nil {
		t.Error("expected error for 1D predictions")
	}
}

func TestMixedLossBlendsBothLabels(t *testing.T) {
	ce, _ := NewCrossEntropyLoss(0.1)
	pred := mustTensor([]int{2, 3}, []float32{1, 2, 3, 0.5, -0.5, 0})
	primary := []int32{0, 1}
	secondary := []int32{2, 2}

	a, _ := ce.Forward(pred, primary)
	b, _ := ce.Forward(pred, secondary)

	for _, w := range []float64{0, 0.25, 1} {
		mixed := Mixed{Primary: primary, Secondary: secondary, Weight: w}
		got, err := MixedLoss(ce, pred, mixed)
		if err != nil {
			t.Fatalf("mixed loss failed: %v", err)
		}
		if want := w*a + (1-w)*b; math.Abs(got-want) > 1e-9 {
			t.Errorf("weight %v: loss = %v, expected %v", w, got, want)
		}

		grad, err := MixedLossGrad(ce, pred, mixed)
		if err != nil {
			t.Fatalf("mixed gradient failed: %v", err)
		}
		ga, _ := ce.Backward(pred, primary)
		gb, _ := ce.Backward(pred, secondary)
		for i := range grad.Data {
			want := float32(w)*ga.Data[i] + float32(1-w)*gb.Data[i]
			if math.Abs(float64(grad.Data[i]-want)) > 1e-6 {
				t.Errorf("weight %v element %d: grad = %v, expected %v", w, i, grad.Data[i], want)
			}
		}
	}
}
