package tensor

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestCalculateStrides(t *testing.T) {
	tests := []struct {
		shape    []int
		expected []int
	}{
		{[]int{}, []int{}},
		{[]int{5}, []int{1}},
		{[]int{2, 3}, []int{3, 1}},
		{[]int{2, 3, 4}, []int{12, 4, 1}},
		{[]int{1, 5, 1, 3}, []int{15, 3, 3, 1}},
	}

	for _, test := range tests {
		result := calculateStrides(test.shape)
		if !reflect.DeepEqual(result, test.expected) {
			t.Errorf("calculateStrides(%v) = %v, expected %v", test.shape, result, test.expected)
		}
	}
}

func TestNewTensorValidation(t *testing.T) {
	if _, err := NewTensor([]int{2, 2}, []float32{1, 2, 3}); err == nil {
		t.Error("expected error for data length mismatch")
	}
	if _, err := NewTensor([]int{}, nil); err == nil {
		t.Error("expected error for empty shape")
	}
	if _, err := NewTensor([]int{2, -1}, nil); err == nil {
		t.Error("expected error for negative dimension")
	}

	z, err := NewTensor([]int{0, 3}, nil)
	if err != nil {
		t.Fatalf("zero-sized tensor: %v", err)
	}
	if z.NumElems != 0 {
		t.Errorf("expected 0 elements, got %d", z.NumElems)
	}
}

func TestReshapeAndFlatten(t *testing.T) {
	x, err := NewTensor([]int{2, 3, 2, 2}, nil)
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	for i := range x.Data {
		x.Data[i] = float32(i)
	}

	flat, err := x.Flatten()
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if !reflect.DeepEqual(flat.Shape, []int{2, 12}) {
		t.Errorf("flatten shape = %v, expected [2 12]", flat.Shape)
	}
	if &flat.Data[0] != &x.Data[0] {
		t.Error("flatten should share storage")
	}

	inferred, err := x.Reshape([]int{-1, 6})
	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}
	if !reflect.DeepEqual(inferred.Shape, []int{4, 6}) {
		t.Errorf("inferred shape = %v, expected [4 6]", inferred.Shape)
	}

	if _, err := x.Reshape([]int{5, 5}); err == nil {
		t.Error("expected error for incompatible reshape")
	}
	if _, err := x.Reshape([]int{-1, -1}); err == nil {
		t.Error("expected error for two inferred dimensions")
	}
}

func TestMeanAxisChannelAverage(t *testing.T) {
	// [batch=1, channels=2, h=1, w=2]
	x, _ := NewTensor([]int{1, 2, 1, 2}, []float32{1, 2, 3, 6})
	m, err := MeanAxis(x, 1)
	if err != nil {
		t.Fatalf("MeanAxis: %v", err)
	}
	if !reflect.DeepEqual(m.Shape, []int{1, 1, 2}) {
		t.Fatalf("shape = %v, expected [1 1 2]", m.Shape)
	}
	if m.Data[0] != 2 || m.Data[1] != 4 {
		t.Errorf("data = %v, expected [2 4]", m.Data)
	}
}

func TestMatMulVariantsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a, _ := RandNormal([]int{3, 4}, 1, rng)
	b, _ := RandNormal([]int{4, 5}, 1, rng)

	ab, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul: %v", err)
	}

	// a^T stored explicitly
	aT, _ := Zeros([]int{4, 3})
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			aT.Data[j*3+i] = a.Data[i*4+j]
		}
	}
	viaTransA, err := MatMulTransA(aT, b)
	if err != nil {
		t.Fatalf("MatMulTransA: %v", err)
	}

	bT, _ := Zeros([]int{5, 4})
	for i := 0; i < 4; i++ {
		for j := 0; j < 5; j++ {
			bT.Data[j*4+i] = b.Data[i*5+j]
		}
	}
	viaTransB, err := MatMulTransB(a, bT)
	if err != nil {
		t.Fatalf("MatMulTransB: %v", err)
	}

	for i := range ab.Data {
		if math.Abs(float64(ab.Data[i]-viaTransA.Data[i])) > 1e-5 {
			t.Errorf("trans_a mismatch at %d: %f vs %f", i, ab.Data[i], viaTransA.Data[i])
		}
		if math.Abs(float64(ab.Data[i]-viaTransB.Data[i])) > 1e-5 {
			t.Errorf("trans_b mismatch at %d: %f vs %f", i, ab.Data[i], viaTransB.Data[i])
		}
	}

	if _, err := MatMul(a, a); err == nil {
		t.Error("expected inner dimension mismatch error")
	}
}

func TestGradientBuffer(t *testing.T) {
	p, _ := NewTensor([]int{3}, []float32{1, 2, 3})
	if err := p.AccumulateGrad([]float32{1, 1, 1}); err == nil {
		t.Error("expected error accumulating into tensor without gradients")
	}

	p.SetRequiresGrad(true)
	if err := p.AccumulateGrad([]float32{1, 2, 3}); err != nil {
		t.Fatalf("AccumulateGrad: %v", err)
	}
	if err := p.AccumulateGrad([]float32{1, 2, 3}); err != nil {
		t.Fatalf("AccumulateGrad: %v", err)
	}
	if !reflect.DeepEqual(p.Grad(), []float32{2, 4, 6}) {
		t.Errorf("grad = %v, expected [2 4 6]", p.Grad())
	}

	ZeroGrad([]*Tensor{p, nil})
	for i, g := range p.Grad() {
		if g != 0 {
			t.Errorf("grad[%d] = %f after ZeroGrad", i, g)
		}
	}
}

func TestGELUGradMatchesFiniteDifference(t *testing.T) {
	for _, x := range []float32{-3, -1, -0.2, 0, 0.3, 1.5, 4} {
		h := float32(1e-2)
		numeric := (GELU(x+h) - GELU(x-h)) / (2 * h)
		if diff := math.Abs(float64(numeric - GELUGrad(x))); diff > 1e-3 {
			t.Errorf("GELUGrad(%f) = %f, finite difference %f", x, GELUGrad(x), numeric)
		}
	}
}

func TestArgmaxFirstMaximum(t *testing.T) {
	if got := Argmax([]float32{1, 3, 3, 2}); got != 1 {
		t.Errorf("Argmax = %d, expected 1", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	x, _ := NewTensor([]int{2}, []float32{1, 2})
	c := x.Clone()
	c.Data[0] = 9
	if x.Data[0] != 1 {
		t.Error("clone shares storage with source")
	}
	if !x.Equal(x.Clone()) {
		t.Error("clone should equal source")
	}
}
