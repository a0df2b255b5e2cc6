package optimizer

import (
	"errors"
	"math"
	"testing"

	"github.com/samuelsimko/scaling-mlps/config"
	"github.com/samuelsimko/scaling-mlps/tensor"
)

func param(t *testing.T, data, grad []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.NewTensor([]int{len(data)}, append([]float32(nil), data...))
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	p.SetRequiresGrad(true)
	if err := p.AccumulateGrad(grad); err != nil {
		t.Fatalf("AccumulateGrad failed: %v", err)
	}
	return p
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestSGDStep(t *testing.T) {
	tests := []struct {
		name     string
		config   SGDConfig
		steps    int
		expected float32
	}{
		// p = 1, g = 0.5 on every step
		{"vanilla", SGDConfig{LearningRate: 0.1}, 2, 1 - 2*0.05},
		{"weight decay", SGDConfig{LearningRate: 0.1, WeightDecay: 0.1}, 1, 1 - 0.1*(0.5+0.1)},
		// v1 = 0.5, v2 = 0.9*0.5 + 0.5 = 0.95
		{"momentum", SGDConfig{LearningRate: 0.1, Momentum: 0.9}, 2, 1 - 0.05 - 0.095},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := param(t, []float32{1}, []float32{0.5})
			opt := NewSGD([]*tensor.Tensor{p}, tt.config)
			for i := 0; i < tt.steps; i++ {
				if err := opt.Step(); err != nil {
					t.Fatalf("Step failed: %v", err)
				}
			}
			if !approx(p.Data[0], tt.expected) {
				t.Errorf("expected %f, got %f", tt.expected, p.Data[0])
			}
			if opt.GetStepCount() != uint64(tt.steps) {
				t.Errorf("expected %d steps, got %d", tt.steps, opt.GetStepCount())
			}
		})
	}
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	// With bias correction, the first Adam step is lr * sign(g).
	for _, decoupled := range []bool{false, true} {
		p := param(t, []float32{1, -1}, []float32{0.3, -2})
		cfg := DefaultAdamConfig()
		cfg.LearningRate = 0.01
		cfg.Decoupled = decoupled
		opt := NewAdam([]*tensor.Tensor{p}, cfg)
		if err := opt.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if !approx(p.Data[0], 0.99) || !approx(p.Data[1], -0.99) {
			t.Errorf("decoupled=%v: unexpected params %v", decoupled, p.Data)
		}
	}
}

func TestAdamWDecaysIndependentlyOfGradient(t *testing.T) {
	p := param(t, []float32{2}, []float32{0})
	cfg := DefaultAdamConfig()
	cfg.LearningRate = 0.1
	cfg.WeightDecay = 0.5
	cfg.Decoupled = true
	opt := NewAdam([]*tensor.Tensor{p}, cfg)
	if err := opt.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	// 2 - 0.1*0.5*2, and the zero gradient contributes nothing
	if !approx(p.Data[0], 1.9) {
		t.Errorf("expected 1.9, got %f", p.Data[0])
	}
}

func TestLionSignUpdate(t *testing.T) {
	p := param(t, []float32{1, 1, 1}, []float32{3, -0.001, 0})
	opt := NewLion([]*tensor.Tensor{p}, LionConfig{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.99, WeightDecay: 1})
	if err := opt.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	// decay by (1 - 0.1*1), then step by lr * sign
	expected := []float32{0.9 - 0.1, 0.9 + 0.1, 0.9}
	for i := range expected {
		if !approx(p.Data[i], expected[i]) {
			t.Errorf("element %d: expected %f, got %f", i, expected[i], p.Data[i])
		}
	}
}

func TestZeroGradAndLR(t *testing.T) {
	p := param(t, []float32{1}, []float32{4})
	opt, err := Build("Lion", []*tensor.Tensor{p}, 0.5, 0)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	opt.ZeroGrad()
	if p.Grad()[0] != 0 {
		t.Errorf("gradient not cleared: %v", p.Grad())
	}
	opt.SetLR(0.25)
	if opt.GetLR() != 0.25 {
		t.Errorf("expected lr 0.25, got %f", opt.GetLR())
	}
}

func TestBuildUnknownOptimizer(t *testing.T) {
	_, err := Build("rmsprop", nil, 0.1, 0)
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	for _, name := range []string{"sgd", "adam", "adamw", "lion"} {
		if _, err := Lookup(name); err != nil {
			t.Errorf("Lookup(%s) failed: %v", name, err)
		}
	}
}

func TestClipGradNorm(t *testing.T) {
	a := param(t, []float32{0, 0}, []float32{3, 0})
	b := param(t, []float32{0}, []float32{4})
	params := []*tensor.Tensor{a, b}

	norm := ClipGradNorm(params, 10)
	if math.Abs(norm-5) > 1e-9 {
		t.Errorf("expected norm 5, got %f", norm)
	}
	if a.Grad()[0] != 3 {
		t.Errorf("gradients below the limit were modified")
	}

	ClipGradNorm(params, 1)
	if got := GradNorm(params); math.Abs(got-1) > 1e-4 {
		t.Errorf("expected clipped norm 1, got %f", got)
	}
	// direction is preserved
	if !approx(a.Grad()[0]/b.Grad()[0], 0.75) {
		t.Errorf("clipping changed gradient direction: %v %v", a.Grad(), b.Grad())
	}

	before := b.Grad()[0]
	ClipGradNorm(params, 0)
	if b.Grad()[0] != before {
		t.Errorf("zero max norm should disable clipping")
	}
}
