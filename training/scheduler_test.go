package training

import (
	"errors"
	"math"
	"testing"

	"github.com/samuelsimko/scaling-mlps/config"
)

func TestStepLRScheduler(t *testing.T) {
	scheduler := NewStepLRScheduler(2, 0.1)
	baseLR := 0.1

	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},    // Initial
		{1, 0.1},    // No change yet
		{2, 0.01},   // First reduction
		{3, 0.01},   // Same
		{4, 0.001},  // Second reduction
		{5, 0.001},  // Same
		{6, 0.0001}, // Third reduction
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, 0, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestExponentialLRScheduler(t *testing.T) {
	scheduler := NewExponentialLRScheduler(0.9)
	baseLR := 0.1

	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},      // Initial
		{1, 0.09},     // 0.1 * 0.9
		{2, 0.081},    // 0.1 * 0.9^2
		{3, 0.0729},   // 0.1 * 0.9^3
		{5, 0.059049}, // 0.1 * 0.9^5
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, 0, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestCosineAnnealingLRScheduler(t *testing.T) {
	scheduler := NewCosineAnnealingLRScheduler(5, 0.0001)
	baseLR := 0.01

	tests := []struct {
		epoch      int
		expectedLR float64
		tolerance  float64
	}{
		{0, 0.01, 1e-6},     // Initial (max)
		{5, 0.0001, 1e-6},   // Final (min)
		{2, 0.006580, 1e-6}, // Midpoint calculation
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, 0, baseLR)
		if math.Abs(lr-tt.expectedLR) > tt.tolerance {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}

	// Test beyond TMax
	lr := scheduler.GetLR(10, 0, baseLR)
	if lr != 0.0001 {
		t.Errorf("Beyond TMax: expected LR %f, got %f", 0.0001, lr)
	}
}

func TestSchedulerNames(t *testing.T) {
	tests := []struct {
		scheduler LRScheduler
		expected  string
	}{
		{NewStepLRScheduler(10, 0.1), "StepLR"},
		{NewExponentialLRScheduler(0.95), "ExponentialLR"},
		{NewCosineAnnealingLRScheduler(100, 0.0), "CosineAnnealingLR"},
		{&NoOpScheduler{}, "ConstantLR"},
	}

	for _, tt := range tests {
		name := tt.scheduler.GetName()
		if name != tt.expected {
			t.Errorf("Expected name %s, got %s", tt.expected, name)
		}
	}
}

type fakeLR struct {
	lr  float64
	set int
}

func (f *fakeLR) GetLR() float64   { return f.lr }
func (f *fakeLR) SetLR(lr float64) { f.lr = lr; f.set++ }

func TestEpochSchedulerStepsOncePerCall(t *testing.T) {
	opt := &fakeLR{lr: 0.1}
	sched, err := BuildScheduler("step", opt, SchedulerOptions{StepSize: 2, Gamma: 0.5})
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}

	expected := []float64{0.1, 0.05, 0.05, 0.025}
	for i, want := range expected {
		sched.Step()
		if math.Abs(sched.LastLR()-want) > 1e-12 {
			t.Errorf("after step %d: LR %v, expected %v", i+1, sched.LastLR(), want)
		}
	}
	if sched.Epoch() != 4 || opt.set != 4 {
		t.Errorf("epoch = %d, SetLR calls = %d, expected 4 and 4", sched.Epoch(), opt.set)
	}
	if sched.Name() != "StepLR" {
		t.Errorf("name = %s", sched.Name())
	}
}

func TestBuildSchedulerConstant(t *testing.T) {
	opt := &fakeLR{lr: 0.3}
	sched, err := BuildScheduler("None", opt, SchedulerOptions{})
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	for i := 0; i < 3; i++ {
		sched.Step()
	}
	if opt.lr != 0.3 {
		t.Errorf("constant schedule changed LR to %v", opt.lr)
	}
}

func TestBuildSchedulerUnknown(t *testing.T) {
	_, err := BuildScheduler("plateau", &fakeLR{lr: 0.1}, SchedulerOptions{})
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "scheduler" {
		t.Errorf("field = %s, expected scheduler", cfgErr.Field)
	}
}
