package training

import (
	"math"
	"sort"
	"strings"

	"github.com/samuelsimko/scaling-mlps/config"
)

// LRScheduler defines the interface for learning rate scheduling strategies
// Policies are pure functions of the epoch; EpochScheduler holds the state
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30 // Default: reduce every 30 epochs
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1 // Default: reduce by 10x
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	// Calculate how many times to apply gamma
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays learning rate exponentially
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95 // Default: 5% reduction per epoch
	}
	return &ExponentialLRScheduler{
		Gamma: gamma,
	}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
type CosineAnnealingLRScheduler struct {
	TMax   int     // Maximum number of epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100 // Default: 100 epochs
	}
	if etaMin < 0 {
		etaMin = 0 // Default: anneal to 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}

	// Cosine annealing formula
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// NoOpScheduler maintains constant learning rate (default behavior)
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}

// LRSetter is the part of an optimizer a scheduler drives.
type LRSetter interface {
	GetLR() float64
	SetLR(lr float64)
}

// Scheduler advances the learning rate once per epoch.
type Scheduler interface {
	Step()
	LastLR() float64
}

// EpochScheduler applies an LRScheduler policy to an optimizer, counting
// epochs from the learning rate the optimizer had at construction.
type EpochScheduler struct {
	policy LRScheduler
	opt    LRSetter
	baseLR float64
	epoch  int
}

// NewEpochScheduler binds policy to opt.
func NewEpochScheduler(policy LRScheduler, opt LRSetter) *EpochScheduler {
	return &EpochScheduler{
		policy: policy,
		opt:    opt,
		baseLR: opt.GetLR(),
	}
}

// Step marks the end of an epoch and sets the next learning rate.
func (s *EpochScheduler) Step() {
	s.epoch++
	s.opt.SetLR(s.policy.GetLR(s.epoch, 0, s.baseLR))
}

// LastLR returns the learning rate currently set on the optimizer.
func (s *EpochScheduler) LastLR() float64 {
	return s.opt.GetLR()
}

// Epoch returns the number of completed steps.
func (s *EpochScheduler) Epoch() int {
	return s.epoch
}

// Name returns the policy name.
func (s *EpochScheduler) Name() string {
	return s.policy.GetName()
}

// SchedulerOptions carries the hyper-parameters of every policy.
type SchedulerOptions struct {
	StepSize int
	Gamma    float64
	TMax     int
	EtaMin   float64
}

var schedulers = map[string]func(SchedulerOptions) LRScheduler{
	"none": func(SchedulerOptions) LRScheduler { return &NoOpScheduler{} },
	"step": func(o SchedulerOptions) LRScheduler { return NewStepLRScheduler(o.StepSize, o.Gamma) },
	"exponential": func(o SchedulerOptions) LRScheduler {
		return NewExponentialLRScheduler(o.Gamma)
	},
	"cosine": func(o SchedulerOptions) LRScheduler {
		return NewCosineAnnealingLRScheduler(o.TMax, o.EtaMin)
	},
}

// SchedulerNames lists the registered scheduler identifiers.
func SchedulerNames() []string {
	names := make([]string, 0, len(schedulers))
	for name := range schedulers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildScheduler resolves kind and binds it to opt.
func BuildScheduler(kind string, opt LRSetter, o SchedulerOptions) (*EpochScheduler, error) {
	build, ok := schedulers[strings.ToLower(kind)]
	if !ok {
		return nil, config.Unknown("scheduler", kind, SchedulerNames())
	}
	return NewEpochScheduler(build(o), opt), nil
}
