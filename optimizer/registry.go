package optimizer

import (
	"sort"
	"strings"

	"github.com/samuelsimko/scaling-mlps/config"
	"github.com/samuelsimko/scaling-mlps/tensor"
)

// Factory builds an optimizer from a learning rate and weight decay; all
// other hyper-parameters take their defaults.
type Factory func(params []*tensor.Tensor, lr, weightDecay float64) Optimizer

var registry = map[string]Factory{
	"sgd": func(params []*tensor.Tensor, lr, wd float64) Optimizer {
		cfg := DefaultSGDConfig()
		cfg.LearningRate, cfg.WeightDecay = lr, wd
		return NewSGD(params, cfg)
	},
	"adam": func(params []*tensor.Tensor, lr, wd float64) Optimizer {
		cfg := DefaultAdamConfig()
		cfg.LearningRate, cfg.WeightDecay = lr, wd
		return NewAdam(params, cfg)
	},
	"adamw": func(params []*tensor.Tensor, lr, wd float64) Optimizer {
		cfg := DefaultAdamConfig()
		cfg.LearningRate, cfg.WeightDecay, cfg.Decoupled = lr, wd, true
		return NewAdam(params, cfg)
	},
	"lion": func(params []*tensor.Tensor, lr, wd float64) Optimizer {
		cfg := DefaultLionConfig()
		cfg.LearningRate, cfg.WeightDecay = lr, wd
		return NewLion(params, cfg)
	},
}

// Names lists the registered optimizer identifiers.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves an optimizer identifier case-insensitively.
func Lookup(kind string) (Factory, error) {
	f, ok := registry[strings.ToLower(kind)]
	if !ok {
		return nil, config.Unknown("optimizer", kind, Names())
	}
	return f, nil
}

// Build constructs the optimizer named kind over params.
func Build(kind string, params []*tensor.Tensor, lr, weightDecay float64) (Optimizer, error) {
	f, err := Lookup(kind)
	if err != nil {
		return nil, err
	}
	return f(params, lr, weightDecay), nil
}
