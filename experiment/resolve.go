// Package experiment turns a run Configuration into a ready-to-run
// training.Orchestrator.
package experiment

import (
	"slices"
	"strings"

	"github.com/samuelsimko/scaling-mlps/checkpoints"
	"github.com/samuelsimko/scaling-mlps/config"
	"github.com/samuelsimko/scaling-mlps/layers"
	"github.com/samuelsimko/scaling-mlps/optimizer"
	"github.com/samuelsimko/scaling-mlps/training"
	"github.com/samuelsimko/scaling-mlps/vision/dataset"
)

// Resolve validates cfg, checks every registry identifier and fills the
// derived fields. All failures are *config.ConfigurationError.
func Resolve(cfg *config.Configuration) (dataset.Info, error) {
	if err := cfg.Validate(); err != nil {
		return dataset.Info{}, err
	}

	info, err := dataset.Lookup(cfg.Dataset)
	if err != nil {
		return dataset.Info{}, err
	}
	if _, ok := layers.Canonical(cfg.Model); !ok {
		return dataset.Info{}, config.Unknown("model", cfg.Model, layers.Names())
	}
	if _, err := layers.ParseArchitecture(cfg.Architecture); err != nil {
		return dataset.Info{}, &config.ConfigurationError{Field: "architecture", Value: cfg.Architecture, Err: err}
	}
	if _, err := optimizer.Lookup(cfg.Optimizer); err != nil {
		return dataset.Info{}, err
	}
	if !slices.Contains(training.SchedulerNames(), strings.ToLower(cfg.Scheduler)) {
		return dataset.Info{}, config.Unknown("scheduler", cfg.Scheduler, training.SchedulerNames())
	}
	if _, err := checkpoints.ParseFormat(cfg.CheckpointFormat); err != nil {
		return dataset.Info{}, &config.ConfigurationError{Field: "checkpoint_format", Value: cfg.CheckpointFormat, Err: err}
	}

	cfg.NumClasses = info.Classes
	if cfg.NTrain == 0 || cfg.NTrain > info.TrainSamples {
		cfg.NTrain = info.TrainSamples
	}
	cfg.NumChannels = 3
	if cfg.ChannelAvg {
		cfg.NumChannels = 1
	}
	return info, nil
}
