package config

import (
	"github.com/spf13/pflag"
)

// BindFlags registers one flag per run parameter, using the current
// values of cfg as defaults. Parsing the flag set writes into cfg.
func BindFlags(fs *pflag.FlagSet, cfg *Configuration) {
	// Data
	fs.StringVar(&cfg.DataPath, "data_path", cfg.DataPath, "Path to data directory")
	fs.StringVar(&cfg.Dataset, "dataset", cfg.Dataset, "Dataset")
	fs.IntVar(&cfg.Resolution, "resolution", cfg.Resolution, "Image resolution")
	fs.BoolVar(&cfg.ChannelAvg, "channel_avg", cfg.ChannelAvg, "Whether to average over channels")
	fs.IntVar(&cfg.NTrain, "n_train", cfg.NTrain, "Number of training samples, 0 for all")
	fs.BoolVar(&cfg.Augment, "augment", cfg.Augment, "Whether to augment data")
	fs.Float64Var(&cfg.Mixup, "mixup", cfg.Mixup, "Strength of mixup")

	// Model
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Type of model")
	fs.StringVar(&cfg.Architecture, "architecture", cfg.Architecture, "Architecture type")

	// Training
	fs.StringVar(&cfg.Optimizer, "optimizer", cfg.Optimizer, "Choice of optimizer")
	fs.IntVar(&cfg.BatchSize, "batch_size", cfg.BatchSize, "Batch size")
	fs.Float64Var(&cfg.LR, "lr", cfg.LR, "Learning rate")
	fs.StringVar(&cfg.Scheduler, "scheduler", cfg.Scheduler, "Scheduler")
	fs.IntVar(&cfg.StepSize, "step_size", cfg.StepSize, "Epochs between decays for the step scheduler")
	fs.Float64Var(&cfg.Gamma, "gamma", cfg.Gamma, "Decay factor for step/exponential schedulers")
	fs.Float64Var(&cfg.WeightDecay, "weight_decay", cfg.WeightDecay, "Weight decay")
	fs.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "Epochs")
	fs.Float64Var(&cfg.Smooth, "smooth", cfg.Smooth, "Amount of label smoothing")
	fs.Float64Var(&cfg.Clip, "clip", cfg.Clip, "Gradient clipping")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed for initialisation and shuffling")
	fs.BoolVar(&cfg.Reload, "reload", cfg.Reload, "Reinitialize from checkpoint")

	// Logging
	fs.IntVar(&cfg.CalculateStats, "calculate_stats", cfg.CalculateStats, "Frequency of calculating stats")
	fs.StringVar(&cfg.CheckpointFolder, "checkpoint_folder", cfg.CheckpointFolder, "Path to checkpoint directory")
	fs.IntVar(&cfg.SaveFreq, "save_freq", cfg.SaveFreq, "Save frequency")
	fs.BoolVar(&cfg.Save, "save", cfg.Save, "Whether to save checkpoints")
	fs.StringVar(&cfg.SavePolicy, "save_policy", cfg.SavePolicy, "Periodic save policy: legacy or multiple")
	fs.StringVar(&cfg.CheckpointFormat, "checkpoint_format", cfg.CheckpointFormat, "Checkpoint encoding: protobuf or json")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Data loading workers")
	fs.BoolVar(&cfg.Progress, "progress", cfg.Progress, "Show progress bars")

	// Tracking
	fs.StringVar(&cfg.Tracking.Project, "tracking_project", cfg.Tracking.Project, "Tracking project name")
	fs.StringVar(&cfg.Tracking.Entity, "tracking_entity", cfg.Tracking.Entity, "Tracking entity name")
	fs.StringVar(&cfg.Tracking.InfluxURL, "influx_url", cfg.Tracking.InfluxURL, "InfluxDB URL")
	fs.StringVar(&cfg.Tracking.InfluxToken, "influx_token", cfg.Tracking.InfluxToken, "InfluxDB token")
	fs.StringVar(&cfg.Tracking.InfluxOrg, "influx_org", cfg.Tracking.InfluxOrg, "InfluxDB organisation")
	fs.StringVar(&cfg.Tracking.InfluxBucket, "influx_bucket", cfg.Tracking.InfluxBucket, "InfluxDB bucket")
	fs.StringVar(&cfg.Tracking.HistoryPath, "history_path", cfg.Tracking.HistoryPath, "Directory of the local run history store")
	fs.StringVar(&cfg.Tracking.MetricsAddr, "metrics_addr", cfg.Tracking.MetricsAddr, "Address for the Prometheus /metrics endpoint")
	fs.BoolVar(&cfg.Tracking.TraceStdout, "trace_stdout", cfg.Tracking.TraceStdout, "Export epoch spans to stdout")

	fs.StringVar(&cfg.Logging.Level, "log_level", cfg.Logging.Level, "Log level: debug, info, warn, error")
	fs.BoolVar(&cfg.Logging.JSON, "log_json", cfg.Logging.JSON, "Log in JSON format")
	fs.StringVar(&cfg.Logging.LogDir, "log_dir", cfg.Logging.LogDir, "Directory for log files")
}

// ApplyChanged replays every flag explicitly set on fs onto cfg. It lets
// command-line values win over a configuration file loaded after parsing.
func ApplyChanged(fs *pflag.FlagSet, cfg *Configuration) error {
	target := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	BindFlags(target, cfg)

	var replayErr error
	fs.Visit(func(f *pflag.Flag) {
		if replayErr != nil || target.Lookup(f.Name) == nil {
			return
		}
		if err := target.Set(f.Name, f.Value.String()); err != nil {
			replayErr = &ConfigurationError{Field: f.Name, Value: f.Value.String(), Err: err}
		}
	})
	return replayErr
}
