// Package config holds the immutable run configuration of a training job.
//
// A Configuration is created once at process start from defaults, an
// optional YAML file and command-line flags, validated, resolved against
// the model/dataset/optimizer/scheduler registries and then treated as
// read-only. Fields tagged hash:"ignore" do not influence the trained
// result and are excluded from the experiment identity.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Save policies for periodic epoch checkpoints.
const (
	// SavePolicyLegacy saves on every epoch that is NOT a multiple of
	// save_freq.
	SavePolicyLegacy = "legacy"

	// SavePolicyMultiple saves on epochs that are multiples of save_freq.
	SavePolicyMultiple = "multiple"
)

// Configuration is the full record of run parameters.
type Configuration struct {
	// Data
	DataPath   string  `json:"data_path" yaml:"data_path" hash:"ignore"`
	Dataset    string  `json:"dataset" yaml:"dataset" validate:"required"`
	Resolution int     `json:"resolution" yaml:"resolution" validate:"gt=0"`
	ChannelAvg bool    `json:"channel_avg" yaml:"channel_avg"`
	NTrain     int     `json:"n_train" yaml:"n_train" validate:"gte=0"`
	Augment    bool    `json:"augment" yaml:"augment"`
	Mixup      float64 `json:"mixup" yaml:"mixup" validate:"gte=0"`

	// Model
	Model        string `json:"model" yaml:"model" validate:"required"`
	Architecture string `json:"architecture" yaml:"architecture" validate:"required"`

	// Training
	Optimizer   string  `json:"optimizer" yaml:"optimizer" validate:"required"`
	BatchSize   int     `json:"batch_size" yaml:"batch_size" validate:"gt=0"`
	LR          float64 `json:"lr" yaml:"lr" validate:"gt=0"`
	Scheduler   string  `json:"scheduler" yaml:"scheduler" validate:"required"`
	StepSize    int     `json:"step_size" yaml:"step_size" validate:"gte=0"`
	Gamma       float64 `json:"gamma" yaml:"gamma" validate:"gte=0,lte=1"`
	WeightDecay float64 `json:"weight_decay" yaml:"weight_decay" validate:"gte=0"`
	Epochs      int     `json:"epochs" yaml:"epochs" validate:"gt=0"`
	Smooth      float64 `json:"smooth" yaml:"smooth" validate:"gte=0,lt=1"`
	Clip        float64 `json:"clip" yaml:"clip" validate:"gte=0"`
	Seed        int64   `json:"seed" yaml:"seed"`
	Reload      bool    `json:"reload" yaml:"reload" hash:"ignore"`

	// Logging and checkpointing
	CalculateStats   int    `json:"calculate_stats" yaml:"calculate_stats" validate:"gt=0" hash:"ignore"`
	CheckpointFolder string `json:"checkpoint_folder" yaml:"checkpoint_folder" validate:"required" hash:"ignore"`
	SaveFreq         int    `json:"save_freq" yaml:"save_freq" validate:"gt=0" hash:"ignore"`
	Save             bool   `json:"save" yaml:"save" hash:"ignore"`
	SavePolicy       string `json:"save_policy" yaml:"save_policy" validate:"oneof=legacy multiple" hash:"ignore"`
	CheckpointFormat string `json:"checkpoint_format" yaml:"checkpoint_format" validate:"oneof=protobuf json" hash:"ignore"`
	Workers          int    `json:"workers" yaml:"workers" validate:"gte=1" hash:"ignore"`
	Progress         bool   `json:"progress" yaml:"progress" hash:"ignore"`

	Tracking TrackingConfig `json:"tracking" yaml:"tracking" hash:"ignore"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging" hash:"ignore"`

	// Derived during resolution; not read from files.
	NumClasses  int   `json:"num_classes" yaml:"num_classes,omitempty" hash:"ignore"`
	NumChannels int   `json:"num_channels" yaml:"num_channels,omitempty" hash:"ignore"`
	NumParams   int64 `json:"num_params" yaml:"num_params,omitempty" hash:"ignore"`
}

// TrackingConfig selects the experiment-tracking backends.
type TrackingConfig struct {
	Project string   `json:"project" yaml:"project"`
	Entity  string   `json:"entity" yaml:"entity"`
	Tags    []string `json:"tags" yaml:"tags"`

	InfluxURL    string `json:"influx_url" yaml:"influx_url" validate:"omitempty,url"`
	InfluxToken  string `json:"-" yaml:"influx_token"`
	InfluxOrg    string `json:"influx_org" yaml:"influx_org"`
	InfluxBucket string `json:"influx_bucket" yaml:"influx_bucket"`

	HistoryPath string `json:"history_path" yaml:"history_path"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
	TraceStdout bool   `json:"trace_stdout" yaml:"trace_stdout"`
}

// Enabled reports whether any tracking backend is configured.
func (t TrackingConfig) Enabled() bool {
	return t.InfluxURL != "" || t.HistoryPath != "" || t.MetricsAddr != ""
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON   bool   `json:"json" yaml:"json"`
	LogDir string `json:"log_dir" yaml:"log_dir"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Configuration {
	return Configuration{
		DataPath:   "./beton",
		Dataset:    "imagenet21",
		Resolution: 64,
		ChannelAvg: false,
		NTrain:     0,
		Augment:    true,
		Mixup:      0.8,

		Model:        "BottleneckMLP",
		Architecture: "B_6-Wi_1024",

		Optimizer:   "lion",
		BatchSize:   4096,
		LR:          0.00005,
		Scheduler:   "none",
		StepSize:    30,
		Gamma:       0.1,
		WeightDecay: 0.0,
		Epochs:      500,
		Smooth:      0.3,
		Clip:        0.0,
		Reload:      false,

		CalculateStats:   1,
		CheckpointFolder: "./checkpoints",
		SaveFreq:         100,
		Save:             true,
		SavePolicy:       SavePolicyLegacy,
		CheckpointFormat: "protobuf",
		Workers:          1,
		Progress:         true,

		Tracking: TrackingConfig{
			Project: "mlps",
			Tags:    []string{"pretrain"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Configuration, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &ConfigurationError{Field: "config", Value: path, Err: err}
	}
	if err := Decode(bytes.NewReader(data), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode applies YAML from r on top of cfg.
func Decode(r io.Reader, cfg *Configuration) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &ConfigurationError{Field: "config", Err: fmt.Errorf("decode yaml: %w", err)}
	}
	return nil
}

// Snapshot renders the configuration as a human-readable YAML record.
// Credentials are blanked.
func (c *Configuration) Snapshot() ([]byte, error) {
	redacted := *c
	redacted.Tracking.InfluxToken = ""
	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return nil, fmt.Errorf("marshal configuration: %w", err)
	}
	return data, nil
}

// ShouldSave reports whether a periodic checkpoint is due at epoch.
func (c *Configuration) ShouldSave(epoch int) bool {
	if !c.Save || c.SaveFreq <= 0 {
		return false
	}
	switch c.SavePolicy {
	case SavePolicyMultiple:
		return epoch%c.SaveFreq == 0
	default:
		return epoch%c.SaveFreq != 0
	}
}

// ShouldEvaluate reports whether epoch is on the stats cadence.
func (c *Configuration) ShouldEvaluate(epoch int) bool {
	if c.CalculateStats <= 0 {
		return false
	}
	return epoch%c.CalculateStats == 0
}
