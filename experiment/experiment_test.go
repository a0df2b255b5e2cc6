package experiment

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/samuelsimko/scaling-mlps/checkpoints"
	"github.com/samuelsimko/scaling-mlps/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticConfig(t *testing.T) config.Configuration {
	t.Helper()
	cfg := config.Default()
	cfg.Dataset = "synthetic"
	cfg.Resolution = 4
	cfg.Model = "BottleneckMLP"
	cfg.Architecture = "B_1-Wi_8-E_2"
	cfg.Optimizer = "adam"
	cfg.LR = 0.01
	cfg.BatchSize = 256
	cfg.Epochs = 2
	cfg.Workers = 2
	cfg.Progress = false
	cfg.CheckpointFolder = filepath.Join(t.TempDir(), "checkpoints")
	return cfg
}

type memorySink struct {
	mu     sync.Mutex
	epochs []int
	closed bool
}

func (s *memorySink) Log(_ context.Context, epoch int, _ map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs = append(s.epochs, epoch)
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return nil
}

func TestResolveDerivedFields(t *testing.T) {
	cfg := config.Default()
	cfg.Dataset = "cifar10"
	cfg.ChannelAvg = true

	info, err := Resolve(&cfg)
	require.NoError(t, err)
	assert.Equal(t, 10, info.Classes)
	assert.Equal(t, 10, cfg.NumClasses)
	assert.Equal(t, 50000, cfg.NTrain)
	assert.Equal(t, 1, cfg.NumChannels)

	cfg = config.Default()
	cfg.Dataset = "cifar100"
	cfg.NTrain = 1000
	_, err = Resolve(&cfg)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.NTrain)
	assert.Equal(t, 3, cfg.NumChannels)
}

func TestResolveRejectsUnknownIdentifiers(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Configuration)
		field  string
	}{
		{"dataset", func(c *config.Configuration) { c.Dataset = "mnist" }, "dataset"},
		{"model", func(c *config.Configuration) { c.Model = "ResNet" }, "model"},
		{"architecture", func(c *config.Configuration) { c.Architecture = "B_x" }, "architecture"},
		{"optimizer", func(c *config.Configuration) { c.Optimizer = "rmsprop" }, "optimizer"},
		{"scheduler", func(c *config.Configuration) { c.Scheduler = "plateau" }, "scheduler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			_, err := Resolve(&cfg)
			var cfgErr *config.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestExperimentRunsSyntheticDataset(t *testing.T) {
	cfg := syntheticConfig(t)
	var out bytes.Buffer
	sink := &memorySink{}

	exp, err := New(context.Background(), &cfg, Options{Out: &out, Sink: sink})
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.NumClasses)
	assert.Equal(t, 2000, cfg.NTrain)
	assert.Positive(t, cfg.NumParams)
	assert.Contains(t, out.String(), "Model Architecture:")

	summary, err := exp.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, exp.Close())
	assert.True(t, sink.closed)

	assert.Equal(t, 2, summary.Record.Epoch)
	assert.GreaterOrEqual(t, summary.Record.BestAccuracy, 0.0)
	assert.GreaterOrEqual(t, summary.BestSaves, 1)
	assert.FileExists(t, checkpoints.OptimalPath(summary.Record.Path))
	assert.FileExists(t, filepath.Join(summary.Record.Path, checkpoints.SnapshotFile))
	assert.Contains(t, out.String(), "Epoch 2 Time:")

	// two train logs and two full logs
	assert.Equal(t, []int{1, 1, 2, 2}, sink.epochs)
}

func TestExperimentWithoutTrackingLogsNotice(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Epochs = 1
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	exp, err := New(context.Background(), &cfg, Options{Out: &bytes.Buffer{}, Logger: logger})
	require.NoError(t, err)
	defer exp.Close()

	assert.Contains(t, logs.String(), "no tracking backend configured")
	_, err = exp.Run(context.Background())
	require.NoError(t, err)
}

func TestExperimentHonoursCancellation(t *testing.T) {
	cfg := syntheticConfig(t)
	exp, err := New(context.Background(), &cfg, Options{Out: &bytes.Buffer{}, Sink: &memorySink{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = exp.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetupTracing(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := SetupTracing(&buf, "scaling-mlps-test")
	require.NoError(t, err)

	cfg := syntheticConfig(t)
	cfg.Epochs = 1
	exp, err := New(context.Background(), &cfg, Options{Out: &bytes.Buffer{}, Sink: &memorySink{}})
	require.NoError(t, err)
	_, err = exp.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "Orchestrator.Run")
}
