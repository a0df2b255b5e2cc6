// Package tracking ships per-epoch training metrics to experiment
// tracking backends.
//
// Every sink satisfies training.MetricSink. Open assembles the sinks
// selected by a TrackingConfig into a single fan-out sink.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samuelsimko/scaling-mlps/config"
)

// Sink receives the metrics of one run.
type Sink interface {
	Log(ctx context.Context, epoch int, metrics map[string]float64) error
	Close() error
}

// Run describes the run the metrics belong to.
type Run struct {
	ID      string
	Name    string // experiment identity
	Project string
	Entity  string
	Tags    []string
	Started time.Time
	Config  []byte // YAML snapshot of the run configuration
}

// NewRun creates a Run with a fresh identifier. The dataset name is
// appended to the configured tags.
func NewRun(cfg *config.Configuration, identity string, snapshot []byte) Run {
	tags := append([]string(nil), cfg.Tracking.Tags...)
	tags = append(tags, cfg.Dataset)
	return Run{
		ID:      uuid.NewString(),
		Name:    identity,
		Project: cfg.Tracking.Project,
		Entity:  cfg.Tracking.Entity,
		Tags:    tags,
		Started: time.Now().UTC(),
		Config:  snapshot,
	}
}

// Open builds the sinks enabled in cfg. With nothing enabled it returns
// a Noop sink. Sinks opened before a failure are closed.
func Open(ctx context.Context, cfg config.TrackingConfig, run Run, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []Sink
	fail := func(err error) (Sink, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}

	if cfg.HistoryPath != "" {
		h, err := OpenHistory(HistoryConfig{Path: cfg.HistoryPath}, logger)
		if err != nil {
			return fail(err)
		}
		if err := h.Begin(run); err != nil {
			h.Close()
			return fail(err)
		}
		sinks = append(sinks, h)
	}
	if cfg.InfluxURL != "" {
		s, err := NewInfluxSink(ctx, InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}, run)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if cfg.MetricsAddr != "" {
		s, err := NewPrometheusSink(PrometheusConfig{}, run)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		return Noop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return Multi(sinks), nil
	}
}

// Noop discards everything.
type Noop struct{}

func (Noop) Log(context.Context, int, map[string]float64) error { return nil }
func (Noop) Close() error                                       { return nil }

// Multi fans Log and Close out to every sink. All sinks are attempted;
// their errors are joined.
type Multi []Sink

func (m Multi) Log(ctx context.Context, epoch int, metrics map[string]float64) error {
	var errs []error
	for _, s := range m {
		if err := s.Log(ctx, epoch, metrics); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Find returns the first sink of type T, looking inside Multi.
func Find[T Sink](s Sink) (T, bool) {
	if t, ok := s.(T); ok {
		return t, true
	}
	if m, ok := s.(Multi); ok {
		for _, inner := range m {
			if t, ok := Find[T](inner); ok {
				return t, true
			}
		}
	}
	var zero T
	return zero, false
}

// SinkError wraps a failure of a named backend.
type SinkError struct {
	Backend string
	Err     error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("tracking %s: %v", e.Backend, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
