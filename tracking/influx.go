package tracking

import (
	"context"
	"errors"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Measurement is the InfluxDB measurement epoch metrics are written to.
const Measurement = "epoch_metrics"

// InfluxConfig locates an InfluxDB 2 bucket.
type InfluxConfig struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// InfluxSink writes one point per Log call.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	tags     map[string]string
}

// NewInfluxSink connects to the server and checks that it answers.
func NewInfluxSink(ctx context.Context, cfg InfluxConfig, run Run) (*InfluxSink, error) {
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, &SinkError{Backend: "influxdb", Err: errors.New("org and bucket are required")}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(timeoutSeconds(timeout))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		client.Close()
		if err == nil {
			err = errors.New("server did not answer ping")
		}
		return nil, &SinkError{Backend: "influxdb", Err: err}
	}

	tags := map[string]string{
		"run_id":   run.ID,
		"run_name": run.Name,
		"project":  run.Project,
	}
	if run.Entity != "" {
		tags["entity"] = run.Entity
	}
	if len(run.Tags) > 0 {
		tags["tags"] = strings.Join(run.Tags, ",")
	}

	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		tags:     tags,
	}, nil
}

func (s *InfluxSink) Log(ctx context.Context, epoch int, metrics map[string]float64) error {
	fields := make(map[string]interface{}, len(metrics)+1)
	for k, v := range metrics {
		fields[k] = v
	}
	fields["epoch"] = epoch

	p := influxdb2.NewPoint(Measurement, s.tags, fields, time.Now())
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return &SinkError{Backend: "influxdb", Err: err}
	}
	return nil
}

func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

// timeoutSeconds rounds d up to whole seconds, the client's resolution.
func timeoutSeconds(d time.Duration) uint {
	return uint((d + time.Second - 1) / time.Second)
}
