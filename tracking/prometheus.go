package tracking

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusConfig configures the Prometheus sink. Zero values select
// the "scaling_mlps" namespace and a private registry.
type PrometheusConfig struct {
	Namespace string
	Registry  *prometheus.Registry
}

// PrometheusSink exposes the latest value of every metric as a gauge.
type PrometheusSink struct {
	registry *prometheus.Registry
	run      string

	metric *prometheus.GaugeVec
	epoch  *prometheus.GaugeVec
	logs   *prometheus.CounterVec

	mu     sync.Mutex
	closed bool
}

// NewPrometheusSink registers the run's collectors.
func NewPrometheusSink(cfg PrometheusConfig, run Run) (*PrometheusSink, error) {
	ns := cfg.Namespace
	if ns == "" {
		ns = "scaling_mlps"
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &PrometheusSink{
		registry: reg,
		run:      run.Name,
		metric: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "epoch_metric",
			Help:      "Latest value of a training metric.",
		}, []string{"run", "metric"}),
		epoch: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "epoch",
			Help:      "Last epoch that reported metrics.",
		}, []string{"run"}),
		logs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "metric_reports_total",
			Help:      "Number of metric reports received.",
		}, []string{"run"}),
	}

	for _, c := range []prometheus.Collector{s.metric, s.epoch, s.logs} {
		if err := reg.Register(c); err != nil {
			return nil, &SinkError{Backend: "prometheus", Err: err}
		}
	}
	return s, nil
}

func (s *PrometheusSink) Log(_ context.Context, epoch int, metrics map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &SinkError{Backend: "prometheus", Err: errors.New("sink is closed")}
	}
	for name, v := range metrics {
		s.metric.WithLabelValues(s.run, metricLabel(name)).Set(v)
	}
	s.epoch.WithLabelValues(s.run).Set(float64(epoch))
	s.logs.WithLabelValues(s.run).Inc()
	return nil
}

// Handler serves the registry in the exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (s *PrometheusSink) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &SinkError{Backend: "prometheus", Err: err}
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go srv.Serve(ln)
	return nil
}

// Close unregisters the collectors.
func (s *PrometheusSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.registry.Unregister(s.metric)
	s.registry.Unregister(s.epoch)
	s.registry.Unregister(s.logs)
	return nil
}

// metricLabel turns "Test Top 5 accuracy" into "test_top_5_accuracy".
func metricLabel(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
