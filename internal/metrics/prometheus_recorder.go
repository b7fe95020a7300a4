package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "forkpack"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg             *prom.Registry
	stepDuration    *prom.HistogramVec
	runDuration     prom.Histogram
	stepResults     *prom.CounterVec
	runOutcome      *prom.CounterVec
	downloadRetries prom.Counter
	lastRun         prom.Gauge
}

// NewPrometheusRecorder constructs and registers the release metrics on reg.
// A nil registry gets a fresh one.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{reg: reg}
	pr.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Duration of individual release steps",
		Buckets:   prom.ExponentialBuckets(0.05, 4, 9),
	}, []string{"step"})
	pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Total release run duration",
		Buckets:   prom.ExponentialBuckets(1, 3, 8),
	})
	pr.stepResults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "step_results_total",
		Help:      "Step result counts by outcome",
	}, []string{"step", "result"})
	pr.runOutcome = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "run_outcomes_total",
		Help:      "Release runs by final status",
	}, []string{"outcome"})
	pr.downloadRetries = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "download_retries_total",
		Help:      "Retries of the base package download",
	})
	pr.lastRun = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last release run finished",
	})
	reg.MustRegister(pr.stepDuration, pr.runDuration, pr.stepResults, pr.runOutcome, pr.downloadRetries, pr.lastRun)
	return pr
}

// Registry exposes the underlying registry for gathering.
func (p *PrometheusRecorder) Registry() *prom.Registry {
	if p == nil {
		return nil
	}
	return p.reg
}

func (p *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
	p.lastRun.SetToCurrentTime()
}

func (p *PrometheusRecorder) IncStepResult(step string, result ResultLabel) {
	if p == nil || p.stepResults == nil {
		return
	}
	p.stepResults.WithLabelValues(step, string(result)).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome string) {
	if p == nil || p.runOutcome == nil {
		return
	}
	p.runOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncDownloadRetry() {
	if p == nil || p.downloadRetries == nil {
		return
	}
	p.downloadRetries.Inc()
}

// WriteTextfile writes the registry in node-exporter textfile format.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if p == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prom.WriteToTextfile(path, p.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
