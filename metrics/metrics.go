// Package metrics wraps Prometheus metrics for the pipeline scheduler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the scheduler's Prometheus metric vectors behind a private
// registry.
type Collector struct {
	registry *prometheus.Registry

	RunsTotal     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	StagesSkipped *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
	CacheRestores *prometheus.CounterVec
}

// NewCollector creates a Collector with its own registry under the given
// namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{registry: reg}

	c.RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Total number of pipeline runs",
	}, []string{"pipeline", "event", "status"})

	c.StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of stage executions in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"pipeline", "stage", "action"})

	c.StagesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stages_skipped_total",
		Help:      "Stages skipped after an earlier stage failed",
	}, []string{"pipeline", "stage"})

	c.ActiveRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "Number of currently executing pipeline runs",
	})

	c.CacheRestores = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_restores_total",
		Help:      "Cache restore attempts by outcome",
	}, []string{"key", "outcome"})

	reg.MustRegister(c.RunsTotal, c.StageDuration, c.StagesSkipped, c.ActiveRuns, c.CacheRestores)
	return c
}

// Handler returns an HTTP handler that serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRun increments the run counter.
func (c *Collector) RecordRun(pipeline, event, status string) {
	c.RunsTotal.WithLabelValues(pipeline, event, status).Inc()
}

// RecordStageDuration records one stage execution.
func (c *Collector) RecordStageDuration(pipeline, stage, action string, d time.Duration) {
	c.StageDuration.WithLabelValues(pipeline, stage, action).Observe(d.Seconds())
}

// RecordStageSkipped increments the skipped-stage counter.
func (c *Collector) RecordStageSkipped(pipeline, stage string) {
	c.StagesSkipped.WithLabelValues(pipeline, stage).Inc()
}

// RecordCacheRestore records a cache restore attempt ("hit" or "miss").
func (c *Collector) RecordCacheRestore(key, outcome string) {
	c.CacheRestores.WithLabelValues(key, outcome).Inc()
}

// RunStarted increments the active-run gauge.
func (c *Collector) RunStarted() { c.ActiveRuns.Inc() }

// RunFinished decrements the active-run gauge.
func (c *Collector) RunFinished() { c.ActiveRuns.Dec() }
