// Package metrics provides Prometheus metrics instrumentation for snaprotate.
//
// Metrics live on a private registry so a one-shot run can push exactly
// what it recorded to a Pushgateway, and a scheduled daemon can serve the
// same registry on /metrics.
//
// Metrics exposed:
//   - snaprotate_snapshots_created_total: Counter of snapshots created
//   - snaprotate_snapshots_deleted_total: Counter of snapshots deleted
//   - snaprotate_snapshots_retained_total: Counter of retain verdicts by band
//   - snaprotate_store_errors_total: Counter of failed store calls by operation
//   - snaprotate_run_duration_seconds: Histogram of run duration
//   - snaprotate_last_run_timestamp_seconds: Gauge of the last run end time
//   - snaprotate_last_success_timestamp_seconds: Gauge of the last completed run
//   - snaprotate_runs_total: Counter of runs by result
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Run results used as the runs_total label.
const (
	ResultSuccess = "success"
	ResultAborted = "aborted"
	ResultSkipped = "skipped"
)

// Metrics holds all Prometheus metrics for snaprotate. It implements
// rotation.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	SnapshotsCreated     prometheus.Counter
	SnapshotsDeleted     prometheus.Counter
	SnapshotsRetained    *prometheus.CounterVec
	StoreErrors          *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	LastRunTimestamp     prometheus.Gauge
	LastSuccessTimestamp prometheus.Gauge
	RunsTotal            *prometheus.CounterVec
}

// New creates all metrics on a fresh registry. store labels every series.
func New(store string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"store": store}

	return &Metrics{
		registry: reg,

		SnapshotsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name:        "snaprotate_snapshots_created_total",
			Help:        "Total number of snapshots created",
			ConstLabels: labels,
		}),

		SnapshotsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "snaprotate_snapshots_deleted_total",
			Help:        "Total number of snapshots deleted",
			ConstLabels: labels,
		}),

		SnapshotsRetained: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "snaprotate_snapshots_retained_total",
			Help:        "Total number of retain verdicts by retention band",
			ConstLabels: labels,
		}, []string{"band"}),

		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "snaprotate_store_errors_total",
			Help:        "Total number of failed store calls by operation",
			ConstLabels: labels,
		}, []string{"op"}),

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "snaprotate_run_duration_seconds",
			Help:        "Duration of rotation runs",
			ConstLabels: labels,
			Buckets:     []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "snaprotate_last_run_timestamp_seconds",
			Help:        "Unix time the last run finished",
			ConstLabels: labels,
		}),

		LastSuccessTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "snaprotate_last_success_timestamp_seconds",
			Help:        "Unix time the last run completed without aborting",
			ConstLabels: labels,
		}),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "snaprotate_runs_total",
			Help:        "Total number of runs by result",
			ConstLabels: labels,
		}, []string{"result"}),
	}
}

// WithProcessCollectors adds Go runtime and process metrics. Only the daemon
// uses them; pushed one-shot metrics stay small.
func (m *Metrics) WithProcessCollectors() *Metrics {
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SnapshotCreated implements rotation.Recorder.
func (m *Metrics) SnapshotCreated() { m.SnapshotsCreated.Inc() }

// SnapshotDeleted implements rotation.Recorder.
func (m *Metrics) SnapshotDeleted() { m.SnapshotsDeleted.Inc() }

// SnapshotRetained implements rotation.Recorder.
func (m *Metrics) SnapshotRetained(band string) { m.SnapshotsRetained.WithLabelValues(band).Inc() }

// StoreError implements rotation.Recorder.
func (m *Metrics) StoreError(op string) { m.StoreErrors.WithLabelValues(op).Inc() }

// RecordRun records the outcome of one run that finished at end.
func (m *Metrics) RecordRun(result string, duration time.Duration, end time.Time) {
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDuration.Observe(duration.Seconds())
	m.LastRunTimestamp.Set(float64(end.Unix()))
	if result == ResultSuccess {
		m.LastSuccessTimestamp.Set(float64(end.Unix()))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests and pushing.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// Push sends the registry to a Pushgateway under job "snaprotate", grouped
// by region when one is set.
func (m *Metrics) Push(url, region string) error {
	pusher := push.New(url, "snaprotate").Gatherer(m.registry)
	if region != "" {
		pusher = pusher.Grouping("region", region)
	}
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
