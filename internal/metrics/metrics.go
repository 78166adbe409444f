// Package metrics exposes Prometheus counters and histograms for migration
// runs. A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "revmigrate"

// Recorder holds the run metrics and the registry they live in.
type Recorder struct {
	registry *prometheus.Registry

	Steps        *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	LockBusy     *prometheus.CounterVec
	Drift        *prometheus.CounterVec
	Runs         *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "steps_total",
			Help:      "Migration steps by direction and outcome",
		}, []string{"direction", "status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of migration steps in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		LockBusy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "lock_busy_total",
			Help:      "Runs rejected because the project lock was held",
		}, []string{"project"}),
		Drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "drift_detected_total",
			Help:      "Applied revisions whose content no longer matches the ledger checksum",
		}, []string{"project"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Plan executions by direction and result",
		}, []string{"direction", "result"}),
	}

	reg.MustRegister(r.Steps, r.StepDuration, r.LockBusy, r.Drift, r.Runs)
	return r
}

// Registry returns the registry holding the metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveStep counts one step outcome. Duration is recorded for steps that
// ran.
func (r *Recorder) ObserveStep(direction, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.Steps.WithLabelValues(direction, status).Inc()
	if d > 0 {
		r.StepDuration.WithLabelValues(direction).Observe(d.Seconds())
	}
}

// ObserveRun counts one plan execution.
func (r *Recorder) ObserveRun(direction, result string) {
	if r == nil {
		return
	}
	r.Runs.WithLabelValues(direction, result).Inc()
}

// LockBusyObserved counts a run rejected by a held lock.
func (r *Recorder) LockBusyObserved(project string) {
	if r == nil {
		return
	}
	r.LockBusy.WithLabelValues(project).Inc()
}

// DriftObserved counts drifted revisions.
func (r *Recorder) DriftObserved(project string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.Drift.WithLabelValues(project).Add(float64(n))
}

// WriteTextfile writes the current metrics in the text exposition format,
// for collection by node_exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
