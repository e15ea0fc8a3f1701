// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the phenotype loader.
//
// It exposes a narrow Backend interface (counters and timings) and a global,
// pluggable backend that defaults to a no-op, so instrumentation is always
// safe to call even when no metrics system is configured. Concrete systems
// live in subpackages (prompush, datadog).
package metrics

import "time"

// Metric names emitted by the loader.
const (
	StepTotal           = "phenoload_step_total"
	StepDurationSeconds = "phenoload_step_duration_seconds"
	RecordsTotal        = "phenoload_records_total"
	PartitionsTotal     = "phenoload_partitions_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one pipeline stage and records its duration, labelled
// with success or failure.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRecords counts records by kind: "read", "duplicates", "orphans",
// "fixtures", "inserted".
func RecordRecords(job, kind string, n int) {
	if n <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(n), Labels{"job": job, "kind": kind})
}

// RecordPartitions counts partition outcomes by action: "recreated",
// "consistent", "dropped", "added", "planned".
func RecordPartitions(job, action string, n int) {
	if n <= 0 {
		return
	}
	backend.IncCounter(PartitionsTotal, float64(n), Labels{"job": job, "action": action})
}
