// Package metrics counts lock and document activity for a single storykeep
// invocation. Every Metrics owns its registry, so independent instances
// (and tests) never share counters.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/storykeep/internal/filelock"
)

// Document operation results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Metrics holds the collectors for one invocation. A nil *Metrics ignores
// every call.
type Metrics struct {
	registry *prometheus.Registry

	lockEvents    *prometheus.CounterVec
	lockWait      *prometheus.HistogramVec
	documentOps   *prometheus.CounterVec
	documentBytes prometheus.Counter
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		lockEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storykeep_lock_events_total",
				Help: "Lock events by type (acquired, stale_reclaimed, timeout, released)",
			},
			[]string{"event"},
		),
		lockWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storykeep_lock_wait_seconds",
				Help:    "Time spent waiting in lock acquisition by outcome",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"event"},
		),
		documentOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storykeep_document_operations_total",
				Help: "Document operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		documentBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "storykeep_document_bytes_written_total",
			Help: "Total bytes of document content written",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Observer returns a filelock observer feeding the lock collectors.
func (m *Metrics) Observer() filelock.Observer {
	return m.ObserveLockEvent
}

// ObserveLockEvent counts a lock event and, for acquisitions and timeouts,
// records how long the caller waited.
func (m *Metrics) ObserveLockEvent(e filelock.Event) {
	if m == nil {
		return
	}
	m.lockEvents.WithLabelValues(string(e.Type)).Inc()
	switch e.Type {
	case filelock.EventAcquired, filelock.EventTimeout:
		m.lockWait.WithLabelValues(string(e.Type)).Observe(e.Waited.Seconds())
	}
}

// RecordDocumentOp counts a document operation.
// operation is write, update or show; result is one of the Result constants.
func (m *Metrics) RecordDocumentOp(operation, result string) {
	if m == nil {
		return
	}
	m.documentOps.WithLabelValues(operation, result).Inc()
}

// RecordBytesWritten adds to the written-bytes counter.
func (m *Metrics) RecordBytesWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.documentBytes.Add(float64(n))
}

// WriteTextfile exports the registry in the node_exporter textfile format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
