// Package metrics exposes Prometheus collectors for engine operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector records operation counts and latencies. A nil *Collector
// records nothing.
type Collector struct {
	Operations *prometheus.CounterVec
	Latency    *prometheus.HistogramVec
	Documents  *prometheus.CounterVec
}

// NewCollector creates unregistered collectors under namespace.
func NewCollector(namespace string) *Collector {
	return &Collector{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "operations_total", Help: "Number of engine operations by operation and outcome."},
			[]string{"operation", "outcome"},
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "operation_duration_seconds", Help: "Engine operation latency.", Buckets: prometheus.DefBuckets},
			[]string{"operation"},
		),
		Documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "documents_total", Help: "Number of documents read or written by operation."},
			[]string{"operation"},
		),
	}
}

// MustRegister registers every collector on reg.
func (c *Collector) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.Operations, c.Latency, c.Documents)
}

// Register registers every collector on reg, stopping at the first error.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.Operations, c.Latency, c.Documents} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Observe records one operation that started at start and ended with err.
func (c *Collector) Observe(operation string, start time.Time, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.Operations.WithLabelValues(operation, outcome).Inc()
	c.Latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// AddDocuments records n documents touched by operation.
func (c *Collector) AddDocuments(operation string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Documents.WithLabelValues(operation).Add(float64(n))
}
