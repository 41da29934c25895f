package objectstore

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/bcistream/metric"
)

// storeMetrics holds Prometheus metrics for object store operations.
type storeMetrics struct {
	ops          *prometheus.CounterVec   // by operation
	latency      *prometheus.HistogramVec // by operation
	errors       *prometheus.CounterVec   // by operation
	bytesWritten prometheus.Counter
}

// newStoreMetrics creates and registers the metrics. A nil registry disables them.
func newStoreMetrics(registry *metric.MetricsRegistry, bucket string) (*storeMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"bucket": bucket}
	m := &storeMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "bcistream",
			Subsystem:   "objectstore",
			Name:        "operations_total",
			Help:        "Object store operations by kind",
			ConstLabels: labels,
		}, []string{"operation"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "bcistream",
			Subsystem:   "objectstore",
			Name:        "operation_duration_seconds",
			Help:        "Object store operation latency",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "bcistream",
			Subsystem:   "objectstore",
			Name:        "errors_total",
			Help:        "Failed object store operations by kind",
			ConstLabels: labels,
		}, []string{"operation"}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "bcistream",
			Subsystem:   "objectstore",
			Name:        "bytes_written_total",
			Help:        "Bytes uploaded to the object store",
			ConstLabels: labels,
		}),
	}

	prefix := "objectstore_" + bucket
	if err := registry.RegisterCounterVec(prefix, "operations", m.ops); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(prefix, "latency", m.latency); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(prefix, "errors", m.errors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "bytes_written", m.bytesWritten); err != nil {
		return nil, err
	}
	return m, nil
}

// observe records one operation and its outcome.
func (m *storeMetrics) observe(operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(operation).Inc()
	m.latency.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

func (m *storeMetrics) wrote(n uint64) {
	if m != nil {
		m.bytesWritten.Add(float64(n))
	}
}
