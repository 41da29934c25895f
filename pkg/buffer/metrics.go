package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/bcistream/metric"
)

// bufferMetrics mirrors Statistics into Prometheus.
type bufferMetrics struct {
	writes      prometheus.Counter
	reads       prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry metric.MetricsRegistrar, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bcistream", Subsystem: "buffer", Name: name, Help: help, ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bcistream", Subsystem: "buffer", Name: name, Help: help, ConstLabels: labels,
		})
	}

	m := &bufferMetrics{
		writes:      counter("writes_total", "Total number of buffer writes"),
		reads:       counter("reads_total", "Total number of buffer reads"),
		drops:       counter("drops_total", "Items lost to overflow"),
		size:        gauge("size", "Current number of items in buffer"),
		utilization: gauge("utilization", "Buffer fill ratio (0.0 to 1.0)"),
	}

	for name, c := range map[string]prometheus.Counter{
		"buffer_writes": m.writes,
		"buffer_reads":  m.reads,
		"buffer_drops":  m.drops,
	} {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_utilization", m.utilization); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordReads(n, size, capacity int) {
	m.reads.Add(float64(n))
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
