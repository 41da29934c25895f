package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bcistream"

// Metrics contains the pipeline-level metrics shared by every session.
type Metrics struct {
	ServiceStatus *prometheus.GaugeVec

	// Acquisition
	SamplesReceived *prometheus.CounterVec
	SamplesDropped  *prometheus.CounterVec
	EventsReceived  *prometheus.CounterVec
	AdapterErrors   *prometheus.CounterVec
	PollDuration    *prometheus.HistogramVec

	// Windowing
	WindowsEmitted    *prometheus.CounterVec
	WindowSamples     *prometheus.HistogramVec
	LatencyViolations *prometheus.CounterVec

	// Delivery
	MetricsPublished *prometheus.CounterVec
	PublishErrors    *prometheus.CounterVec

	// NATS
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),

		SamplesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "samples",
				Name:      "received_total",
				Help:      "Samples accepted into a window",
			},
			[]string{"session"},
		),

		SamplesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "samples",
				Name:      "dropped_total",
				Help:      "Samples rejected by the windowing engine",
			},
			[]string{"session", "reason"},
		),

		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "adapter",
				Name:      "events_total",
				Help:      "Adapter events received by kind",
			},
			[]string{"session", "kind"},
		),

		AdapterErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "adapter",
				Name:      "errors_total",
				Help:      "Adapter transport failures by operation",
			},
			[]string{"session", "op"},
		),

		PollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "adapter",
				Name:      "poll_duration_seconds",
				Help:      "Time spent blocked in PollEvents",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"adapter"},
		),

		WindowsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "windows",
				Name:      "emitted_total",
				Help:      "Windows closed by reason",
			},
			[]string{"session", "reason"},
		),

		WindowSamples: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "windows",
				Name:      "samples",
				Help:      "Samples per emitted window",
				Buckets:   prometheus.ExponentialBuckets(8, 2, 10),
			},
			[]string{"session"},
		),

		LatencyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "windows",
				Name:      "latency_budget_exceeded_total",
				Help:      "Windows whose p99 latency exceeded max_latency_ms",
			},
			[]string{"session"},
		),

		MetricsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "output",
				Name:      "published_total",
				Help:      "Metrics records delivered per sink",
			},
			[]string{"sink"},
		),

		PublishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "output",
				Name:      "errors_total",
				Help:      "Sink delivery failures",
			},
			[]string{"sink"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.SamplesReceived,
		c.SamplesDropped,
		c.EventsReceived,
		c.AdapterErrors,
		c.PollDuration,
		c.WindowsEmitted,
		c.WindowSamples,
		c.LatencyViolations,
		c.MetricsPublished,
		c.PublishErrors,
		c.NATSConnected,
		c.NATSReconnects,
	}
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordSampleAccepted increments the accepted sample counter
func (c *Metrics) RecordSampleAccepted(session string) {
	c.SamplesReceived.WithLabelValues(session).Inc()
}

// RecordSamplesAccepted adds n accepted samples
func (c *Metrics) RecordSamplesAccepted(session string, n int) {
	if n > 0 {
		c.SamplesReceived.WithLabelValues(session).Add(float64(n))
	}
}

// RecordSampleDropped increments the dropped sample counter for reason
func (c *Metrics) RecordSampleDropped(session, reason string) {
	c.SamplesDropped.WithLabelValues(session, reason).Inc()
}

// RecordSamplesDropped adds n dropped samples for reason
func (c *Metrics) RecordSamplesDropped(session, reason string, n int) {
	if n > 0 {
		c.SamplesDropped.WithLabelValues(session, reason).Add(float64(n))
	}
}

// RecordEvent counts one adapter event of the given kind
func (c *Metrics) RecordEvent(session, kind string) {
	c.EventsReceived.WithLabelValues(session, kind).Inc()
}

// RecordAdapterError counts an adapter failure during op
func (c *Metrics) RecordAdapterError(session, op string) {
	c.AdapterErrors.WithLabelValues(session, op).Inc()
}

// RecordPollDuration observes how long a poll blocked
func (c *Metrics) RecordPollDuration(adapter string, d time.Duration) {
	c.PollDuration.WithLabelValues(adapter).Observe(d.Seconds())
}

// RecordWindow counts an emitted window and its size
func (c *Metrics) RecordWindow(session, reason string, samples int) {
	c.WindowsEmitted.WithLabelValues(session, reason).Inc()
	c.WindowSamples.WithLabelValues(session).Observe(float64(samples))
}

// RecordLatencyViolation counts a window over the latency budget
func (c *Metrics) RecordLatencyViolation(session string) {
	c.LatencyViolations.WithLabelValues(session).Inc()
}

// RecordPublish counts a delivery attempt to sink
func (c *Metrics) RecordPublish(sink string, err error) {
	if err != nil {
		c.PublishErrors.WithLabelValues(sink).Inc()
		return
	}
	c.MetricsPublished.WithLabelValues(sink).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
