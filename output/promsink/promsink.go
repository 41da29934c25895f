// Package promsink exposes the latest metrics record of each session as
// Prometheus gauges.
package promsink

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/metric"
	"github.com/c360/bcistream/output"
	"github.com/c360/bcistream/quality"
)

const serviceName = "quality"

// Sink sets one gauge per SamplerMetrics field, labelled by session.
type Sink struct {
	registry *metric.MetricsRegistry

	snr        *prometheus.GaugeVec
	artifacts  *prometheus.GaugeVec
	median     *prometheus.GaugeVec
	p99        *prometheus.GaugeVec
	packetLoss *prometheus.GaugeVec
	state      *prometheus.GaugeVec
	lastSeq    *prometheus.GaugeVec

	registered []string
}

var _ output.MetricsSink = (*Sink)(nil)

func gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bcistream",
		Subsystem: "quality",
		Name:      name,
		Help:      help,
	}, append([]string{"session"}, labels...))
}

// New registers the quality gauges with registry.
func New(registry *metric.MetricsRegistry) (*Sink, error) {
	if registry == nil {
		return nil, errors.Invalidf(errors.ErrMissingConfig, "promsink", "New", "metrics registry is required")
	}
	s := &Sink{
		registry:   registry,
		snr:        gauge("eeg_snr_db", "EEG signal-to-noise ratio of the latest window"),
		artifacts:  gauge("artifact_rate_pct", "Artifact rate of the latest window"),
		median:     gauge("median_latency_ms", "Median sample latency of the latest window"),
		p99:        gauge("p99_latency_ms", "99th percentile sample latency of the latest window"),
		packetLoss: gauge("packet_loss_pct", "Packet loss of the latest window"),
		state:      gauge("state", "1 for the current sampler state of the session", "state"),
		lastSeq:    gauge("window_seq", "Sequence number of the latest window"),
	}
	for name, g := range s.gauges() {
		if err := registry.RegisterGaugeVec(serviceName, name, g); err != nil {
			s.unregister()
			return nil, err
		}
		s.registered = append(s.registered, name)
	}
	return s, nil
}

func (s *Sink) gauges() map[string]*prometheus.GaugeVec {
	return map[string]*prometheus.GaugeVec{
		"eeg_snr_db":        s.snr,
		"artifact_rate_pct": s.artifacts,
		"median_latency_ms": s.median,
		"p99_latency_ms":    s.p99,
		"packet_loss_pct":   s.packetLoss,
		"state":             s.state,
		"window_seq":        s.lastSeq,
	}
}

func (s *Sink) unregister() {
	for _, name := range s.registered {
		s.registry.Unregister(serviceName, name)
	}
	s.registered = nil
}

// Name implements output.MetricsSink.
func (s *Sink) Name() string { return "prometheus" }

// PublishMetrics implements output.MetricsSink. Error records only move the
// state gauge so the last good quality figures stay visible.
func (s *Sink) PublishMetrics(_ context.Context, m quality.SamplerMetrics) error {
	id := m.SessionID
	for _, st := range []quality.State{quality.StateIdle, quality.StateAcquiring, quality.StateError} {
		v := 0.0
		if st == m.State {
			v = 1
		}
		s.state.WithLabelValues(id, st.String()).Set(v)
	}
	if m.State == quality.StateError {
		return nil
	}
	s.snr.WithLabelValues(id).Set(float64(m.EEGSNRdB))
	s.artifacts.WithLabelValues(id).Set(float64(m.ArtifactRatePct))
	s.median.WithLabelValues(id).Set(float64(m.MedianLatencyMs))
	s.p99.WithLabelValues(id).Set(float64(m.P99LatencyMs))
	s.packetLoss.WithLabelValues(id).Set(float64(m.PacketLossPct))
	s.lastSeq.WithLabelValues(id).Set(float64(m.WindowSeq))
	return nil
}

// Forget drops the series of a finished session.
func (s *Sink) Forget(sessionID string) {
	for _, g := range s.gauges() {
		g.DeletePartialMatch(prometheus.Labels{"session": sessionID})
	}
}

// Close unregisters the gauges.
func (s *Sink) Close(context.Context) error {
	s.unregister()
	return nil
}
