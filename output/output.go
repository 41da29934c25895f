// Package output defines where per-window metrics and raw samples go once
// the sampler has produced them.
//
// A MetricsSink receives one quality.SamplerMetrics per completed window. A
// SampleSink receives the samples of each accepted frame, in acquisition
// order. Multi fans both out to any number of sinks and records delivery
// counts per sink.
package output

import (
	"context"
	stderrors "errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/c360/bcistream/metric"
	"github.com/c360/bcistream/quality"
	"github.com/c360/bcistream/sample"
)

// MetricsSink delivers metrics records.
type MetricsSink interface {
	Name() string
	PublishMetrics(ctx context.Context, m quality.SamplerMetrics) error
	Close(ctx context.Context) error
}

// SampleSink records raw samples.
type SampleSink interface {
	Name() string
	WriteSamples(ctx context.Context, samples []sample.Sample) error
	Close(ctx context.Context) error
}

// Multi fans records out to every configured sink. A failing sink does not
// stop delivery to the others; the errors are joined. Every sink sees records
// in the order they were published.
type Multi struct {
	metricSinks []MetricsSink
	sampleSinks []SampleSink
	metrics     *metric.Metrics
	logger      *slog.Logger
}

// MultiOption configures a Multi.
type MultiOption func(*Multi)

// WithMetricsSinks adds metrics sinks. Nil entries are skipped.
func WithMetricsSinks(sinks ...MetricsSink) MultiOption {
	return func(m *Multi) {
		for _, s := range sinks {
			if s != nil {
				m.metricSinks = append(m.metricSinks, s)
			}
		}
	}
}

// WithSampleSinks adds sample sinks. Nil entries are skipped.
func WithSampleSinks(sinks ...SampleSink) MultiOption {
	return func(m *Multi) {
		for _, s := range sinks {
			if s != nil {
				m.sampleSinks = append(m.sampleSinks, s)
			}
		}
	}
}

// WithDeliveryMetrics counts deliveries and failures per sink.
func WithDeliveryMetrics(metrics *metric.Metrics) MultiOption {
	return func(m *Multi) { m.metrics = metrics }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) MultiOption {
	return func(m *Multi) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMulti returns a fan-out over the given sinks.
func NewMulti(opts ...MultiOption) *Multi {
	m := &Multi{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "output")
	return m
}

var (
	_ MetricsSink = (*Multi)(nil)
	_ SampleSink  = (*Multi)(nil)
)

// Name implements MetricsSink and SampleSink.
func (m *Multi) Name() string { return "multi" }

// RecordsSamples reports whether any sample sink is configured, so callers
// can skip copying frames nobody records.
func (m *Multi) RecordsSamples() bool { return len(m.sampleSinks) > 0 }

// MetricsSinkNames lists the metrics sinks in delivery order.
func (m *Multi) MetricsSinkNames() []string {
	names := make([]string, len(m.metricSinks))
	for i, s := range m.metricSinks {
		names[i] = s.Name()
	}
	return names
}

// PublishMetrics delivers rec to every metrics sink at once and returns when
// all of them have answered. A slow sink delays the next record, not the
// other sinks.
func (m *Multi) PublishMetrics(ctx context.Context, rec quality.SamplerMetrics) error {
	if len(m.metricSinks) == 1 {
		return m.publishTo(ctx, m.metricSinks[0], rec)
	}
	errs := make([]error, len(m.metricSinks))
	var g errgroup.Group
	for i, s := range m.metricSinks {
		g.Go(func() error {
			errs[i] = m.publishTo(ctx, s, rec)
			return nil
		})
	}
	_ = g.Wait()
	return stderrors.Join(errs...)
}

func (m *Multi) publishTo(ctx context.Context, s MetricsSink, rec quality.SamplerMetrics) error {
	err := s.PublishMetrics(ctx, rec)
	m.record(s.Name(), err)
	if err != nil {
		m.logger.Warn("Metrics delivery failed", "sink", s.Name(), "window_seq", rec.WindowSeq, "error", err)
	}
	return err
}

// WriteSamples hands samples to every sample sink.
func (m *Multi) WriteSamples(ctx context.Context, samples []sample.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m.sampleSinks {
		err := s.WriteSamples(ctx, samples)
		m.record(s.Name(), err)
		if err != nil {
			m.logger.Warn("Sample recording failed", "sink", s.Name(), "samples", len(samples), "error", err)
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Close closes every sink, sample sinks last so they capture everything
// written before the metrics sinks went away.
func (m *Multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m.metricSinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range m.sampleSinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (m *Multi) record(sink string, err error) {
	if m.metrics != nil {
		m.metrics.RecordPublish(sink, err)
	}
}
