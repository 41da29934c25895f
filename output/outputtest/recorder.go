// Package outputtest provides in-memory sinks for tests.
package outputtest

import (
	"context"
	"sync"

	"github.com/c360/bcistream/quality"
	"github.com/c360/bcistream/sample"
)

// Recorder keeps everything it is given. It implements both
// output.MetricsSink and output.SampleSink.
type Recorder struct {
	name string

	mu      sync.Mutex
	metrics []quality.SamplerMetrics
	samples []sample.Sample
	err     error
	closed  bool
	notify  chan struct{}
}

// NewRecorder returns an empty recorder named name.
func NewRecorder(name string) *Recorder {
	return &Recorder{name: name, notify: make(chan struct{}, 1)}
}

// FailWith makes subsequent deliveries return err. Nil clears it.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) Name() string { return r.name }

func (r *Recorder) PublishMetrics(_ context.Context, m quality.SamplerMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.metrics = append(r.metrics, m)
	r.signal()
	return nil
}

func (r *Recorder) WriteSamples(_ context.Context, samples []sample.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.samples = append(r.samples, samples...)
	r.signal()
	return nil
}

func (r *Recorder) Close(context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *Recorder) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Metrics returns a copy of the delivered records.
func (r *Recorder) Metrics() []quality.SamplerMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]quality.SamplerMetrics(nil), r.metrics...)
}

// Samples returns a copy of the recorded samples.
func (r *Recorder) Samples() []sample.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sample.Sample(nil), r.samples...)
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Updated is signalled after each successful delivery.
func (r *Recorder) Updated() <-chan struct{} { return r.notify }
