package sampler

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/adapter/adaptertest"
	"github.com/c360/bcistream/adapter/eventqueue"
	"github.com/c360/bcistream/connector"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/metric"
	"github.com/c360/bcistream/output"
	"github.com/c360/bcistream/output/outputtest"
	"github.com/c360/bcistream/pkg/retry"
	"github.com/c360/bcistream/quality"
	"github.com/c360/bcistream/sample"
)

type harness struct {
	svc      *Service
	adapter  *adaptertest.Scripted
	recorder *outputtest.Recorder
	registry *metric.MetricsRegistry
}

func newHarness(t *testing.T, cfg ServiceConfig, steps ...adaptertest.Step) *harness {
	t.Helper()
	// 300ms after the first sample: every window is over the 50ms budget.
	s := newSampler(t, WithClock(fixedClock(t0+uint64(300*time.Millisecond))))
	a := adaptertest.New(steps...)
	rec := outputtest.NewRecorder("recorder")
	registry := metric.NewMetricsRegistry()

	svc, err := NewService(Deps{
		Config:    cfg,
		Sampler:   s,
		Connector: connector.New(a),
		Output: output.NewMulti(
			output.WithMetricsSinks(rec),
			output.WithSampleSinks(rec),
			output.WithDeliveryMetrics(registry.CoreMetrics()),
		),
		MetricsRegistry: registry,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Initialize())
	t.Cleanup(func() { _ = svc.Stop(time.Second) })
	return &harness{svc: svc, adapter: a, recorder: rec, registry: registry}
}

func testServiceConfig() ServiceConfig {
	return ServiceConfig{
		PollTimeout: 10 * time.Millisecond,
		StartRetry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
		},
	}
}

func (h *harness) waitForMetrics(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.recorder.Metrics()) >= n },
		2*time.Second, 5*time.Millisecond, "want %d records", n)
}

func states(ms []quality.SamplerMetrics) []quality.State {
	out := make([]quality.State, len(ms))
	for i, m := range ms {
		out[i] = m.State
	}
	return out
}

func TestService_DeliversWindows(t *testing.T) {
	for _, queue := range []int{0, 4} {
		t.Run(map[int]string{0: "inline", 4: "queued"}[queue], func(t *testing.T) {
			cfg := testServiceConfig()
			cfg.QueueSize = queue
			h := newHarness(t, cfg,
				adaptertest.Step{Events: []adapter.Event{adapter.Connected{DeviceID: "hs-1"}, frame(0, 15)}},
				adaptertest.Step{Events: []adapter.Event{frame(15, 10)}},
			)

			require.NoError(t, h.svc.Start(t.Context()))
			h.waitForMetrics(t, 2)
			assert.True(t, h.svc.Health().Healthy)

			require.NoError(t, h.svc.Stop(time.Second))
			ms := h.recorder.Metrics()
			require.Len(t, ms, 3, "final partial window is published on stop")
			for i, m := range ms {
				assert.Equal(t, quality.StateAcquiring, m.State)
				assert.Equal(t, uint64(i), m.WindowSeq)
				assert.Equal(t, h.svc.Sampler().SessionID(), m.SessionID)
			}
			assert.Equal(t, 5, ms[2].SampleCount)
			assert.True(t, h.recorder.Closed())
			assert.Len(t, h.recorder.Samples(), 25)

			stats := h.svc.Stats()
			assert.Equal(t, uint64(25), stats.Samples)
			assert.Equal(t, uint64(3), stats.Windows)
			assert.Equal(t, uint64(3), stats.LatencyViolations, "late windows are counted, not dropped")

			core := h.registry.CoreMetrics()
			sid := h.svc.Sampler().SessionID()
			assert.Equal(t, 25.0, testutil.ToFloat64(core.SamplesReceived.WithLabelValues(sid)))
			assert.Equal(t, 2.0, testutil.ToFloat64(core.WindowsEmitted.WithLabelValues(sid, "duration")))
			assert.Equal(t, 1.0, testutil.ToFloat64(core.WindowsEmitted.WithLabelValues(sid, "flush")))
			assert.Equal(t, 3.0, testutil.ToFloat64(core.LatencyViolations.WithLabelValues(sid)))
			assert.Equal(t, 3.0, testutil.ToFloat64(core.MetricsPublished.WithLabelValues("recorder")))
			assert.Equal(t, 0.0, testutil.ToFloat64(core.ServiceStatus.WithLabelValues("sampler")))
		})
	}
}

func TestService_DisconnectFlushesPartialWindow(t *testing.T) {
	h := newHarness(t, testServiceConfig(),
		adaptertest.Step{Events: []adapter.Event{frame(0, 5), adapter.Disconnected{Reason: "battery"}}},
	)
	require.NoError(t, h.svc.Start(t.Context()))
	h.waitForMetrics(t, 1)

	m := h.recorder.Metrics()[0]
	assert.Equal(t, quality.StateAcquiring, m.State)
	assert.Equal(t, 5, m.SampleCount)

	require.NoError(t, h.svc.Stop(time.Second))
	assert.Equal(t, []quality.State{quality.StateAcquiring, quality.StateIdle}, states(h.recorder.Metrics()))
}

func TestService_DropsRejectedSamples(t *testing.T) {
	bad := frame(3, 1)
	bad.Samples[0].EEG = append(bad.Samples[0].EEG, 0)
	h := newHarness(t, testServiceConfig(),
		adaptertest.Step{Events: []adapter.Event{frame(0, 3), bad, frame(4, 2), frame(1, 1)}},
	)
	require.NoError(t, h.svc.Start(t.Context()))
	require.Eventually(t, func() bool { return h.svc.Stats().Dropped == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.svc.Stop(time.Second))

	ms := h.recorder.Metrics()
	require.Len(t, ms, 1)
	assert.Equal(t, 5, ms[0].SampleCount)

	sid := h.svc.Sampler().SessionID()
	core := h.registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SamplesDropped.WithLabelValues(sid, "channel_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SamplesDropped.WithLabelValues(sid, "out_of_order")))
	assert.InDelta(t, 2.0/7.0, h.svc.DataFlow().ErrorRate, 1e-9)
}

func TestService_TransportFailure(t *testing.T) {
	h := newHarness(t, testServiceConfig(),
		adaptertest.Step{Events: []adapter.Event{frame(0, 5)}},
		adaptertest.Step{Err: stderrors.New("usb reset")},
	)
	require.NoError(t, h.svc.Start(t.Context()))
	h.waitForMetrics(t, 2)

	ms := h.recorder.Metrics()
	assert.Equal(t, []quality.State{quality.StateAcquiring, quality.StateError}, states(ms))
	assert.Contains(t, ms[1].Error, "usb reset")
	assert.Equal(t, h.svc.Sampler().SessionID(), ms[1].SessionID)

	require.Eventually(t, func() bool { return !h.svc.Health().Healthy }, time.Second, 5*time.Millisecond)
	health := h.svc.Health()
	assert.Contains(t, health.LastError, "usb reset")
	assert.GreaterOrEqual(t, health.ErrorCount, 1)

	sid := h.svc.Sampler().SessionID()
	assert.Equal(t, 1.0, testutil.ToFloat64(h.registry.CoreMetrics().AdapterErrors.WithLabelValues(sid, "poll")))
	require.NoError(t, h.svc.Stop(time.Second))
}

func TestService_RestartAfterTransportFailure(t *testing.T) {
	cfg := testServiceConfig()
	cfg.Restart = true
	h := newHarness(t, cfg,
		adaptertest.Step{Err: stderrors.New("glitch")},
		adaptertest.Step{Events: []adapter.Event{frame(0, 5)}},
	)
	require.NoError(t, h.svc.Start(t.Context()))
	require.Eventually(t, func() bool { return h.svc.Stats().Samples == 5 }, time.Second, 5*time.Millisecond)

	start, _, _ := h.adapter.Calls()
	assert.Equal(t, 2, start)
	assert.True(t, h.svc.Health().Healthy)
	assert.Contains(t, h.svc.Health().LastError, "glitch")

	require.NoError(t, h.svc.Stop(time.Second))
	assert.Equal(t, []quality.State{quality.StateIdle, quality.StateError, quality.StateAcquiring},
		states(h.recorder.Metrics()))
}

func TestService_StreamEnd(t *testing.T) {
	h := newHarness(t, testServiceConfig(),
		adaptertest.Step{Events: []adapter.Event{frame(0, 5), adapter.Disconnected{Reason: "end of file"}}},
		adaptertest.Step{Err: errors.ErrAdapterStopped},
	)
	require.NoError(t, h.svc.Start(t.Context()))
	require.Eventually(t, func() bool { return h.svc.Stats().Ended }, time.Second, 5*time.Millisecond)

	assert.True(t, h.svc.Health().Healthy)
	assert.Empty(t, h.svc.Health().LastError)
	assert.Equal(t, []quality.State{quality.StateAcquiring}, states(h.recorder.Metrics()))
}

func TestService_AdapterErrorEventKeepsRunning(t *testing.T) {
	h := newHarness(t, testServiceConfig(),
		adaptertest.Step{Events: []adapter.Event{adapter.ErrorEvent{Message: "lead off"}}},
		adaptertest.Step{Events: []adapter.Event{frame(0, 3)}},
	)
	require.NoError(t, h.svc.Start(t.Context()))
	require.Eventually(t, func() bool { return h.svc.Stats().Samples == 3 }, time.Second, 5*time.Millisecond)

	health := h.svc.Health()
	assert.True(t, health.Healthy)
	assert.Equal(t, "adapter: lead off", health.LastError)
	assert.Equal(t, uint64(1), h.svc.Stats().Errors)
}

func TestService_StartRetries(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		h := newHarness(t, testServiceConfig())
		h.adapter.FailStart(2, stderrors.New("device busy"))

		require.NoError(t, h.svc.Start(t.Context()))
		start, _, _ := h.adapter.Calls()
		assert.Equal(t, 3, start)
		require.NoError(t, h.svc.Start(t.Context()), "start is idempotent")
		start, _, _ = h.adapter.Calls()
		assert.Equal(t, 3, start)
	})

	t.Run("gives up", func(t *testing.T) {
		h := newHarness(t, testServiceConfig())
		h.adapter.FailStart(5, stderrors.New("device busy"))

		err := h.svc.Start(t.Context())
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrTransport)
		assert.True(t, errors.IsTransient(err))
		start, _, _ := h.adapter.Calls()
		assert.Equal(t, 3, start)

		health := h.svc.Health()
		assert.False(t, health.Healthy)
		assert.Contains(t, health.LastError, "device busy")
		assert.NoError(t, h.svc.Stop(time.Second), "stop without a running loop is a no-op")
	})
}

func TestService_StopWakesBlockedPoll(t *testing.T) {
	cfg := testServiceConfig()
	cfg.PollTimeout = 10 * time.Second
	h := newHarness(t, cfg)
	require.NoError(t, h.svc.Start(t.Context()))
	time.Sleep(20 * time.Millisecond)

	begin := time.Now()
	require.NoError(t, h.svc.Stop(2*time.Second))
	assert.Less(t, time.Since(begin), time.Second)
	assert.Equal(t, []quality.State{quality.StateIdle}, states(h.recorder.Metrics()))
}

// queueAdapter feeds PollEvents from an event queue the test pushes into.
type queueAdapter struct {
	q *eventqueue.Queue
}

func (a *queueAdapter) StartStream(context.Context) error { return nil }

func (a *queueAdapter) StopStream() error {
	a.q.Close()
	return nil
}

func (a *queueAdapter) PollEvents(ctx context.Context, timeout time.Duration) ([]adapter.Event, error) {
	return a.q.Wait(ctx, timeout)
}

// gatedSink holds the first WriteSamples call until release is closed.
type gatedSink struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written int
}

func newGatedSink() *gatedSink {
	return &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSink) Name() string { return "gated" }

func (g *gatedSink) WriteSamples(_ context.Context, samples []sample.Sample) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	g.mu.Lock()
	defer g.mu.Unlock()
	g.written += len(samples)
	return nil
}

func (g *gatedSink) Close(context.Context) error { return nil }

func (g *gatedSink) Written() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.written
}

func TestService_StopDrainsQueuedFrames(t *testing.T) {
	for _, queue := range []int{0, 4} {
		t.Run(map[int]string{0: "inline", 4: "queued"}[queue], func(t *testing.T) {
			q, err := eventqueue.New(16, nil, "")
			require.NoError(t, err)
			gate := newGatedSink()
			rec := outputtest.NewRecorder("recorder")

			cfg := testServiceConfig()
			cfg.QueueSize = queue
			svc, err := NewService(Deps{
				Config:    cfg,
				Sampler:   newSampler(t, WithClock(fixedClock(t0))),
				Connector: connector.New(&queueAdapter{q: q}),
				Output: output.NewMulti(
					output.WithMetricsSinks(rec),
					output.WithSampleSinks(gate),
				),
			})
			require.NoError(t, err)
			require.NoError(t, svc.Initialize())
			require.NoError(t, svc.Start(t.Context()))

			require.NoError(t, q.Push(frame(0, 5)))
			select {
			case <-gate.entered:
			case <-time.After(2 * time.Second):
				t.Fatal("first frame never reached the sample sink")
			}

			// The second frame is queued while the first is still being handled.
			require.NoError(t, q.Push(frame(5, 5)))
			stopped := make(chan error, 1)
			go func() { stopped <- svc.Stop(2 * time.Second) }()
			require.Eventually(t, q.Closed, time.Second, time.Millisecond)
			close(gate.release)

			select {
			case err := <-stopped:
				require.NoError(t, err)
			case <-time.After(3 * time.Second):
				t.Fatal("stop did not return")
			}

			assert.Equal(t, uint64(10), svc.Stats().Samples)
			assert.Equal(t, 10, gate.Written())
			total := 0
			for _, m := range rec.Metrics() {
				total += m.SampleCount
			}
			assert.Equal(t, 10, total, "every queued sample lands in a published window")
		})
	}
}

func TestNewService_Validation(t *testing.T) {
	s := newSampler(t)
	c := connector.New(adaptertest.New())

	tests := []struct {
		name    string
		deps    Deps
		wantErr error
	}{
		{"no sampler", Deps{Config: testServiceConfig(), Connector: c}, errors.ErrMissingConfig},
		{"no connector", Deps{Config: testServiceConfig(), Sampler: s}, errors.ErrMissingConfig},
		{"zero poll timeout", Deps{Sampler: s, Connector: c}, errors.ErrInvalidConfig},
		{"negative queue", Deps{Config: ServiceConfig{PollTimeout: time.Second, QueueSize: -1}, Sampler: s, Connector: c}, errors.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.deps)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	svc, err := NewService(Deps{Name: "eeg", Config: DefaultServiceConfig(), Sampler: s, Connector: c})
	require.NoError(t, err)
	meta := svc.Meta()
	assert.Equal(t, "eeg", meta.Name)
	assert.Equal(t, "sampler", meta.Type)
	assert.Contains(t, meta.Description, "scripted")
	assert.Zero(t, svc.DataFlow().MessagesPerSecond)
	assert.False(t, svc.Health().Healthy)
}
