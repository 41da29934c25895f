package metric

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bcierrors "github.com/c360/bcistream/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestMetricsRegistry_RegisterCollectors(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "counter"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "gauge"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "histogram"})
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "vec"}, []string{"session"})

	require.NoError(t, registry.RegisterCounter("svc", "counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "histogram", histogram))
	require.NoError(t, registry.RegisterGaugeVec("svc", "gauge_vec", gaugeVec))

	counter.Inc()
	gauge.Set(3)
	histogram.Observe(1)
	gaugeVec.WithLabelValues("s1").Set(22)

	names := gatheredNames(t, registry)
	for _, name := range []string{"test_counter", "test_gauge", "test_histogram", "test_gauge_vec"} {
		assert.True(t, names[name], "%s should be gathered", name)
	}
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "a"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter_2", Help: "b"})

	require.NoError(t, registry.RegisterCounter("svc", "dup", first))
	err := registry.RegisterCounter("svc", "dup", second)
	require.Error(t, err)
	assert.True(t, bcierrors.IsInvalid(err))

	// Same prometheus name under a different key conflicts inside prometheus.
	clash := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "a"})
	err = registry.RegisterCounter("other", "dup", clash)
	require.Error(t, err)
	assert.True(t, bcierrors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "temp_gauge", Help: "temp"})

	require.NoError(t, registry.RegisterGauge("svc", "temp", gauge))
	assert.True(t, registry.Unregister("svc", "temp"))
	assert.False(t, registry.Unregister("svc", "temp"))

	// Re-registering after removal succeeds.
	require.NoError(t, registry.RegisterGauge("svc", "temp", gauge))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_%d", i),
				Help: "concurrent",
			})
			errs <- registry.RegisterCounter("svc", fmt.Sprintf("c%d", i), c)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordServiceStatus("sampler", 2)
	m.RecordSampleAccepted("s1")
	m.RecordSampleAccepted("s1")
	m.RecordSampleDropped("s1", "channel_mismatch")
	m.RecordSamplesAccepted("s1", 3)
	m.RecordSamplesAccepted("s1", 0)
	m.RecordSamplesDropped("s1", "out_of_order", 2)
	m.RecordEvent("s1", "signal_frame")
	m.RecordAdapterError("s1", "poll")
	m.RecordPollDuration("simulated", 5*time.Millisecond)
	m.RecordWindow("s1", "duration", 128)
	m.RecordLatencyViolation("s1")
	m.RecordPublish("jsonl", nil)
	m.RecordPublish("jsonl", errors.New("disk full"))
	m.RecordNATSStatus(true)
	m.RecordNATSReconnect()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ServiceStatus.WithLabelValues("sampler")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.SamplesReceived.WithLabelValues("s1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SamplesDropped.WithLabelValues("s1", "out_of_order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SamplesDropped.WithLabelValues("s1", "channel_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WindowsEmitted.WithLabelValues("s1", "duration")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LatencyViolations.WithLabelValues("s1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MetricsPublished.WithLabelValues("jsonl")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors.WithLabelValues("jsonl")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSReconnects))

	names := gatheredNames(t, registry)
	assert.True(t, names["bcistream_windows_emitted_total"])
	assert.True(t, names["bcistream_adapter_poll_duration_seconds"])
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordSampleAccepted("s1")

	healthCalled := false
	srv := NewServer(0, "", registry, WithHealthHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		healthCalled = true
		w.WriteHeader(http.StatusServiceUnavailable)
	})))
	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())

	handler, err := srv.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	received, ok := families["bcistream_samples_received_total"]
	require.True(t, ok)
	assert.Equal(t, dto.MetricType_COUNTER, received.GetType())
	require.Len(t, received.GetMetric(), 1)
	assert.Equal(t, 1.0, received.GetMetric()[0].GetCounter().GetValue())
	assert.Contains(t, families, "go_goroutines")

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, healthCalled)
}

func TestServer_NilRegistry(t *testing.T) {
	srv := NewServer(9191, "/m", nil)
	_, err := srv.Handler()
	require.Error(t, err)
	assert.True(t, bcierrors.IsFatal(err))
	assert.Error(t, srv.Start())
	assert.NoError(t, srv.Stop())
}
