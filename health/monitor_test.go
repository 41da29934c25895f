package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bcistream/component"
)

type staticReporter map[string]component.HealthStatus

func (r staticReporter) Health() map[string]component.HealthStatus { return r }

func TestMonitor_UpdateAndAggregate(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("sampler", "running")
	m.Update("nats", Status{Status: "degraded"})

	got, ok := m.Get("nats")
	require.True(t, ok)
	assert.Equal(t, "nats", got.Component)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, "degraded", m.AggregateHealth("bcistream").Status)

	m.UpdateUnhealthy("nats", "down")
	assert.Equal(t, "unhealthy", m.AggregateHealth("bcistream").Status)

	m.Remove("nats")
	_, ok = m.Get("nats")
	assert.False(t, ok)
	assert.Equal(t, "healthy", m.AggregateHealth("bcistream").Status)
}

func TestMonitor_Sync(t *testing.T) {
	m := NewMonitor()
	m.Sync(staticReporter{
		"sampler": {Healthy: true},
		"jsonl":   {Healthy: false, LastError: "disk full"},
	})
	assert.Equal(t, 2, m.Count())
	got, _ := m.Get("jsonl")
	assert.Equal(t, "unhealthy", got.Status)
	assert.Equal(t, "disk full", got.Message)
}

func TestHandler(t *testing.T) {
	reporter := staticReporter{"sampler": {Healthy: true}}
	h := Handler("bcistream", NewMonitor(), reporter)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bcistream", body.Component)
	assert.Equal(t, "healthy", body.Status)
	require.Len(t, body.SubStatuses, 1)
	assert.Equal(t, "sampler", body.SubStatuses[0].Component)

	reporter["sampler"] = component.HealthStatus{Healthy: false, LastError: "adapter stopped"}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
