package component

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bcistream/errors"
)

type fakeComponent struct {
	name     string
	log      *[]string
	startErr error
	stopErr  error
	ctx      context.Context
}

func (f *fakeComponent) Meta() Metadata {
	return Metadata{Name: f.name, Type: "test"}
}

func (f *fakeComponent) Health() HealthStatus  { return HealthStatus{Healthy: true} }
func (f *fakeComponent) DataFlow() FlowMetrics { return FlowMetrics{} }

func (f *fakeComponent) Initialize() error {
	*f.log = append(*f.log, "init "+f.name)
	return nil
}

func (f *fakeComponent) Start(ctx context.Context) error {
	f.ctx = ctx
	*f.log = append(*f.log, "start "+f.name)
	return f.startErr
}

func (f *fakeComponent) Stop(time.Duration) error {
	*f.log = append(*f.log, "stop "+f.name)
	return f.stopErr
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateCreated:     "created",
		StateInitialized: "initialized",
		StateStarted:     "started",
		StateStopped:     "stopped",
		StateFailed:      "failed",
		State(42):        "unknown",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}

func TestManager_StartStopOrder(t *testing.T) {
	var log []string
	a := &fakeComponent{name: "a", log: &log}
	b := &fakeComponent{name: "b", log: &log}

	m := NewManager(nil)
	require.NoError(t, m.Add("a", a))
	require.NoError(t, m.Add("b", b))
	assert.ErrorIs(t, m.Add("a", a), errors.ErrInvalidConfig)
	assert.ErrorIs(t, m.Add("nil", nil), errors.ErrInvalidConfig)
	assert.True(t, IsLifecycleComponent(a))

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, map[string]State{"a": StateStarted, "b": StateStarted}, m.States())
	assert.True(t, m.Health()["a"].Healthy)

	require.NoError(t, m.Stop(time.Second))
	assert.Equal(t, []string{"init a", "start a", "init b", "start b", "stop b", "stop a"}, log)
	assert.ErrorIs(t, a.ctx.Err(), context.Canceled)

	h := m.Health()["b"]
	assert.False(t, h.Healthy)
	assert.Equal(t, "component stopped", h.LastError)
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	var log []string
	a := &fakeComponent{name: "a", log: &log}
	b := &fakeComponent{name: "b", log: &log, startErr: assert.AnError}

	m := NewManager(nil)
	require.NoError(t, m.Add("a", a))
	require.NoError(t, m.Add("b", b))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []string{"init a", "start a", "init b", "start b", "stop a"}, log)

	states := m.States()
	assert.Equal(t, StateStopped, states["a"])
	assert.Equal(t, StateFailed, states["b"])
	assert.Contains(t, m.Health()["b"].LastError, assert.AnError.Error())
}

func TestManager_StopErrorsAreJoined(t *testing.T) {
	var log []string
	a := &fakeComponent{name: "a", log: &log, stopErr: assert.AnError}
	m := NewManager(nil)
	require.NoError(t, m.Add("a", a))
	require.NoError(t, m.Start(context.Background()))

	err := m.Stop(time.Second)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, StateFailed, m.States()["a"])
	assert.NoError(t, m.Stop(time.Second), "failed components are not stopped twice")
}

func TestHealthStatus_Degraded(t *testing.T) {
	tests := []struct {
		name string
		hs   HealthStatus
		want bool
	}{
		{name: "healthy", hs: HealthStatus{Healthy: true}},
		{name: "recovering", hs: HealthStatus{Healthy: true, LastError: "post failed"}, want: true},
		{name: "unhealthy", hs: HealthStatus{LastError: "adapter stopped"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.hs.Degraded())
		})
	}
}
