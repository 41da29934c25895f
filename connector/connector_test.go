package connector

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/adapter/adaptertest"
	"github.com/c360/bcistream/errors"
)

func TestConnector_PassThrough(t *testing.T) {
	fake := adaptertest.New(adaptertest.Step{Events: []adapter.Event{adapter.Connected{DeviceID: "d"}}})
	c := New(fake)
	assert.Equal(t, "scripted", c.Describe())

	require.NoError(t, c.Start(context.Background()))
	events, err := c.NextEvents(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []adapter.Event{adapter.Connected{DeviceID: "d"}}, events)

	events, err = c.NextEvents(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events, "timeout is not an error")

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())

	start, stop, polls := fake.Calls()
	assert.Equal(t, 1, start)
	assert.Equal(t, 2, stop)
	assert.Equal(t, 2, polls)
	assert.Equal(t, uint64(2), c.Stats().Polls)
}

func TestConnector_WrapsTransportErrors(t *testing.T) {
	usb := stderrors.New("usb reset")
	tests := []struct {
		name string
		run  func(*Connector, *adaptertest.Scripted) error
	}{
		{"start", func(c *Connector, f *adaptertest.Scripted) error {
			f.FailStart(1, usb)
			return c.Start(context.Background())
		}},
		{"poll", func(c *Connector, f *adaptertest.Scripted) error {
			f.Append(adaptertest.Step{Err: usb})
			require.NoError(t, c.Start(context.Background()))
			_, err := c.NextEvents(context.Background(), time.Millisecond)
			return err
		}},
		{"stop", func(c *Connector, f *adaptertest.Scripted) error {
			f.FailStop(usb)
			return c.Stop()
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := adaptertest.New()
			c := New(fake)
			err := tc.run(c, fake)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrTransport)
			assert.ErrorIs(t, err, usb)
			assert.True(t, errors.IsTransport(err))
			assert.True(t, errors.IsTransient(err))
			assert.Equal(t, uint64(1), c.Stats().Failures)
		})
	}
}

func TestConnector_StoppedAdapter(t *testing.T) {
	c := New(adaptertest.New())
	_, err := c.NextEvents(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrAdapterStopped)
	assert.ErrorIs(t, err, errors.ErrTransport)
}

func TestConnector_ContextNotWrapped(t *testing.T) {
	fake := adaptertest.New()
	c := New(fake)
	require.NoError(t, c.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.NextEvents(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.IsTransport(err))
}

func TestConnector_StopDuringPoll(t *testing.T) {
	fake := adaptertest.New()
	c := New(fake)
	require.NoError(t, c.Start(context.Background()))

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = c.Stop()
	}()

	start := time.Now()
	_, err := c.NextEvents(context.Background(), 5*time.Second)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, errors.ErrAdapterStopped)
}

func TestNew_NilAdapterPanics(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
}
