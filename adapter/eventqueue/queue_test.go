package eventqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/errors"
)

func newQueue(t *testing.T, capacity int) *Queue {
	t.Helper()
	q, err := New(capacity, nil, "")
	require.NoError(t, err)
	return q
}

func TestQueue_TimeoutReturnsEmpty(t *testing.T) {
	q := newQueue(t, 4)

	start := time.Now()
	events, err := q.Wait(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	events, err = q.Wait(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQueue_WakesOnPush(t *testing.T) {
	q := newQueue(t, 4)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Push(adapter.Connected{DeviceID: "dev-1"})
	}()

	events, err := q.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, adapter.Connected{DeviceID: "dev-1"}, events[0])
}

func TestQueue_CloseWakesWaiterAndDrains(t *testing.T) {
	q := newQueue(t, 4)
	require.NoError(t, q.Push(adapter.ErrorEvent{Message: "electrode off"}))
	q.Close()

	assert.ErrorIs(t, q.Push(adapter.Connected{}), errors.ErrAdapterStopped)

	events, err := q.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = q.Wait(context.Background(), time.Second)
	assert.ErrorIs(t, err, errors.ErrAdapterStopped)
}

func TestQueue_CloseDuringWait(t *testing.T) {
	q := newQueue(t, 4)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Close()
	}()

	start := time.Now()
	_, err := q.Wait(context.Background(), 5*time.Second)
	assert.ErrorIs(t, err, errors.ErrAdapterStopped)
	assert.Less(t, time.Since(start), time.Second)
}

func TestQueue_ContextCancel(t *testing.T) {
	q := newQueue(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Wait(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_OverflowDropsOldest(t *testing.T) {
	q := newQueue(t, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(adapter.ErrorEvent{Message: string(rune('a' + i))}))
	}

	assert.Equal(t, int64(3), q.Dropped())
	events, err := q.Wait(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []adapter.Event{adapter.ErrorEvent{Message: "d"}, adapter.ErrorEvent{Message: "e"}}, events)
}
