package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/metric"
)

func TestCircularBufferBasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)
	defer buf.Close()

	if !buf.IsEmpty() || buf.Capacity() != 3 {
		t.Fatalf("unexpected initial state: size=%d cap=%d", buf.Size(), buf.Capacity())
	}

	for _, s := range []string{"first", "second", "third"} {
		require.NoError(t, buf.Write(s))
	}
	assert.True(t, buf.IsFull())

	item, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "first", item)
	assert.Equal(t, 3, buf.Size())

	item, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", item)

	assert.Equal(t, []string{"second", "third"}, buf.ReadBatch(10))
	_, ok = buf.Read()
	assert.False(t, ok)
	assert.Nil(t, buf.ReadBatch(0))
}

func TestOverflowPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   OverflowPolicy
		expected []int
		dropped  []int
	}{
		{"drop oldest", DropOldest, []int{3, 4, 5}, []int{1, 2}},
		{"drop newest", DropNewest, []int{1, 2, 3}, []int{4, 5}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var dropped []int
			buf, err := NewCircularBuffer[int](3,
				WithOverflowPolicy[int](tc.policy),
				WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
			)
			require.NoError(t, err)

			for i := 1; i <= 5; i++ {
				require.NoError(t, buf.Write(i))
			}

			assert.Equal(t, tc.expected, buf.Drain())
			assert.Equal(t, tc.dropped, dropped)
			assert.Equal(t, int64(2), buf.Stats().Drops())
		})
	}
}

func TestOverflowPolicy_String(t *testing.T) {
	assert.Equal(t, "DropOldest", DropOldest.String())
	assert.Equal(t, "DropNewest", DropNewest.String())
	assert.Equal(t, "Unknown", OverflowPolicy(42).String())
}

func TestClearInvokesDropCallback(t *testing.T) {
	count := 0
	buf, err := NewCircularBuffer[int](4, WithDropCallback[int](func(int) { count++ }))
	require.NoError(t, err)

	_ = buf.Write(1)
	_ = buf.Write(2)
	buf.Clear()

	assert.Equal(t, 2, count)
	assert.True(t, buf.IsEmpty())

	// Wrap-around after clear keeps FIFO order.
	for i := 10; i < 16; i++ {
		_ = buf.Write(i)
	}
	assert.Equal(t, []int{12, 13, 14, 15}, buf.Drain())
}

func TestReadyAndDone(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)

	select {
	case <-buf.Ready():
		t.Fatal("ready should not fire before a write")
	default:
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = buf.Write(7)
	}()

	select {
	case <-buf.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready did not fire")
	}
	assert.Equal(t, []int{7}, buf.Drain())

	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close())
	select {
	case <-buf.Done():
	default:
		t.Fatal("done should be closed")
	}

	err = buf.Write(8)
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrAlreadyStopped)
}

func TestCloseKeepsItemsReadable(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)
	_ = buf.Write(1)
	_ = buf.Write(2)
	require.NoError(t, buf.Close())

	assert.Equal(t, []int{1, 2}, buf.Drain())
}

func TestStatistics(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)

	_ = buf.Write(1)
	_ = buf.Write(2)
	_ = buf.Write(3)
	_, _ = buf.Read()

	summary := buf.Stats().Summary()
	assert.Equal(t, int64(3), summary.Writes)
	assert.Equal(t, int64(1), summary.Reads)
	assert.Equal(t, int64(1), summary.Drops)
	assert.Equal(t, int64(1), summary.CurrentSize)
	assert.Equal(t, int64(2), summary.MaxSize)
	assert.InDelta(t, 1.0/3.0, summary.DropRate, 1e-9)
}

func TestConcurrentWriters(t *testing.T) {
	buf, err := NewCircularBuffer[int](1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = buf.Write(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, buf.Size())
	assert.Equal(t, int64(0), buf.Stats().Drops())
}

func TestWithMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	buf, err := NewCircularBuffer[int](2, WithMetrics[int](registry, "events"))
	require.NoError(t, err)

	_ = buf.Write(1)
	_ = buf.Write(2)
	_ = buf.Write(3)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "bcistream_buffer_drops_total" {
			found = true
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)

	// A second buffer with the same prefix collides.
	_, err = NewCircularBuffer[int](2, WithMetrics[int](registry, "events"))
	require.Error(t, err)
}

func TestWithMetrics_NilRegistryIgnored(t *testing.T) {
	buf, err := NewCircularBuffer[int](2, WithMetrics[int](nil, "events"))
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))
	assert.Nil(t, buf.(*circularBuffer[int]).metrics)
}
