// Package eventqueue provides the bounded event queue shared by adapter implementations.
//
// Producers push events from their acquisition goroutine; PollEvents waits on the
// queue with a timeout. When full, the oldest event is dropped and counted.
package eventqueue

import (
	"context"
	"time"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/metric"
	"github.com/c360/bcistream/pkg/buffer"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1024

// Queue is a closable, bounded FIFO of adapter events.
type Queue struct {
	buf buffer.Buffer[adapter.Event]
}

// New creates a queue. When registry is non-nil, buffer statistics are exported under name.
func New(capacity int, registry *metric.MetricsRegistry, name string) (*Queue, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	buf, err := buffer.NewCircularBuffer[adapter.Event](capacity,
		buffer.WithOverflowPolicy[adapter.Event](buffer.DropOldest),
		buffer.WithMetrics[adapter.Event](registry, name),
	)
	if err != nil {
		return nil, errors.Wrap(err, "eventqueue", "New", "create buffer")
	}
	return &Queue{buf: buf}, nil
}

// Push enqueues ev. It fails with ErrAdapterStopped once the queue is closed.
func (q *Queue) Push(ev adapter.Event) error {
	if err := q.buf.Write(ev); err != nil {
		return errors.ErrAdapterStopped
	}
	return nil
}

// Close stops accepting events and wakes waiters. Queued events stay drainable.
func (q *Queue) Close() {
	_ = q.buf.Close()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.buf.Done():
		return true
	default:
		return false
	}
}

// Dropped returns the number of events lost to overflow.
func (q *Queue) Dropped() int64 {
	return q.buf.Stats().Drops()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return q.buf.Size()
}

// Wait returns queued events, blocking up to timeout for the first one.
// It returns an empty slice on timeout and ErrAdapterStopped when the queue is
// closed and empty.
func (q *Queue) Wait(ctx context.Context, timeout time.Duration) ([]adapter.Event, error) {
	if events := q.buf.Drain(); len(events) > 0 {
		return events, nil
	}
	if q.Closed() {
		return nil, errors.ErrAdapterStopped
	}
	if timeout <= 0 {
		return []adapter.Event{}, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.buf.Ready():
			if events := q.buf.Drain(); len(events) > 0 {
				return events, nil
			}
		case <-q.buf.Done():
			if events := q.buf.Drain(); len(events) > 0 {
				return events, nil
			}
			return nil, errors.ErrAdapterStopped
		case <-timer.C:
			return []adapter.Event{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
