package buffer

import (
	"sync"

	"github.com/c360/bcistream/errors"
)

type circularBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	closed   bool

	ready chan struct{}
	done  chan struct{}

	stats   *Statistics
	metrics *bufferMetrics
	opts    options[T]
}

func newCircularBuffer[T any](capacity int, opts options[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.registry != nil {
		var err error
		metrics, err = newBufferMetrics(opts.registry, opts.prefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Buffer", "newCircularBuffer", "metrics registration")
		}
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

func (cb *circularBuffer[T]) drop(item T) {
	cb.stats.recordDrop()
	if cb.metrics != nil {
		cb.metrics.recordDrop()
	}
	if cb.opts.onDrop != nil {
		cb.opts.onDrop(item)
	}
}

// popLocked removes the oldest item. Caller holds mu and has checked size > 0.
func (cb *circularBuffer[T]) popLocked() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	return item
}

func (cb *circularBuffer[T]) Write(item T) error {
	cb.mu.Lock()
	if cb.closed {
		cb.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	var (
		dropped    T
		hasDropped bool
	)
	if cb.size == cb.capacity {
		if cb.opts.policy == DropNewest {
			cb.mu.Unlock()
			cb.drop(item)
			return nil
		}
		dropped, hasDropped = cb.popLocked(), true
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.recordWrite()
	cb.stats.updateSize(cb.size)
	if cb.metrics != nil {
		cb.metrics.recordWrite(cb.size, cb.capacity)
	}
	cb.mu.Unlock()

	// Callbacks run outside the lock.
	if hasDropped {
		cb.drop(dropped)
	}

	select {
	case cb.ready <- struct{}{}:
	default:
	}
	return nil
}

func (cb *circularBuffer[T]) Read() (T, bool) {
	batch := cb.ReadBatch(1)
	if len(batch) == 0 {
		var zero T
		return zero, false
	}
	return batch[0], true
}

func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}
	n := min(max, cb.size)
	out := make([]T, n)
	for i := range out {
		out[i] = cb.popLocked()
	}

	cb.stats.recordReads(n)
	cb.stats.updateSize(cb.size)
	if cb.metrics != nil {
		cb.metrics.recordReads(n, cb.size, cb.capacity)
	}
	return out
}

func (cb *circularBuffer[T]) Drain() []T {
	return cb.ReadBatch(cb.capacity)
}

func (cb *circularBuffer[T]) Peek() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	return cb.items[cb.tail], true
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

func (cb *circularBuffer[T]) IsFull() bool {
	return cb.Size() == cb.capacity
}

func (cb *circularBuffer[T]) IsEmpty() bool {
	return cb.Size() == 0
}

func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	cleared := make([]T, 0, cb.size)
	for cb.size > 0 {
		cleared = append(cleared, cb.popLocked())
	}
	cb.head, cb.tail = 0, 0
	cb.stats.updateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0, cb.capacity)
	}
	cb.mu.Unlock()

	for _, item := range cleared {
		cb.drop(item)
	}
}

func (cb *circularBuffer[T]) Ready() <-chan struct{} {
	return cb.ready
}

func (cb *circularBuffer[T]) Done() <-chan struct{} {
	return cb.done
}

func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true
	close(cb.done)
	return nil
}
