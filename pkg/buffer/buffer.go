// Package buffer provides a generic, thread-safe bounded ring buffer with overflow policies.
//
// Statistics are always collected. Prometheus metrics can be enabled via WithMetrics.
package buffer

// Buffer represents a bounded FIFO of items of type T.
type Buffer[T any] interface {
	// Write adds an item. When the buffer is full the overflow policy decides
	// which item is lost. Writing to a closed buffer fails.
	Write(item T) error

	// Read retrieves and removes the oldest item.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items, oldest first.
	ReadBatch(max int) []T

	// Drain retrieves and removes every buffered item.
	Drain() []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	Size() int
	Capacity() int
	IsFull() bool
	IsEmpty() bool

	// Clear removes all items, invoking the drop callback for each.
	Clear()

	// Ready is signalled after a write. It carries at most one pending wake-up,
	// so consumers must drain the buffer after each receive.
	Ready() <-chan struct{}

	// Done is closed when the buffer is closed.
	Done() <-chan struct{}

	Stats() *Statistics

	// Close rejects further writes. Buffered items remain readable.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item lost to overflow or Clear.
type DropCallback[T any] func(item T)

// NewCircularBuffer returns a buffer holding at most capacity items. It fails
// only when requested metrics cannot be registered.
func NewCircularBuffer[T any](capacity int, opts ...Option[T]) (Buffer[T], error) {
	return newCircularBuffer(capacity, buildOptions(opts))
}
