package buffer

import (
	"github.com/c360/bcistream/metric"
)

// Option configures a buffer at construction.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy OverflowPolicy
	onDrop DropCallback[T]

	// Prometheus export; off unless both are set.
	registry *metric.MetricsRegistry
	prefix   string
}

// WithOverflowPolicy chooses what a full buffer does with a new item. The
// default is DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) { o.policy = policy }
}

// WithDropCallback is called with every item the buffer discards.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(o *options[T]) { o.onDrop = callback }
}

// WithMetrics exports the buffer statistics under prefix. A nil registry or
// an empty prefix leaves export off.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(o *options[T]) {
		if registry == nil || prefix == "" {
			return
		}
		o.registry, o.prefix = registry, prefix
	}
}

func buildOptions[T any](opts []Option[T]) options[T] {
	o := options[T]{policy: DropOldest}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
