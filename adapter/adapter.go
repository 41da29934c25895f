// Package adapter defines the hardware adapter contract and the events it produces.
//
// An Adapter hides one acquisition source (device bridge, file replay, simulator)
// behind three calls. StartStream and StopStream are idempotent. PollEvents blocks
// for at most the given timeout and returns whatever is ready, so a stop issued
// from another goroutine is observed within one poll interval.
//
// Adapters never retry. Failures are returned to the caller, which owns policy.
package adapter

import (
	"context"
	"time"
)

// Adapter is a pluggable biosignal source. Implementations are safe for concurrent use.
type Adapter interface {
	// StartStream begins acquisition. Calling it on a running adapter is a no-op.
	// A failed start leaves the adapter stopped.
	StartStream(ctx context.Context) error

	// StopStream ends acquisition and releases resources. It is safe without a
	// prior start and wakes any in-flight PollEvents.
	StopStream() error

	// PollEvents waits up to timeout for events. It returns an empty slice and no
	// error on timeout. Once stopped, it returns remaining events and then
	// errors.ErrAdapterStopped.
	PollEvents(ctx context.Context, timeout time.Duration) ([]Event, error)
}

// Named is implemented by adapters that report a diagnostic name.
type Named interface {
	Name() string
}
