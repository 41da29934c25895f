// Package connector is the facade the sampler uses to drive an adapter.
//
// It owns no policy: calls pass through to the adapter and failures come back
// wrapped as transport errors (errors.ErrTransport, classified transient).
// Retrying is left to the caller.
package connector

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/errors"
)

// Connector wraps one shared adapter.
type Connector struct {
	adapter adapter.Adapter

	starts     atomic.Uint64
	polls      atomic.Uint64
	failures   atomic.Uint64
	lastPollNs atomic.Int64
}

// New returns a connector for a. It panics on a nil adapter.
func New(a adapter.Adapter) *Connector {
	if a == nil {
		panic("connector: nil adapter")
	}
	return &Connector{adapter: a}
}

// Start starts the adapter stream.
func (c *Connector) Start(ctx context.Context) error {
	c.starts.Add(1)
	if err := c.adapter.StartStream(ctx); err != nil {
		c.failures.Add(1)
		return errors.WrapTransport(err, "connector", "Start", "start stream")
	}
	return nil
}

// Stop stops the adapter stream. It wakes any in-flight NextEvents.
func (c *Connector) Stop() error {
	if err := c.adapter.StopStream(); err != nil {
		c.failures.Add(1)
		return errors.WrapTransport(err, "connector", "Stop", "stop stream")
	}
	return nil
}

// NextEvents polls the adapter for up to timeout. Context cancellation is
// returned as is so callers can tell shutdown from transport trouble.
func (c *Connector) NextEvents(ctx context.Context, timeout time.Duration) ([]adapter.Event, error) {
	start := time.Now()
	events, err := c.adapter.PollEvents(ctx, timeout)
	c.polls.Add(1)
	c.lastPollNs.Store(int64(time.Since(start)))
	if err != nil {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.failures.Add(1)
		return nil, errors.WrapTransport(err, "connector", "NextEvents", "poll events")
	}
	return events, nil
}

// Describe names the adapter for diagnostics.
func (c *Connector) Describe() string {
	if n, ok := c.adapter.(adapter.Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", c.adapter)
}

// Stats is a snapshot of connector activity.
type Stats struct {
	Starts       uint64
	Polls        uint64
	Failures     uint64
	LastPollTime time.Duration
}

// Stats returns call counters.
func (c *Connector) Stats() Stats {
	return Stats{
		Starts:       c.starts.Load(),
		Polls:        c.polls.Load(),
		Failures:     c.failures.Load(),
		LastPollTime: time.Duration(c.lastPollNs.Load()),
	}
}
