// Package buffer provides thread-safe circular buffers with configurable overflow policies,
// built-in statistics tracking, and optional Prometheus metrics integration.
//
// # Quick Start
//
//	buf, err := buffer.NewCircularBuffer[adapter.Event](1024,
//		buffer.WithOverflowPolicy[adapter.Event](buffer.DropOldest),
//		buffer.WithMetrics[adapter.Event](registry, "simulated_events"),
//	)
//
//	_ = buf.Write(ev)
//	for _, ev := range buf.Drain() { ... }
//
// # Overflow Policies
//
//   - DropOldest: evict the oldest item to make room (default)
//   - DropNewest: discard the incoming item when full
//
// Every lost item is counted in Statistics.Drops and passed to the optional
// DropCallback.
//
// # Waiting for Data
//
// Ready carries a single pending wake-up per write burst and Done closes with the
// buffer, so a consumer can block with a select on both plus a timer:
//
//	select {
//	case <-buf.Ready():
//	case <-buf.Done():
//	case <-timer.C:
//	}
//	items := buf.Drain()
//
// Close stops writes but leaves buffered items readable so consumers can drain
// what arrived before shutdown.
package buffer
