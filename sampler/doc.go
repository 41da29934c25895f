// Package sampler turns an adapter's event stream into per-window quality
// metrics.
//
// Sampler is the synchronous core. It owns one session and its windowing
// engine and computes SamplerMetrics for closed windows:
//
//	s, err := sampler.New(sampler.Config{Session: session.DefaultConfig()})
//	res := s.Ingest(frame.Samples)
//	for _, w := range s.Windows() {
//	    m := s.ComputeMetrics(w, s.NowUnixNs())
//	}
//
// Service drives a connector through a Sampler as a
// component.LifecycleComponent. It polls inline, or on a separate goroutine
// when a queue size is set, and delivers every window to an output.Multi.
//
// Service behaviour on adapter events:
//
//   - SignalFrame: samples go to the sample sinks, then into the window.
//     Completed windows are computed and published immediately.
//   - Disconnected: the partial window is flushed and published and the
//     ordering state is reset, since a reconnected source may restart its clock.
//   - ErrorEvent: logged and kept as the last error; acquisition continues.
//   - A transport failure publishes the pending windows and an error-state
//     record. With Restart set the adapter is restarted, otherwise the loop ends.
//
// Windows whose p99 latency exceeds the session's max_latency_ms are counted
// and logged but still delivered. Stop flushes and publishes the final
// partial window before closing the outputs.
package sampler
