// Package metric provides Prometheus-based metrics collection and an HTTP server
// for bcistream monitoring.
//
// The package has three layers:
//
//  1. Core Metrics: pipeline metrics registered automatically (Metrics type):
//     samples accepted and dropped, adapter events and errors, poll latency,
//     windows emitted, latency-budget violations and sink deliveries.
//  2. Registrar: extensible registration for component-specific collectors
//     (MetricsRegistrar interface), used by the Prometheus metrics sink and
//     instrumented buffers.
//  3. HTTP Server: /metrics (promhttp) plus a pluggable /health endpoint (Server type).
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry,
//	    metric.WithHealthHandler(health.Handler(monitor)))
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//
//	registry.CoreMetrics().RecordWindow(sessionID, "duration", len(w.Samples))
//
// Components accept a nil *MetricsRegistry and then record nothing.
package metric
