// Package bcistream turns a stream of biosignal samples from a BCI headset
// into per-window quality and latency metrics.
//
// # Pipeline
//
// One acquisition session runs one pipeline:
//
//	┌──────────────┐   frames    ┌─────────────┐  windows  ┌──────────────┐
//	│   adapter    │ ──────────► │   window    │ ────────► │   quality    │
//	│ (simulated,  │  connector  │   engine    │           │   computer   │
//	│  edf, ws)    │             │  (overlap)  │           │              │
//	└──────────────┘             └─────────────┘           └──────┬───────┘
//	                                                              │ SamplerMetrics
//	                                                              ▼
//	                                                     ┌──────────────────┐
//	                                                     │  output.Multi    │
//	                                                     │ log, prometheus, │
//	                                                     │ jsonl, nats,     │
//	                                                     │ http, websocket  │
//	                                                     └──────────────────┘
//
// The adapter delivers samples and lifecycle events. The window engine cuts
// fixed-length windows with the configured overlap. Every closed window
// yields exactly one metrics record carrying the session id, the sampler
// state, signal quality scores and end-to-end latency. Raw samples can also
// be recorded to EDF.
//
// # Packages
//
// Domain:
//   - sample: sample layout and validation
//   - session: session identity, configuration and clock
//   - adapter: the source interface and events; simulated, edfreplay and wsstream sources
//   - connector: the facade the sampler drives an adapter through
//   - window: overlapping window engine
//   - quality: per-window metrics and estimators
//   - sampler: the pipeline core and its managed service
//   - descriptor: node profile and disk connector records
//
// Outputs:
//   - output: sink interfaces and the Multi fan-out
//   - output/promsink, output/jsonl, output/natspub: metrics sinks
//   - output/httppost: webhook delivery with retries
//   - output/websocket: live metrics feed for dashboards
//   - output/edfrec: raw sample recording
//   - storage/objectstore: session archive in a JetStream object store
//
// Infrastructure:
//   - config: layered JSON/YAML configuration with env overrides
//   - natsclient: NATS connection management
//   - metric: Prometheus registry and /metrics server
//   - health: health aggregation and /health handler
//   - component: lifecycle interfaces and the manager
//   - errors: classified errors
//   - codec: JSON and CBOR encodings
//   - pkg/buffer, pkg/retry, pkg/timestamp, pkg/security, pkg/tlsutil
//
// # Binary
//
// cmd/bcistream wires the pipeline from configuration:
//
//	bcistream --config configs/base.yaml --config configs/lab.yaml
//
// SIGINT or SIGTERM flushes the pending windows, closes the outputs and
// archives the recordings when an archive bucket is configured.
package bcistream
