// Package config loads the bcistream configuration.
//
// A Config has one section per concern: the session record, the adapter,
// the acquisition pipeline, the NATS connection, local outputs, the metrics
// server and the node descriptor. Default returns a runnable configuration
// that streams a simulated headset to the log and Prometheus.
//
// # Loading
//
// Loader starts from Default and merges file layers on top, key by key.
// Files may be JSON or YAML, chosen by extension. Durations may be written
// as strings such as "250ms" or "2d".
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/lab.json") // overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//
// # Environment
//
// A small set of BCISTREAM_* variables override the merged files:
//
//	BCISTREAM_ADAPTER_TYPE            simulated, edf or websocket
//	BCISTREAM_ADAPTER_EDF_PATH        replay file
//	BCISTREAM_ADAPTER_WEBSOCKET_URL   bridge URL
//	BCISTREAM_SESSION_CHANNEL_COUNT   EEG channels
//	BCISTREAM_SESSION_SAMPLE_RATE_HZ  sample rate
//	BCISTREAM_NATS_ENABLED            true or false
//	BCISTREAM_NATS_URLS               comma separated
//	BCISTREAM_NATS_USERNAME, BCISTREAM_NATS_PASSWORD, BCISTREAM_NATS_TOKEN
//	BCISTREAM_METRICS_PORT            /metrics and /health port
//
// # Security
//
// Config files must be regular files under 1MB with a .json, .yaml or .yml
// extension. Relative paths may not leave the working directory and JSON
// nesting is limited to 32 levels. String renders credentials as "***".
package config
