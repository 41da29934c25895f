package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c360/bcistream/adapter/edfreplay"
	"github.com/c360/bcistream/adapter/simulated"
	"github.com/c360/bcistream/adapter/wsstream"
	"github.com/c360/bcistream/descriptor"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/output/edfrec"
	"github.com/c360/bcistream/output/httppost"
	"github.com/c360/bcistream/output/jsonl"
	"github.com/c360/bcistream/output/natspub"
	wsfeed "github.com/c360/bcistream/output/websocket"
	"github.com/c360/bcistream/pkg/security"
	"github.com/c360/bcistream/session"
	"github.com/c360/bcistream/storage/objectstore"
)

// Adapter types accepted in adapter.type.
const (
	AdapterSimulated = "simulated"
	AdapterEDF       = "edf"
	AdapterWebSocket = "websocket"
)

// Estimator names accepted in pipeline.estimator.
const (
	EstimatorSignal    = "signal"
	EstimatorReference = "reference"
)

// Config is the complete bcistream configuration.
type Config struct {
	Session  session.Config `json:"session"`
	Adapter  AdapterConfig  `json:"adapter"`
	Pipeline PipelineConfig `json:"pipeline"`
	NATS     NATSConfig     `json:"nats"`
	Outputs  OutputsConfig  `json:"outputs"`
	Metrics  MetricsConfig  `json:"metrics"`
	Node     NodeConfig     `json:"node"`
}

// AdapterConfig selects and configures the signal source. Layout and sample
// rate in the per-adapter sections are taken from the session.
type AdapterConfig struct {
	Type      string           `json:"type"`
	Simulated simulated.Config `json:"simulated"`
	EDF       edfreplay.Config `json:"edf"`
	WebSocket wsstream.Config  `json:"websocket"`
}

// RetryConfig bounds retries of adapter start.
type RetryConfig struct {
	MaxAttempts  int      `json:"max_attempts"`
	InitialDelay Duration `json:"initial_delay"`
	MaxDelay     Duration `json:"max_delay"`
}

// PipelineConfig tunes the acquisition loop.
type PipelineConfig struct {
	PollTimeout Duration `json:"poll_timeout"`
	// QueueSize > 0 decouples polling from windowing through a bounded queue.
	QueueSize           int         `json:"queue_size"`
	MaxPendingWindows   int         `json:"max_pending_windows"`
	WindowCapacity      int         `json:"window_capacity"`
	Estimator           string      `json:"estimator"`
	ArtifactThresholdUv float64     `json:"artifact_threshold_uv"`
	StartRetry          RetryConfig `json:"start_retry"`
	StopTimeout         Duration    `json:"stop_timeout"`
	// Restart restarts the adapter after a transport failure instead of
	// leaving the service failed.
	Restart bool `json:"restart"`
}

// NATSConfig configures the NATS connection and the metrics publisher.
type NATSConfig struct {
	Enabled         bool           `json:"enabled"`
	URLs            []string       `json:"urls"`
	Username        string         `json:"username,omitempty"`
	Password        string         `json:"password,omitempty"`
	Token           string         `json:"token,omitempty"`
	ClientName      string         `json:"client_name"`
	MaxReconnects   int            `json:"max_reconnects"`
	ReconnectWait   Duration       `json:"reconnect_wait"`
	Timeout         Duration       `json:"timeout"`
	ConnectAttempts int            `json:"connect_attempts"`
	Publisher       natspub.Config `json:"publisher"`
	// TLS applies to tls:// URLs and to servers that require TLS.
	TLS security.ClientTLSConfig `json:"tls"`
	// Archive uploads the closed recordings to an object store bucket.
	Archive ArchiveConfig `json:"archive"`
}

// ArchiveConfig enables the session archive.
type ArchiveConfig struct {
	Enabled bool `json:"enabled"`
	objectstore.Config
}

// URL joins the configured servers the way nats.Connect expects.
func (c NATSConfig) URL() string {
	return strings.Join(c.URLs, ",")
}

// JSONLOutput enables the JSON-lines metrics file.
type JSONLOutput struct {
	Enabled bool `json:"enabled"`
	jsonl.Config
}

// EDFOutput enables raw sample recording.
type EDFOutput struct {
	Enabled bool `json:"enabled"`
	edfrec.Config
}

// HTTPOutput enables the webhook sink.
type HTTPOutput struct {
	Enabled bool `json:"enabled"`
	httppost.Config
}

// WebSocketOutput enables the live metrics feed.
type WebSocketOutput struct {
	Enabled bool `json:"enabled"`
	wsfeed.Config
}

// OutputsConfig enables the local sinks. NATS publishing is configured under nats.
type OutputsConfig struct {
	Log        bool            `json:"log"`
	Prometheus bool            `json:"prometheus"`
	JSONL      JSONLOutput     `json:"jsonl"`
	EDF        EDFOutput       `json:"edf"`
	HTTP       HTTPOutput      `json:"http"`
	WebSocket  WebSocketOutput `json:"websocket"`
}

// MetricsConfig configures the /metrics and /health server.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// NodeConfig carries the descriptor records. A nil profile means a default
// profile with a fresh node id.
type NodeConfig struct {
	Profile *descriptor.NodeProfile         `json:"profile,omitempty"`
	Disk    *descriptor.DiskConnectorConfig `json:"disk,omitempty"`
}

// Default returns the built-in configuration: a simulated headset, inline
// pipeline, log and Prometheus outputs, NATS disabled.
func Default() *Config {
	return &Config{
		Session: session.DefaultConfig(),
		Adapter: AdapterConfig{
			Type:      AdapterSimulated,
			Simulated: simulated.DefaultConfig(),
			EDF:       edfreplay.Config{Speed: 1},
			WebSocket: wsstream.Config{HandshakeTimeout: 10 * time.Second},
		},
		Pipeline: PipelineConfig{
			PollTimeout:         Duration(100 * time.Millisecond),
			Estimator:           EstimatorSignal,
			ArtifactThresholdUv: 100,
			StartRetry: RetryConfig{
				MaxAttempts:  5,
				InitialDelay: Duration(200 * time.Millisecond),
				MaxDelay:     Duration(5 * time.Second),
			},
			StopTimeout: Duration(5 * time.Second),
		},
		NATS: NATSConfig{
			URLs:            []string{"nats://localhost:4222"},
			ClientName:      "bcistream",
			MaxReconnects:   -1,
			ReconnectWait:   Duration(2 * time.Second),
			Timeout:         Duration(5 * time.Second),
			ConnectAttempts: 5,
			Publisher:       natspub.DefaultConfig(),
			Archive:         ArchiveConfig{Config: objectstore.DefaultConfig()},
		},
		Outputs: OutputsConfig{
			Log:        true,
			Prometheus: true,
			JSONL:      JSONLOutput{Config: jsonl.DefaultConfig()},
			EDF:        EDFOutput{Config: edfrec.Config{Path: "data/session.edf", Ranges: edfrec.DefaultRanges()}},
			HTTP:       HTTPOutput{Config: httppost.DefaultConfig()},
			WebSocket:  WebSocketOutput{Config: wsfeed.DefaultConfig()},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

func invalid(format string, args ...any) error {
	return errors.Invalidf(errors.ErrInvalidConfig, "Config", "Validate", format, args...)
}

// Validate checks every section. Values are reported, never corrected.
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}

	switch c.Adapter.Type {
	case AdapterSimulated, AdapterEDF, AdapterWebSocket:
	default:
		return invalid("adapter.type must be one of %s, %s, %s; got %q",
			AdapterSimulated, AdapterEDF, AdapterWebSocket, c.Adapter.Type)
	}

	if err := c.validateAdapter(); err != nil {
		return err
	}

	p := c.Pipeline
	switch {
	case p.PollTimeout.D() <= 0:
		return invalid("pipeline.poll_timeout must be positive, got %s", p.PollTimeout)
	case p.QueueSize < 0:
		return invalid("pipeline.queue_size must not be negative, got %d", p.QueueSize)
	case p.MaxPendingWindows < 0 || p.WindowCapacity < 0:
		return invalid("pipeline window bounds must not be negative")
	case p.Estimator != EstimatorSignal && p.Estimator != EstimatorReference:
		return invalid("pipeline.estimator must be %s or %s, got %q", EstimatorSignal, EstimatorReference, p.Estimator)
	case p.StartRetry.MaxAttempts < 0 || p.StartRetry.InitialDelay < 0 || p.StartRetry.MaxDelay < 0:
		return invalid("pipeline.start_retry values must not be negative")
	case p.StopTimeout.D() <= 0:
		return invalid("pipeline.stop_timeout must be positive, got %s", p.StopTimeout)
	}

	if c.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			return errors.Invalidf(errors.ErrMissingConfig, "Config", "Validate", "nats.urls is required when nats is enabled")
		}
		for _, u := range c.NATS.URLs {
			if !strings.HasPrefix(u, "nats://") && !strings.HasPrefix(u, "tls://") {
				return invalid("nats url %q must use nats:// or tls://", u)
			}
		}
		if err := c.NATS.Publisher.Validate(); err != nil {
			return err
		}
		if err := c.NATS.TLS.Validate(); err != nil {
			return err
		}
		if c.NATS.Archive.Enabled {
			if err := c.NATS.Archive.Validate(); err != nil {
				return err
			}
			if !c.Outputs.EDF.Enabled && !c.Outputs.JSONL.Enabled {
				return invalid("nats.archive needs outputs.edf or outputs.jsonl to produce a recording")
			}
		}
	}

	if c.Outputs.JSONL.Enabled {
		if err := c.Outputs.JSONL.Validate(); err != nil {
			return err
		}
	}
	if c.Outputs.EDF.Enabled {
		if err := c.Outputs.EDF.Config.Validate(c.Session.Layout(), c.Session.SampleRateHz); err != nil {
			return err
		}
	}

	if c.Outputs.HTTP.Enabled {
		if err := c.Outputs.HTTP.Validate(); err != nil {
			return err
		}
	}
	if c.Outputs.WebSocket.Enabled {
		if err := c.Outputs.WebSocket.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return invalid("metrics.port must be in 1..65535, got %d", c.Metrics.Port)
	}
	if c.Metrics.Enabled && c.Outputs.WebSocket.Enabled && c.Outputs.WebSocket.Port == c.Metrics.Port {
		return invalid("outputs.websocket.port %d is taken by the metrics server", c.Metrics.Port)
	}

	if c.Node.Profile != nil {
		if err := c.Node.Profile.Validate(); err != nil {
			return err
		}
	}
	if c.Node.Disk != nil {
		if err := c.Node.Disk.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateAdapter() error {
	switch c.Adapter.Type {
	case AdapterEDF:
		return c.EDFReplay().Validate()
	case AdapterWebSocket:
		return c.Adapter.WebSocket.Validate()
	default:
		return c.Simulated().Validate()
	}
}

// Simulated returns the simulated adapter section with the session layout and rate.
func (c *Config) Simulated() simulated.Config {
	out := c.Adapter.Simulated
	out.Layout = c.Session.Layout()
	out.SampleRateHz = c.Session.SampleRateHz
	return out
}

// EDFReplay returns the replay section with the session layout and rate.
// A zero frame size defaults to a tenth of a second of samples.
func (c *Config) EDFReplay() edfreplay.Config {
	out := c.Adapter.EDF
	out.Layout = c.Session.Layout()
	out.SampleRateHz = c.Session.SampleRateHz
	if out.FrameSize == 0 {
		out.FrameSize = max(1, out.SampleRateHz/10)
	}
	return out
}

// Redacted returns a copy with credentials and webhook header values masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	for _, s := range []*string{&out.NATS.Password, &out.NATS.Token} {
		if *s != "" {
			*s = "***"
		}
	}
	if len(c.Outputs.HTTP.Headers) > 0 {
		out.Outputs.HTTP.Headers = make(map[string]string, len(c.Outputs.HTTP.Headers))
		for k := range c.Outputs.HTTP.Headers {
			out.Outputs.HTTP.Headers[k] = "***"
		}
	}
	return &out
}

// String returns the configuration as indented JSON with credentials masked.
func (c *Config) String() string {
	data, err := json.MarshalIndent(c.Redacted(), "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
