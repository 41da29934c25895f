package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bcistream/descriptor"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/pkg/security"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, AdapterSimulated, cfg.Adapter.Type)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.PollTimeout.D())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"bad session", func(c *Config) { c.Session.OverlapMs = c.Session.WindowDurationMs }, errors.ErrInvalidConfig},
		{"unknown adapter", func(c *Config) { c.Adapter.Type = "serial" }, errors.ErrInvalidConfig},
		{"edf without path", func(c *Config) { c.Adapter.Type = AdapterEDF }, errors.ErrMissingConfig},
		{"websocket without url", func(c *Config) { c.Adapter.Type = AdapterWebSocket }, errors.ErrMissingConfig},
		{"zero poll timeout", func(c *Config) { c.Pipeline.PollTimeout = 0 }, errors.ErrInvalidConfig},
		{"negative queue", func(c *Config) { c.Pipeline.QueueSize = -1 }, errors.ErrInvalidConfig},
		{"unknown estimator", func(c *Config) { c.Pipeline.Estimator = "fft" }, errors.ErrInvalidConfig},
		{"nats without urls", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.URLs = nil
		}, errors.ErrMissingConfig},
		{"nats http url", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.URLs = []string{"http://localhost:4222"}
		}, errors.ErrInvalidConfig},
		{"nats wildcard prefix", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.Publisher.SubjectPrefix = "bci.*"
		}, errors.ErrInvalidConfig},
		{"jsonl bad format", func(c *Config) {
			c.Outputs.JSONL.Enabled = true
			c.Outputs.JSONL.Format = "csv"
		}, errors.ErrInvalidConfig},
		{"edf record too large", func(c *Config) {
			c.Outputs.EDF.Enabled = true
			c.Session.SampleRateHz = 2000
		}, errors.ErrInvalidConfig},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }, errors.ErrInvalidConfig},
		{"nats tls version", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.TLS.MinVersion = "1.1"
		}, errors.ErrInvalidConfig},
		{"nats mtls without key", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.TLS.MTLS = security.ClientMTLSConfig{Enabled: true, CertFile: "node.pem"}
		}, errors.ErrMissingConfig},
		{"webhook without url", func(c *Config) {
			c.Outputs.HTTP.Enabled = true
			c.Outputs.HTTP.URL = ""
		}, errors.ErrMissingConfig},
		{"webhook ftp url", func(c *Config) {
			c.Outputs.HTTP.Enabled = true
			c.Outputs.HTTP.URL = "ftp://lab/metrics"
		}, errors.ErrInvalidConfig},
		{"disabled webhook is not checked", func(c *Config) { c.Outputs.HTTP.URL = "" }, nil},
		{"feed relative path", func(c *Config) {
			c.Outputs.WebSocket.Enabled = true
			c.Outputs.WebSocket.Path = "ws"
		}, errors.ErrInvalidConfig},
		{"feed on metrics port", func(c *Config) {
			c.Outputs.WebSocket.Enabled = true
			c.Outputs.WebSocket.Port = c.Metrics.Port
		}, errors.ErrInvalidConfig},
		{"feed enabled", func(c *Config) { c.Outputs.WebSocket.Enabled = true }, nil},
		{"archive without recording", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.Archive.Enabled = true
		}, errors.ErrInvalidConfig},
		{"archive without bucket", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.Archive.Enabled = true
			c.NATS.Archive.Bucket = ""
			c.Outputs.JSONL.Enabled = true
		}, errors.ErrMissingConfig},
		{"archive with jsonl", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.Archive.Enabled = true
			c.Outputs.JSONL.Enabled = true
		}, nil},
		{"archive ignored without nats", func(c *Config) { c.NATS.Archive.Enabled = true }, nil},
		{"profile without node id", func(c *Config) { c.Node.Profile = &descriptor.NodeProfile{} }, errors.ErrMissingConfig},
		{"websocket with url", func(c *Config) {
			c.Adapter.Type = AdapterWebSocket
			c.Adapter.WebSocket.URL = "ws://localhost:8765"
		}, nil},
		{"queued pipeline", func(c *Config) { c.Pipeline.QueueSize = 64 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_AdapterSectionsFollowSession(t *testing.T) {
	cfg := Default()
	cfg.Session.ChannelCount = 8
	cfg.Session.SampleRateHz = 500
	cfg.Adapter.EDF.Path = "rec.edf"

	sim := cfg.Simulated()
	assert.Equal(t, 8, sim.Layout.EEG)
	assert.Equal(t, 500, sim.SampleRateHz)

	replay := cfg.EDFReplay()
	assert.Equal(t, cfg.Session.Layout(), replay.Layout)
	assert.Equal(t, 50, replay.FrameSize)
}

func TestConfig_StringRedactsCredentials(t *testing.T) {
	cfg := Default()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cret"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.Equal(t, 2, strings.Count(out, `"***"`))
	assert.Equal(t, "hunter2", cfg.NATS.Password)
}

func TestConfig_StringRedactsWebhookHeaders(t *testing.T) {
	cfg := Default()
	cfg.Outputs.HTTP.Headers = map[string]string{"Authorization": "Bearer abc123"}

	out := cfg.String()
	assert.NotContains(t, out, "abc123")
	assert.Contains(t, out, `"Authorization": "***"`)
	assert.Equal(t, "Bearer abc123", cfg.Outputs.HTTP.Headers["Authorization"])
}
