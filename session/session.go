// Package session holds the sampler configuration and the identity of one acquisition run.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/pkg/timestamp"
	"github.com/c360/bcistream/sample"
)

// Config is the sampler configuration record.
type Config struct {
	// ChannelCount is the number of EEG channels.
	ChannelCount     int     `json:"channel_count" yaml:"channel_count"`
	SampleRateHz     int     `json:"sample_rate_hz" yaml:"sample_rate_hz"`
	WindowDurationMs int     `json:"window_duration_ms" yaml:"window_duration_ms"`
	OverlapMs        int     `json:"overlap_ms" yaml:"overlap_ms"`
	MaxLatencyMs     float64 `json:"max_latency_ms" yaml:"max_latency_ms"`

	// Aux gives the auxiliary channel counts. Its EEG field is ignored.
	// Nil means the default headset layout.
	Aux *sample.Layout `json:"aux,omitempty" yaml:"aux,omitempty"`
}

// DefaultConfig returns the headset defaults: 16 EEG channels at 250 Hz with
// one-second windows overlapping by 250ms and a 50ms latency budget.
func DefaultConfig() Config {
	return Config{
		ChannelCount:     sample.DefaultLayout.EEG,
		SampleRateHz:     250,
		WindowDurationMs: 1000,
		OverlapMs:        250,
		MaxLatencyMs:     50,
	}
}

// Validate rejects invalid combinations before any acquisition starts.
// Values are never corrected silently.
func (c Config) Validate() error {
	switch {
	case c.ChannelCount <= 0:
		return invalid("channel_count must be positive, got %d", c.ChannelCount)
	case c.SampleRateHz <= 0:
		return invalid("sample_rate_hz must be positive, got %d", c.SampleRateHz)
	case c.WindowDurationMs <= 0:
		return invalid("window_duration_ms must be positive, got %d", c.WindowDurationMs)
	case c.OverlapMs < 0:
		return invalid("overlap_ms must not be negative, got %d", c.OverlapMs)
	case c.OverlapMs >= c.WindowDurationMs:
		return invalid("overlap_ms %d must be less than window_duration_ms %d", c.OverlapMs, c.WindowDurationMs)
	case c.MaxLatencyMs <= 0:
		return invalid("max_latency_ms must be positive, got %g", c.MaxLatencyMs)
	}
	return c.Layout().Check()
}

func invalid(format string, args ...any) error {
	return errors.Invalidf(errors.ErrInvalidConfig, "session.Config", "Validate", format, args...)
}

// Layout returns the channel layout with ChannelCount EEG channels.
func (c Config) Layout() sample.Layout {
	l := sample.DefaultLayout
	if c.Aux != nil {
		l = *c.Aux
	}
	l.EEG = c.ChannelCount
	return l
}

// WindowDuration returns the window length.
func (c Config) WindowDuration() time.Duration {
	return time.Duration(c.WindowDurationMs) * time.Millisecond
}

// Overlap returns the overlap between consecutive windows.
func (c Config) Overlap() time.Duration {
	return time.Duration(c.OverlapMs) * time.Millisecond
}

// SamplePeriod returns the nominal spacing between samples.
func (c Config) SamplePeriod() time.Duration {
	if c.SampleRateHz <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.SampleRateHz)
}

// SamplesPerWindow returns the nominal number of samples in a full window.
func (c Config) SamplesPerWindow() int {
	return c.SampleRateHz * c.WindowDurationMs / 1000
}

// Session identifies one sampler run. It is created once and never reassigned.
type Session struct {
	id     uuid.UUID
	config Config
	start  time.Time
}

// New validates cfg and starts a session with a fresh random identifier.
func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		id:     uuid.New(),
		config: cfg,
		start:  time.Now(),
	}, nil
}

// ID returns the session identifier as a string.
func (s *Session) ID() string {
	return s.id.String()
}

// UUID returns the raw session identifier.
func (s *Session) UUID() uuid.UUID {
	return s.id
}

// Config returns a copy of the session configuration.
func (s *Session) Config() Config {
	return s.config
}

// StartedAt returns the wall-clock start as Unix nanoseconds.
func (s *Session) StartedAt() uint64 {
	return timestamp.ToUnixNs(s.start)
}

// Elapsed returns monotonic time since the session started.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.start)
}

// Relative converts an absolute sample timestamp into an offset from session start.
// Timestamps before the start map to zero.
func (s *Session) Relative(ts uint64) time.Duration {
	return timestamp.Duration(timestamp.SubSat(ts, s.StartedAt()))
}
