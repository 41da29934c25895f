// Package httppost delivers metrics records to an HTTP endpoint, one POST per
// window.
package httppost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/bcistream/codec"
	"github.com/c360/bcistream/component"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/output"
	"github.com/c360/bcistream/pkg/retry"
	"github.com/c360/bcistream/pkg/security"
	"github.com/c360/bcistream/pkg/tlsutil"
	"github.com/c360/bcistream/quality"
)

// Config holds configuration for the webhook sink
type Config struct {
	URL        string            `json:"url" yaml:"url"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout    time.Duration     `json:"timeout" yaml:"timeout"`
	RetryCount int               `json:"retry_count" yaml:"retry_count"`
	// MaxRate caps requests per second, retries included. Zero means no cap.
	MaxRate float64 `json:"max_rate,omitempty" yaml:"max_rate,omitempty"`
	// Format is the body encoding, json or cbor.
	Format string                   `json:"format" yaml:"format"`
	TLS    security.ClientTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// DefaultConfig returns default configuration for the webhook sink
func DefaultConfig() Config {
	return Config{
		URL:        "http://localhost:8080/bci/metrics",
		Headers:    map[string]string{},
		Timeout:    10 * time.Second,
		RetryCount: 3,
		Format:     string(codec.JSON),
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.Invalidf(errors.ErrMissingConfig, "httppost.Config", "Validate", "url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Invalidf(errors.ErrInvalidConfig, "httppost.Config", "Validate",
			"url must be an absolute http or https URL, got %q", c.URL)
	}
	if c.Timeout < 0 || c.Timeout > 5*time.Minute {
		return errors.Invalidf(errors.ErrInvalidConfig, "httppost.Config", "Validate",
			"timeout must be between 0 and 5m, got %s", c.Timeout)
	}
	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.Invalidf(errors.ErrInvalidConfig, "httppost.Config", "Validate",
			"retry_count must be between 0 and 10, got %d", c.RetryCount)
	}
	if c.MaxRate < 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "httppost.Config", "Validate",
			"max_rate must not be negative, got %g", c.MaxRate)
	}
	if _, err := codec.ParseFormat(c.Format); err != nil {
		return err
	}
	return c.TLS.Validate()
}

// Sink posts each metrics record to the configured URL.
type Sink struct {
	cfg     Config
	client  *http.Client
	codec   codec.Codec
	retry   retry.Config
	limiter *rate.Limiter // nil when uncapped
	logger  *slog.Logger

	startTime    time.Time
	sent         atomic.Uint64
	retried      atomic.Uint64
	failed       atomic.Uint64
	lastActivity atomic.Int64 // unix nanoseconds
	lastError    atomic.Value // string
}

var (
	_ output.MetricsSink     = (*Sink)(nil)
	_ component.Discoverable = (*Sink)(nil)
)

// New validates cfg and returns a sink. Nothing is sent until the first record.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := codec.New(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLS.Configured() {
		tlsConfig, err := tlsutil.ClientConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		codec:     c,
		logger:    logger.With("component", "httppost", "url", cfg.URL),
		startTime: time.Now(),
	}
	if cfg.MaxRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRate), 1)
	}
	s.retry = retry.Config{
		MaxAttempts:  cfg.RetryCount + 1,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		Retryable:    errors.IsTransient,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.retried.Add(1)
			s.logger.Debug("Retrying metrics POST", "attempt", attempt, "delay", delay, "error", err)
		},
	}
	return s, nil
}

// Name implements output.MetricsSink.
func (s *Sink) Name() string { return "http" }

// PublishMetrics implements output.MetricsSink. Network failures, 429 and 5xx
// answers are retried; other non-2xx answers fail at once.
func (s *Sink) PublishMetrics(ctx context.Context, m quality.SamplerMetrics) error {
	data, err := s.codec.Marshal(m)
	if err != nil {
		return errors.WrapInvalid(err, "httppost", "PublishMetrics", "encode record")
	}
	s.lastActivity.Store(time.Now().UnixNano())

	err = retry.Do(ctx, s.retry, func() error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return s.post(ctx, data)
	})
	if err != nil {
		s.failed.Add(1)
		s.lastError.Store(err.Error())
		return errors.Wrap(err, "httppost", "PublishMetrics", fmt.Sprintf("post window %d", m.WindowSeq))
	}
	s.sent.Add(1)
	s.lastError.Store("")
	return nil
}

func (s *Sink) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return errors.WrapInvalid(err, "httppost", "post", "build request")
	}
	req.Header.Set("Content-Type", s.codec.ContentType())
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "httppost", "post", "send request")
	}
	defer resp.Body.Close()
	// Drain so the connection is reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errors.WrapTransient(fmt.Errorf("HTTP %s", resp.Status), "httppost", "post", "endpoint unavailable")
	default:
		return errors.WrapFatal(fmt.Errorf("HTTP %s", resp.Status), "httppost", "post", "endpoint rejected record")
	}
}

// Close releases idle connections.
func (s *Sink) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

// Stats returns the records sent, retried and failed.
func (s *Sink) Stats() (sent, retried, failed uint64) {
	return s.sent.Load(), s.retried.Load(), s.failed.Load()
}

// Meta implements component.Discoverable.
func (s *Sink) Meta() component.Metadata {
	return component.Metadata{
		Name:        "http",
		Type:        "output",
		Description: "POSTs window metrics to " + s.cfg.URL,
		Version:     "0.1.0",
	}
}

// Health implements component.Discoverable. A failed delivery is reported
// as LastError until the next record gets through.
func (s *Sink) Health() component.HealthStatus {
	hs := component.HealthStatus{
		Healthy:    true,
		LastCheck:  time.Now(),
		ErrorCount: int(s.failed.Load()),
		Uptime:     time.Since(s.startTime),
	}
	if msg, ok := s.lastError.Load().(string); ok && msg != "" {
		hs.LastError = msg
	}
	return hs
}

// DataFlow implements component.Discoverable.
func (s *Sink) DataFlow() component.FlowMetrics {
	sent, failed := s.sent.Load(), s.failed.Load()
	var errorRate, perSecond float64
	if total := sent + failed; total > 0 {
		errorRate = float64(failed) / float64(total)
	}
	if up := time.Since(s.startTime).Seconds(); up > 0 {
		perSecond = float64(sent) / up
	}
	var last time.Time
	if ns := s.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      last,
	}
}
