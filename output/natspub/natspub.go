// Package natspub publishes metrics records to NATS.
//
// Each record goes to "<subject_prefix>.<session_id>", encoded with the
// configured codec. When a stream is named the subjects are captured by a
// JetStream stream and each publish waits for its acknowledgement. When a
// latest bucket is named the newest record per session is also kept in a
// key-value bucket under the session id.
package natspub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/bcistream/codec"
	"github.com/c360/bcistream/descriptor"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/natsclient"
	"github.com/c360/bcistream/output"
	"github.com/c360/bcistream/quality"
)

// Config configures the publisher.
type Config struct {
	SubjectPrefix     string `json:"subject_prefix" yaml:"subject_prefix"`
	DescriptorSubject string `json:"descriptor_subject" yaml:"descriptor_subject"`
	Format            string `json:"format" yaml:"format"`
	// Stream enables JetStream persistence when set.
	Stream       string `json:"stream,omitempty" yaml:"stream,omitempty"`
	LatestBucket string `json:"latest_bucket,omitempty" yaml:"latest_bucket,omitempty"`
	// Reports attaches node identity from the profile to every record.
	Reports bool `json:"reports" yaml:"reports"`
}

// DefaultConfig returns core-NATS JSON publishing on bci.metrics.
func DefaultConfig() Config {
	return Config{
		SubjectPrefix:     "bci.metrics",
		DescriptorSubject: "bci.descriptor",
		Format:            string(codec.JSON),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SubjectPrefix == "" {
		return errors.Invalidf(errors.ErrMissingConfig, "natspub.Config", "Validate", "subject_prefix is required")
	}
	if strings.ContainsAny(c.SubjectPrefix, " *>") || strings.HasSuffix(c.SubjectPrefix, ".") {
		return errors.Invalidf(errors.ErrInvalidConfig, "natspub.Config", "Validate",
			"subject_prefix %q is not a literal subject", c.SubjectPrefix)
	}
	if _, err := codec.ParseFormat(c.Format); err != nil {
		return err
	}
	return nil
}

// Deps holds runtime dependencies for the publisher.
type Deps struct {
	Config Config
	Client *natsclient.Client
	// Profile is published once by Start and attached to records when
	// Config.Reports is set.
	Profile *descriptor.NodeProfile
	Logger  *slog.Logger
}

// Publisher is an output.MetricsSink backed by NATS.
type Publisher struct {
	cfg     Config
	client  *natsclient.Client
	codec   codec.Codec
	profile *descriptor.NodeProfile
	logger  *slog.Logger

	mu     sync.Mutex
	latest jetstream.KeyValue
	ready  bool

	published atomic.Uint64
}

var _ output.MetricsSink = (*Publisher)(nil)

// New validates deps and returns an unstarted publisher.
func New(deps Deps) (*Publisher, error) {
	if deps.Client == nil {
		return nil, errors.Invalidf(errors.ErrMissingConfig, "natspub", "New", "NATS client is required")
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Config.Reports && deps.Profile == nil {
		return nil, errors.Invalidf(errors.ErrMissingConfig, "natspub", "New", "reports need a node profile")
	}
	c, err := codec.New(deps.Config.Format)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var profile *descriptor.NodeProfile
	if deps.Profile != nil {
		p := deps.Profile.Clone()
		profile = &p
	}
	return &Publisher{
		cfg:     deps.Config,
		client:  deps.Client,
		codec:   c,
		profile: profile,
		logger:  logger.With("component", "natspub", "prefix", deps.Config.SubjectPrefix),
	}, nil
}

// Name implements output.MetricsSink.
func (p *Publisher) Name() string { return "nats" }

// Subject returns the subject records for sessionID are published on.
func (p *Publisher) Subject(sessionID string) string {
	return p.cfg.SubjectPrefix + "." + sessionID
}

// Start prepares JetStream resources and publishes the node profile.
// The client must already be connected.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}

	if p.cfg.Stream != "" {
		_, err := p.client.EnsureStream(ctx, jetstream.StreamConfig{
			Name:        p.cfg.Stream,
			Description: "BCI window metrics",
			Subjects:    []string{p.cfg.SubjectPrefix + ".>"},
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			return errors.Wrap(err, "natspub", "Start", "ensure stream")
		}
	}
	if p.cfg.LatestBucket != "" {
		kv, err := p.client.KeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      p.cfg.LatestBucket,
			Description: "Latest metrics per session",
			History:     1,
		})
		if err != nil {
			return errors.Wrap(err, "natspub", "Start", "open latest bucket")
		}
		p.latest = kv
	}

	if p.profile != nil && p.cfg.DescriptorSubject != "" {
		data, err := p.codec.Marshal(p.profile)
		if err != nil {
			return errors.WrapInvalid(err, "natspub", "Start", "encode node profile")
		}
		if err := p.client.Publish(ctx, p.cfg.DescriptorSubject, data); err != nil {
			return errors.Wrap(err, "natspub", "Start", "publish node profile")
		}
	}

	p.ready = true
	p.logger.Info("Metrics publisher ready",
		"stream", p.cfg.Stream, "latest_bucket", p.cfg.LatestBucket, "format", p.codec.Format())
	return nil
}

// PublishMetrics implements output.MetricsSink.
func (p *Publisher) PublishMetrics(ctx context.Context, m quality.SamplerMetrics) error {
	p.mu.Lock()
	ready, latest := p.ready, p.latest
	p.mu.Unlock()
	if !ready {
		return errors.WrapTransient(errors.ErrNotStarted, "natspub", "PublishMetrics", "check started")
	}

	var record any = m
	if p.cfg.Reports {
		record = descriptor.NewReport(m, *p.profile)
	}
	data, err := p.codec.Marshal(record)
	if err != nil {
		return errors.WrapInvalid(err, "natspub", "PublishMetrics", "encode record")
	}

	subject := p.Subject(m.SessionID)
	if p.cfg.Stream != "" {
		err = p.client.PublishToStream(ctx, subject, data)
	} else {
		err = p.client.Publish(ctx, subject, data)
	}
	if err != nil {
		return errors.Wrap(err, "natspub", "PublishMetrics", fmt.Sprintf("publish to %s", subject))
	}

	if latest != nil {
		if _, err := latest.Put(ctx, m.SessionID, data); err != nil {
			return errors.WrapTransient(err, "natspub", "PublishMetrics", "update latest bucket")
		}
	}

	p.published.Add(1)
	return nil
}

// Published returns the number of records sent.
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Close flushes pending publishes. The client stays open; its owner closes it.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	ready := p.ready
	p.ready = false
	p.latest = nil
	p.mu.Unlock()
	if !ready {
		return nil
	}
	if err := p.client.Flush(ctx); err != nil {
		return errors.Wrap(err, "natspub", "Close", "flush")
	}
	p.logger.Info("Metrics publisher closed", "published", p.published.Load())
	return nil
}
