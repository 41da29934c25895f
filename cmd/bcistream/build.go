package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/adapter/edfreplay"
	"github.com/c360/bcistream/adapter/simulated"
	"github.com/c360/bcistream/adapter/wsstream"
	"github.com/c360/bcistream/component"
	"github.com/c360/bcistream/config"
	"github.com/c360/bcistream/connector"
	"github.com/c360/bcistream/descriptor"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/health"
	"github.com/c360/bcistream/metric"
	"github.com/c360/bcistream/natsclient"
	"github.com/c360/bcistream/output"
	"github.com/c360/bcistream/output/edfrec"
	"github.com/c360/bcistream/output/httppost"
	"github.com/c360/bcistream/output/jsonl"
	"github.com/c360/bcistream/output/natspub"
	"github.com/c360/bcistream/output/promsink"
	wsfeed "github.com/c360/bcistream/output/websocket"
	"github.com/c360/bcistream/pkg/retry"
	"github.com/c360/bcistream/pkg/tlsutil"
	"github.com/c360/bcistream/quality"
	"github.com/c360/bcistream/sampler"
	"github.com/c360/bcistream/storage/objectstore"
)

const samplerName = "sampler"

// app is the wired pipeline: one sampler service plus its transports.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *metric.MetricsRegistry
	nats      *natsclient.Client // nil when NATS is disabled
	archive   *objectstore.Store // nil when archiving is disabled
	output    *output.Multi
	feed      *wsfeed.Sink // nil when the live feed is disabled
	service   *sampler.Service
	manager   *component.Manager
	monitor   *health.Monitor
	reporters healthReporters
	server    *metric.Server // nil when the metrics server is disabled
	serverErr chan error
}

// build wires every component named by cfg. Nothing is started except the
// NATS connection, which the publisher needs to prepare its stream, and the
// live feed listener.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  metric.NewMetricsRegistry(),
		manager:   component.NewManager(logger),
		monitor:   health.NewMonitor(),
		reporters: healthReporters{},
		serverErr: make(chan error, 1),
	}
	defer func() {
		if err != nil {
			a.release(ctx)
		}
	}()

	src, err := buildAdapter(cfg, a.registry, logger)
	if err != nil {
		return nil, err
	}

	smp, err := sampler.New(sampler.Config{
		Session:           cfg.Session,
		Estimator:         buildEstimator(cfg),
		WindowCapacity:    cfg.Pipeline.WindowCapacity,
		MaxPendingWindows: cfg.Pipeline.MaxPendingWindows,
	})
	if err != nil {
		return nil, err
	}

	profile := nodeProfile(cfg)
	logger.Info("Node profile", "node_id", profile.NodeID, "firmware", profile.FirmwareVersion,
		"eeg_channels_active", profile.EEGChannelsActive)
	if d := cfg.Node.Disk; d != nil {
		logger.Info("Disk connector configured", "pnp_class_guid", d.PnPClassGUID,
			"kernel_device_path", d.KernelDevicePath, "require_unique_id", d.RequireUniqueID)
	}

	if cfg.NATS.Enabled {
		if a.nats, err = connectNATS(ctx, cfg.NATS, a.registry, logger); err != nil {
			return nil, err
		}
		a.reporters["nats"] = natsHealth(a.nats)
		if cfg.NATS.Archive.Enabled {
			if a.archive, err = objectstore.New(ctx, a.nats, cfg.NATS.Archive.Config, a.registry, logger); err != nil {
				return nil, err
			}
		}
	}

	if a.output, err = a.buildOutputs(ctx, &profile); err != nil {
		return nil, err
	}

	a.service, err = sampler.NewService(sampler.Deps{
		Name:            samplerName,
		Config:          serviceConfig(cfg.Pipeline),
		Sampler:         smp,
		Connector:       connector.New(src),
		Output:          a.output,
		MetricsRegistry: a.registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	if err := a.manager.Add(samplerName, a.service); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry,
			metric.WithHealthHandler(health.Handler(appName, a.monitor, a.manager, a.reporters)))
	}
	return a, nil
}

func buildAdapter(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (adapter.Adapter, error) {
	switch cfg.Adapter.Type {
	case config.AdapterSimulated:
		return simulated.New(simulated.Deps{Config: cfg.Simulated(), MetricsRegistry: registry, Logger: logger})
	case config.AdapterEDF:
		return edfreplay.New(cfg.EDFReplay(), logger)
	case config.AdapterWebSocket:
		return wsstream.New(wsstream.Deps{Config: cfg.Adapter.WebSocket, MetricsRegistry: registry, Logger: logger})
	default:
		return nil, errors.Invalidf(errors.ErrInvalidConfig, "main", "buildAdapter",
			"unknown adapter type %q", cfg.Adapter.Type)
	}
}

func buildEstimator(cfg *config.Config) quality.Estimator {
	if cfg.Pipeline.Estimator == config.EstimatorReference {
		return quality.Fixed(quality.ReferenceScores)
	}
	return quality.SignalEstimator{
		SampleRateHz:        cfg.Session.SampleRateHz,
		ArtifactThresholdUv: float32(cfg.Pipeline.ArtifactThresholdUv),
	}
}

func nodeProfile(cfg *config.Config) descriptor.NodeProfile {
	if cfg.Node.Profile != nil {
		return cfg.Node.Profile.Clone()
	}
	return descriptor.DefaultNodeProfile()
}

func serviceConfig(p config.PipelineConfig) sampler.ServiceConfig {
	startRetry := retry.DefaultConfig()
	if p.StartRetry.MaxAttempts > 0 {
		startRetry.MaxAttempts = p.StartRetry.MaxAttempts
	}
	if p.StartRetry.InitialDelay > 0 {
		startRetry.InitialDelay = p.StartRetry.InitialDelay.D()
	}
	if p.StartRetry.MaxDelay > 0 {
		startRetry.MaxDelay = p.StartRetry.MaxDelay.D()
	}
	return sampler.ServiceConfig{
		PollTimeout: p.PollTimeout.D(),
		QueueSize:   p.QueueSize,
		StartRetry:  startRetry,
		Restart:     p.Restart,
	}
}

func connectNATS(ctx context.Context, cfg config.NATSConfig, registry *metric.MetricsRegistry,
	logger *slog.Logger) (*natsclient.Client, error) {
	connectRetry := retry.Quick()
	if cfg.ConnectAttempts > 0 {
		connectRetry.MaxAttempts = cfg.ConnectAttempts
	}

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithClientName(cfg.ClientName),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait.D()),
		natsclient.WithTimeout(cfg.Timeout.D()),
		natsclient.WithConnectRetry(connectRetry),
		natsclient.WithMetrics(registry.CoreMetrics()),
		natsclient.WithDisconnectCallback(func(err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		natsclient.WithReconnectCallback(func() {
			logger.Info("NATS reconnected")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	if cfg.TLS.Configured() {
		tlsConfig, err := tlsutil.ClientConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, natsclient.WithTLSConfig(tlsConfig))
	}

	client, err := natsclient.NewClient(cfg.URL(), opts...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "main", "connectNATS", "create NATS client")
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "main", "connectNATS", "connect to NATS")
	}
	logger.Info("Connected to NATS", "url", client.URL())
	return client, nil
}

// buildOutputs creates the enabled sinks. On failure the sinks already
// created are closed.
func (a *app) buildOutputs(ctx context.Context, profile *descriptor.NodeProfile) (*output.Multi, error) {
	var (
		metricSinks []output.MetricsSink
		sampleSinks []output.SampleSink
	)
	fail := func(err error) (*output.Multi, error) {
		partial := output.NewMulti(output.WithMetricsSinks(metricSinks...), output.WithSampleSinks(sampleSinks...))
		return nil, stderrors.Join(err, partial.Close(ctx))
	}

	outs := a.cfg.Outputs
	if outs.Log {
		metricSinks = append(metricSinks, output.NewLogSink(a.logger, slog.LevelInfo))
	}
	if outs.Prometheus {
		s, err := promsink.New(a.registry)
		if err != nil {
			return fail(err)
		}
		metricSinks = append(metricSinks, s)
	}
	if outs.JSONL.Enabled {
		s, err := jsonl.New(outs.JSONL.Config, a.logger)
		if err != nil {
			return fail(err)
		}
		metricSinks = append(metricSinks, s)
		a.reporters["jsonl"] = s.Health
	}
	if a.nats != nil {
		pub, err := natspub.New(natspub.Deps{
			Config:  a.cfg.NATS.Publisher,
			Client:  a.nats,
			Profile: profile,
			Logger:  a.logger,
		})
		if err != nil {
			return fail(err)
		}
		if err := pub.Start(ctx); err != nil {
			return fail(err)
		}
		metricSinks = append(metricSinks, pub)
	}
	if outs.HTTP.Enabled {
		s, err := httppost.New(outs.HTTP.Config, a.logger)
		if err != nil {
			return fail(err)
		}
		metricSinks = append(metricSinks, s)
		a.reporters["http"] = s.Health
	}
	if outs.WebSocket.Enabled {
		feed, err := wsfeed.New(wsfeed.Deps{
			Config:          outs.WebSocket.Config,
			MetricsRegistry: a.registry,
			Logger:          a.logger,
		})
		if err != nil {
			return fail(err)
		}
		metricSinks = append(metricSinks, feed)
		if err := feed.Start(ctx); err != nil {
			return fail(err)
		}
		a.feed = feed
		a.reporters["websocket"] = feed.Health
	}
	if outs.EDF.Enabled {
		rec, err := edfrec.New(outs.EDF.Config, a.cfg.Session.Layout(), a.cfg.Session.SampleRateHz, a.logger)
		if err != nil {
			return fail(err)
		}
		sampleSinks = append(sampleSinks, rec)
	}

	m := output.NewMulti(
		output.WithMetricsSinks(metricSinks...),
		output.WithSampleSinks(sampleSinks...),
		output.WithDeliveryMetrics(a.registry.CoreMetrics()),
		output.WithLogger(a.logger),
	)
	a.logger.Info("Outputs configured", "metrics_sinks", m.MetricsSinkNames(), "records_samples", m.RecordsSamples())
	return m, nil
}

// start runs the sampler service and the metrics server.
func (a *app) start(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				a.serverErr <- err
			}
		}()
		a.logger.Info("Metrics server started", "address", a.server.Address())
	}
	return nil
}

// shutdown stops the service, which flushes and closes the outputs, then the
// metrics server. The closed recordings are archived before the NATS
// connection goes.
func (a *app) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := a.manager.Stop(a.cfg.Pipeline.StopTimeout.D()); err != nil {
		errs = append(errs, err)
	}
	if a.server != nil {
		if err := a.server.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.archiveRecordings(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// archiveRecordings uploads the session's recording files, if archiving is on.
func (a *app) archiveRecordings(ctx context.Context) error {
	if a.archive == nil {
		return nil
	}
	var paths []string
	if a.cfg.Outputs.EDF.Enabled {
		paths = append(paths, a.cfg.Outputs.EDF.Path)
	}
	if a.cfg.Outputs.JSONL.Enabled {
		paths = append(paths, a.cfg.Outputs.JSONL.Path())
	}
	keys, err := a.archive.Archive(ctx, a.service.Sampler().SessionID(), paths...)
	a.logger.Info("Session archived", "bucket", a.cfg.NATS.Archive.Bucket, "objects", keys)
	return err
}

// release frees what build or a failed start left open. The service closes
// the outputs only once it has started.
func (a *app) release(ctx context.Context) {
	if a.output != nil {
		if err := a.output.Close(ctx); err != nil {
			a.logger.Warn("Closing outputs failed", "error", err)
		}
	}
	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			a.logger.Warn("Closing NATS connection failed", "error", err)
		}
	}
}

// healthReporters reports sources that are not managed components.
type healthReporters map[string]func() component.HealthStatus

// Health implements health.Reporter.
func (r healthReporters) Health() map[string]component.HealthStatus {
	out := make(map[string]component.HealthStatus, len(r))
	for name, fn := range r {
		out[name] = fn()
	}
	return out
}

func natsHealth(c *natsclient.Client) func() component.HealthStatus {
	return func() component.HealthStatus {
		hs := component.HealthStatus{
			Healthy:    c.IsHealthy(),
			LastCheck:  time.Now(),
			ErrorCount: int(c.Failures()),
		}
		if !hs.Healthy {
			hs.LastError = "nats " + c.Status().String()
		}
		return hs
	}
}
