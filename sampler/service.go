package sampler

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/component"
	"github.com/c360/bcistream/connector"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/metric"
	"github.com/c360/bcistream/output"
	"github.com/c360/bcistream/pkg/retry"
	"github.com/c360/bcistream/quality"
)

// Service status values reported to metric.Metrics.ServiceStatus.
const (
	statusStopped = iota
	statusStarting
	statusRunning
	statusStopping
	statusFailed
)

// ServiceConfig tunes the acquisition loop.
type ServiceConfig struct {
	PollTimeout time.Duration
	// QueueSize > 0 polls on a separate goroutine and hands batches to the
	// windowing goroutine through a channel of this size.
	QueueSize  int
	StartRetry retry.Config
	// Restart restarts the adapter after a transport failure instead of
	// ending acquisition.
	Restart bool
}

// DefaultServiceConfig polls every 100ms inline and retries start five times.
func DefaultServiceConfig() ServiceConfig {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 5
	return ServiceConfig{
		PollTimeout: 100 * time.Millisecond,
		StartRetry:  cfg,
	}
}

// Validate checks the configuration.
func (c ServiceConfig) Validate() error {
	if c.PollTimeout <= 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "sampler.ServiceConfig", "Validate",
			"poll timeout must be positive, got %s", c.PollTimeout)
	}
	if c.QueueSize < 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "sampler.ServiceConfig", "Validate",
			"queue size must not be negative, got %d", c.QueueSize)
	}
	return nil
}

// Deps holds runtime dependencies for the sampler service.
type Deps struct {
	Name            string
	Config          ServiceConfig
	Sampler         *Sampler
	Connector       *connector.Connector
	Output          *output.Multi           // nil delivers nowhere
	MetricsRegistry *metric.MetricsRegistry // nil disables metrics
	Logger          *slog.Logger
}

// Service drives one connector through a Sampler and delivers every window's
// metrics to the outputs. It implements component.LifecycleComponent.
type Service struct {
	name      string
	cfg       ServiceConfig
	sampler   *Sampler
	connector *connector.Connector
	output    *output.Multi
	metrics   *metric.Metrics
	logger    *slog.Logger
	sessionID string

	mu        sync.Mutex
	running   bool
	done      chan struct{}
	startTime time.Time
	lastErr   error

	stopping atomic.Bool
	active   atomic.Bool
	ended    atomic.Bool

	samples      atomic.Uint64
	dropped      atomic.Uint64
	windows      atomic.Uint64
	violations   atomic.Uint64
	errorCount   atomic.Uint64
	lastActivity atomic.Value

	// Owned by the acquisition goroutine, then by Stop once it has exited.
	disconnected bool
	idleSent     bool
}

var _ component.LifecycleComponent = (*Service)(nil)

// NewService validates deps and returns a stopped service.
func NewService(deps Deps) (*Service, error) {
	if deps.Sampler == nil {
		return nil, errors.Invalidf(errors.ErrMissingConfig, "sampler.Service", "NewService", "sampler is required")
	}
	if deps.Connector == nil {
		return nil, errors.Invalidf(errors.ErrMissingConfig, "sampler.Service", "NewService", "connector is required")
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	name := deps.Name
	if name == "" {
		name = "sampler"
	}
	out := deps.Output
	if out == nil {
		out = output.NewMulti()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		name:      name,
		cfg:       deps.Config,
		sampler:   deps.Sampler,
		connector: deps.Connector,
		output:    out,
		logger:    logger.With("component", name, "session_id", deps.Sampler.SessionID()),
		sessionID: deps.Sampler.SessionID(),
	}
	if deps.MetricsRegistry != nil {
		s.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	s.lastActivity.Store(time.Time{})
	return s, nil
}

// Sampler returns the sampler the service drives.
func (s *Service) Sampler() *Sampler { return s.sampler }

// Initialize reports the stopped status. Dependencies were checked in NewService.
func (s *Service) Initialize() error {
	s.setStatus(statusStopped)
	return nil
}

// Start starts the adapter, retrying transient failures, and launches the
// acquisition loop. It is a no-op while running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.setStatus(statusStarting)

	if err := s.startAdapter(ctx); err != nil {
		s.lastErr = err
		s.setStatus(statusFailed)
		return errors.WrapTransient(err, "sampler.Service", "Start", "start adapter")
	}

	s.running = true
	s.lastErr = nil
	s.startTime = time.Now()
	s.stopping.Store(false)
	s.ended.Store(false)
	s.active.Store(true)
	s.done = make(chan struct{})
	s.setStatus(statusRunning)

	s.logger.Info("Sampler started",
		"adapter", s.connector.Describe(),
		"mode", s.mode(),
		"sinks", s.output.MetricsSinkNames())

	go s.run(ctx, s.done)
	return nil
}

func (s *Service) startAdapter(ctx context.Context) error {
	cfg := s.cfg.StartRetry
	if cfg.Retryable == nil {
		cfg.Retryable = errors.IsTransient
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.recordAdapterError("start")
		s.logger.Warn("Adapter start failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	return retry.Do(ctx, cfg, func() error {
		return s.connector.Start(ctx)
	})
}

func (s *Service) mode() string {
	if s.cfg.QueueSize > 0 {
		return "queued"
	}
	return "inline"
}

// Stop stops the adapter, waits for the loop to drain, then publishes the
// final partial window and closes the outputs.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	done := s.done
	s.mu.Unlock()

	s.stopping.Store(true)
	s.setStatus(statusStopping)

	var errs []error
	if err := s.connector.Stop(); err != nil {
		errs = append(errs, err)
	}

	select {
	case <-done:
	case <-time.After(timeout):
		s.setStatus(statusFailed)
		errs = append(errs, errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"sampler.Service", "Stop", "wait for acquisition loop"))
		return stderrors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.flushAndPublish(ctx)

	if err := s.output.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	s.setStatus(statusStopped)
	s.logger.Info("Sampler stopped",
		"windows", s.windows.Load(),
		"samples", s.samples.Load(),
		"dropped", s.dropped.Load())
	return stderrors.Join(errs...)
}

func (s *Service) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	defer s.active.Store(false)

	if s.cfg.QueueSize > 0 {
		s.runQueued(ctx)
		return
	}
	s.runInline(ctx)
}

// runInline polls, windows and computes on one goroutine. After Stop it keeps
// polling until the adapter has nothing left.
func (s *Service) runInline(ctx context.Context) {
	for {
		events, err := s.poll(ctx)
		if err != nil {
			if !s.handlePollError(ctx, err) {
				return
			}
			continue
		}
		s.handleEvents(ctx, events)
		if ctx.Err() != nil || (s.stopping.Load() && len(events) == 0) {
			return
		}
	}
}

type pollResult struct {
	events []adapter.Event
	err    error
}

// runQueued decouples polling from windowing. Batches keep their order and
// a full queue blocks the poller.
func (s *Service) runQueued(ctx context.Context) {
	for {
		batches := make(chan pollResult, s.cfg.QueueSize)
		go s.produce(ctx, batches)

		var failure error
		for b := range batches {
			if b.err != nil {
				failure = b.err
				continue
			}
			s.handleEvents(ctx, b.events)
		}
		if failure == nil || !s.handlePollError(ctx, failure) {
			return
		}
	}
}

func (s *Service) produce(ctx context.Context, batches chan<- pollResult) {
	defer close(batches)
	for {
		events, err := s.poll(ctx)
		select {
		case batches <- pollResult{events: events, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil || (s.stopping.Load() && len(events) == 0) {
			return
		}
	}
}

func (s *Service) poll(ctx context.Context) ([]adapter.Event, error) {
	start := time.Now()
	events, err := s.connector.NextEvents(ctx, s.cfg.PollTimeout)
	if s.metrics != nil {
		s.metrics.RecordPollDuration(s.connector.Describe(), time.Since(start))
	}
	return events, err
}

// handlePollError reports whether acquisition continues after err.
func (s *Service) handlePollError(ctx context.Context, err error) bool {
	if ctx.Err() != nil || s.stopping.Load() {
		return false
	}
	if s.disconnected && stderrors.Is(err, errors.ErrAdapterStopped) {
		s.ended.Store(true)
		s.logger.Info("Stream ended")
		return false
	}

	s.recordAdapterError("poll")
	s.setLastError(err)
	s.logger.Error("Adapter transport failed", "error", err)

	s.flushAndPublish(ctx)
	s.publish(ctx, s.sampler.ErrorMetrics(err))
	s.idleSent = false

	if !s.cfg.Restart {
		s.setStatus(statusFailed)
		return false
	}
	return s.restart(ctx)
}

func (s *Service) restart(ctx context.Context) bool {
	_ = s.connector.Stop()
	s.sampler.Reset()
	s.disconnected = false

	if err := s.startAdapter(ctx); err != nil {
		if ctx.Err() == nil && !s.stopping.Load() {
			s.setLastError(err)
			s.setStatus(statusFailed)
			s.logger.Error("Adapter restart failed", "error", err)
		}
		return false
	}
	if s.stopping.Load() {
		// Stop raced the restart and found the old stream already stopped.
		_ = s.connector.Stop()
		return false
	}
	s.logger.Info("Adapter restarted")
	return true
}

func (s *Service) handleEvents(ctx context.Context, events []adapter.Event) {
	for _, ev := range events {
		if s.metrics != nil {
			s.metrics.RecordEvent(s.sessionID, ev.Kind())
		}

		switch e := ev.(type) {
		case adapter.Connected:
			s.disconnected = false
			s.logger.Info("Device connected", "device_id", e.DeviceID)
		case adapter.Disconnected:
			s.disconnected = true
			s.logger.Info("Device disconnected", "reason", e.Reason)
			s.flushAndPublish(ctx)
			s.sampler.Reset()
		case adapter.SignalFrame:
			s.handleFrame(ctx, e)
		case adapter.ErrorEvent:
			s.recordAdapterError("event")
			s.setLastError(fmt.Errorf("adapter: %s", e.Message))
			s.logger.Warn("Adapter reported error", "message", e.Message)
		}
	}
}

func (s *Service) handleFrame(ctx context.Context, f adapter.SignalFrame) {
	if len(f.Samples) == 0 {
		return
	}
	s.disconnected = false
	s.idleSent = false
	s.lastActivity.Store(time.Now())

	if s.output.RecordsSamples() {
		if err := s.output.WriteSamples(ctx, f.Samples); err != nil {
			s.errorCount.Add(1)
		}
	}

	res := s.sampler.Ingest(f.Samples)
	s.samples.Add(uint64(res.Accepted))
	s.dropped.Add(uint64(res.Dropped()))
	if s.metrics != nil {
		s.metrics.RecordSamplesAccepted(s.sessionID, res.Accepted)
		s.metrics.RecordSamplesDropped(s.sessionID, "channel_mismatch", res.Mismatched)
		s.metrics.RecordSamplesDropped(s.sessionID, "out_of_order", res.OutOfOrder)
	}
	if res.Dropped() > 0 {
		s.logger.Debug("Samples dropped",
			"channel_mismatch", res.Mismatched,
			"out_of_order", res.OutOfOrder)
	}

	s.publishWindows(ctx)
}

// publishWindows computes and delivers every completed window. It reports
// how many were published.
func (s *Service) publishWindows(ctx context.Context) int {
	ws := s.sampler.Windows()
	budget := s.sampler.MaxLatency()
	for _, w := range ws {
		m := s.sampler.ComputeMetrics(w, s.sampler.NowUnixNs())
		s.windows.Add(1)
		if s.metrics != nil {
			s.metrics.RecordWindow(s.sessionID, w.Reason.String(), w.Len())
		}
		if budget > 0 && float64(m.P99LatencyMs) > float64(budget)/float64(time.Millisecond) {
			s.violations.Add(1)
			if s.metrics != nil {
				s.metrics.RecordLatencyViolation(s.sessionID)
			}
			s.logger.Debug("Window over latency budget",
				"window_seq", m.WindowSeq,
				"p99_latency_ms", m.P99LatencyMs,
				"max_latency_ms", budget.Milliseconds())
		}
		s.publish(ctx, m)
	}
	return len(ws)
}

// flushAndPublish closes the partial window and delivers what is pending.
// With nothing to deliver it publishes one idle record per quiet period.
func (s *Service) flushAndPublish(ctx context.Context) {
	s.sampler.Flush()
	if s.publishWindows(ctx) > 0 {
		s.idleSent = false
		return
	}
	if s.idleSent {
		return
	}
	s.publish(ctx, s.sampler.ComputeMetrics(s.sampler.AcquireWindow(), s.sampler.NowUnixNs()))
	s.idleSent = true
}

func (s *Service) publish(ctx context.Context, m quality.SamplerMetrics) {
	if err := s.output.PublishMetrics(ctx, m); err != nil {
		s.errorCount.Add(1)
	}
}

func (s *Service) recordAdapterError(op string) {
	s.errorCount.Add(1)
	if s.metrics != nil {
		s.metrics.RecordAdapterError(s.sessionID, op)
	}
}

func (s *Service) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Service) setStatus(status int) {
	if s.metrics != nil {
		s.metrics.RecordServiceStatus(s.name, status)
	}
}

// Stats is a snapshot of service activity.
type Stats struct {
	Samples           uint64
	Dropped           uint64
	Windows           uint64
	LatencyViolations uint64
	Errors            uint64
	Ended             bool
}

// Stats returns the service counters.
func (s *Service) Stats() Stats {
	return Stats{
		Samples:           s.samples.Load(),
		Dropped:           s.dropped.Load(),
		Windows:           s.windows.Load(),
		LatencyViolations: s.violations.Load(),
		Errors:            s.errorCount.Load(),
		Ended:             s.ended.Load(),
	}
}

// Meta implements component.Discoverable.
func (s *Service) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        "sampler",
		Description: fmt.Sprintf("BCI sampler for session %s reading from %s", s.sessionID, s.connector.Describe()),
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable. The service is healthy while
// the acquisition loop runs or after the stream ended cleanly.
func (s *Service) Health() component.HealthStatus {
	s.mu.Lock()
	running := s.running
	lastErr := s.lastErr
	startTime := s.startTime
	s.mu.Unlock()

	status := component.HealthStatus{
		Healthy:    running && (s.active.Load() || s.ended.Load()),
		LastCheck:  time.Now(),
		ErrorCount: int(s.errorCount.Load()),
	}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}
	if running {
		status.Uptime = time.Since(startTime)
	}
	return status
}

// DataFlow implements component.Discoverable. Throughput counts accepted
// samples and their float32 payload.
func (s *Service) DataFlow() component.FlowMetrics {
	s.mu.Lock()
	startTime := s.startTime
	s.mu.Unlock()

	samples := s.samples.Load()
	dropped := s.dropped.Load()
	lastActivity, _ := s.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if !startTime.IsZero() {
		if uptime := time.Since(startTime).Seconds(); uptime > 0 {
			perSecond = float64(samples) / uptime
			bytesPerSecond = perSecond * float64(s.sampler.Session().Config().Layout().Total()*4)
		}
	}
	if total := samples + dropped; total > 0 {
		errorRate = float64(dropped) / float64(total)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
