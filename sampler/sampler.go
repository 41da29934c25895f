package sampler

import (
	stderrors "errors"
	"time"

	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/pkg/timestamp"
	"github.com/c360/bcistream/quality"
	"github.com/c360/bcistream/sample"
	"github.com/c360/bcistream/session"
	"github.com/c360/bcistream/window"
)

// Config configures a Sampler.
type Config struct {
	Session session.Config

	// Estimator scores non-empty windows. Nil uses a SignalEstimator at the
	// session rate.
	Estimator quality.Estimator

	// WindowCapacity and MaxPendingWindows bound the windowing engine.
	// Zero uses the engine defaults.
	WindowCapacity    int
	MaxPendingWindows int
}

// IngestResult counts what happened to one batch of samples.
type IngestResult struct {
	Accepted   int
	Mismatched int
	OutOfOrder int
}

// Dropped returns the number of rejected samples.
func (r IngestResult) Dropped() int { return r.Mismatched + r.OutOfOrder }

// Sampler owns one session: its windowing engine and metrics computer.
type Sampler struct {
	session  *session.Session
	engine   *window.Engine
	computer *quality.Computer
	clock    func() uint64
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithClock replaces the Unix-nanosecond reference clock used by NowUnixNs.
func WithClock(now func() uint64) Option {
	return func(s *Sampler) {
		if now != nil {
			s.clock = now
		}
	}
}

// New validates cfg, starts a session and builds the engine.
func New(cfg Config, opts ...Option) (*Sampler, error) {
	sess, err := session.New(cfg.Session)
	if err != nil {
		return nil, err
	}

	engine, err := window.NewEngine(window.Config{
		Duration:   cfg.Session.WindowDuration(),
		Overlap:    cfg.Session.Overlap(),
		Layout:     cfg.Session.Layout(),
		Capacity:   cfg.WindowCapacity,
		MaxPending: cfg.MaxPendingWindows,
	})
	if err != nil {
		return nil, err
	}

	estimator := cfg.Estimator
	if estimator == nil {
		estimator = quality.SignalEstimator{SampleRateHz: cfg.Session.SampleRateHz}
	}

	s := &Sampler{
		session:  sess,
		engine:   engine,
		computer: quality.NewComputer(sess.ID(), estimator),
		clock:    timestamp.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Session returns the session this sampler reports for.
func (s *Sampler) Session() *session.Session { return s.session }

// SessionID returns the session identifier.
func (s *Sampler) SessionID() string { return s.session.ID() }

// Ingest pushes samples into the current window in order. Rejected samples
// are counted and skipped; the window continues with the rest.
func (s *Sampler) Ingest(samples []sample.Sample) IngestResult {
	var res IngestResult
	for _, smp := range samples {
		err := s.engine.Push(smp)
		switch {
		case err == nil:
			res.Accepted++
		case stderrors.Is(err, errors.ErrChannelMismatch):
			res.Mismatched++
		default:
			res.OutOfOrder++
		}
	}
	return res
}

// Flush closes the partial window. It reports false when nothing new
// arrived since the last window closed.
func (s *Sampler) Flush() bool { return s.engine.Flush() }

// Windows drains every completed window, oldest first.
func (s *Sampler) Windows() []window.Window {
	var out []window.Window
	for {
		w, ok := s.engine.Next()
		if !ok {
			return out
		}
		out = append(out, w)
	}
}

// AcquireWindow returns the next completed window, or an empty one when
// none is ready.
func (s *Sampler) AcquireWindow() window.Window {
	w, _ := s.engine.Next()
	return w
}

// ComputeMetrics measures w against nowNs.
func (s *Sampler) ComputeMetrics(w window.Window, nowNs uint64) quality.SamplerMetrics {
	return s.computer.Compute(w, nowNs)
}

// ErrorMetrics returns the error-state record for err, stamped now.
func (s *Sampler) ErrorMetrics(err error) quality.SamplerMetrics {
	return s.computer.ErrorMetrics(err, s.NowUnixNs())
}

// NowUnixNs returns the reference clock in Unix nanoseconds.
func (s *Sampler) NowUnixNs() uint64 { return s.clock() }

// Reset drops the partial window and ordering state after the source
// restarts its clock. Completed windows stay queued.
func (s *Sampler) Reset() { s.engine.Reset() }

// State reports the windowing state.
func (s *Sampler) State() window.State { return s.engine.State() }

// Stats returns the windowing counters.
func (s *Sampler) Stats() window.Stats { return s.engine.Stats() }

// MaxLatency returns the advisory p99 latency budget.
func (s *Sampler) MaxLatency() time.Duration {
	return time.Duration(s.session.Config().MaxLatencyMs * float64(time.Millisecond))
}
