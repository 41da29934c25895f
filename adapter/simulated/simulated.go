// Package simulated provides a synthetic multi-modal biosignal adapter.
//
// The adapter paces frames in real time from a background goroutine. It can
// inject EEG artifacts, drop whole frames (visible as timestamp gaps) and add
// timestamp jitter, so the downstream quality metrics have something to measure.
package simulated

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/adapter/eventqueue"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/metric"
	"github.com/c360/bcistream/pkg/timestamp"
	"github.com/c360/bcistream/sample"
)

// Config configures the simulated device.
type Config struct {
	Layout       sample.Layout `json:"layout" yaml:"layout"`
	SampleRateHz int           `json:"sample_rate_hz" yaml:"sample_rate_hz"`
	FrameSize    int           `json:"frame_size" yaml:"frame_size"` // samples per SignalFrame
	DeviceID     string        `json:"device_id" yaml:"device_id"`

	ArtifactProb float64       `json:"artifact_prob" yaml:"artifact_prob"` // per sample
	DropProb     float64       `json:"drop_prob" yaml:"drop_prob"`         // per frame
	JitterMax    time.Duration `json:"jitter_max" yaml:"jitter_max"`       // must stay below half the sample period
	ErrorEvery   int           `json:"error_every" yaml:"error_every"`     // emit an ErrorEvent every N frames, 0 disables

	Seed          uint64 `json:"seed" yaml:"seed"`
	QueueCapacity int    `json:"queue_capacity" yaml:"queue_capacity"`
}

// DefaultConfig returns a clean 250 Hz headset stream in 10-sample frames.
func DefaultConfig() Config {
	return Config{
		Layout:        sample.DefaultLayout,
		SampleRateHz:  250,
		FrameSize:     10,
		DeviceID:      "sim-0",
		Seed:          1,
		QueueCapacity: eventqueue.DefaultCapacity,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Layout.Check(); err != nil {
		return err
	}
	switch {
	case c.SampleRateHz <= 0:
		return invalid("sample_rate_hz must be positive, got %d", c.SampleRateHz)
	case c.FrameSize <= 0:
		return invalid("frame_size must be positive, got %d", c.FrameSize)
	case c.ArtifactProb < 0 || c.ArtifactProb > 1:
		return invalid("artifact_prob must be in [0,1], got %g", c.ArtifactProb)
	case c.DropProb < 0 || c.DropProb >= 1:
		return invalid("drop_prob must be in [0,1), got %g", c.DropProb)
	case c.JitterMax < 0 || c.JitterMax >= c.period()/2:
		return invalid("jitter_max %v must be below half the sample period %v", c.JitterMax, c.period())
	case c.ErrorEvery < 0:
		return invalid("error_every must not be negative, got %d", c.ErrorEvery)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.Invalidf(errors.ErrInvalidConfig, "simulated.Config", "Validate", format, args...)
}

func (c Config) period() time.Duration {
	if c.SampleRateHz <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.SampleRateHz)
}

// Deps holds runtime dependencies for the simulated adapter.
type Deps struct {
	Config          Config
	MetricsRegistry *metric.MetricsRegistry // optional, exports queue stats
	Logger          *slog.Logger
}

// Stats counts generated frames.
type Stats struct {
	FramesSent    uint64
	FramesDropped uint64
	Artifacts     uint64
	QueueDrops    int64
}

// Adapter is the simulated device.
type Adapter struct {
	cfg      Config
	registry *metric.MetricsRegistry
	logger   *slog.Logger

	mu      sync.Mutex
	queue   *eventqueue.Queue
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	starts  int

	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
	artifacts     atomic.Uint64
}

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ adapter.Named   = (*Adapter)(nil)
)

// New validates the configuration and returns a stopped adapter.
func New(deps Deps) (*Adapter, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Config.DeviceID == "" {
		deps.Config.DeviceID = "sim-0"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:      deps.Config,
		registry: deps.MetricsRegistry,
		logger:   logger.With("component", "simulated-adapter", "device", deps.Config.DeviceID),
	}, nil
}

// Name implements adapter.Named.
func (a *Adapter) Name() string { return "simulated" }

// StartStream starts the generator. It is a no-op while running.
func (a *Adapter) StartStream(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}

	// Each run gets its own queue so a restart never sees a closed one.
	// Only the first queue exports metrics; collector names must stay unique.
	var registry *metric.MetricsRegistry
	if a.starts == 0 {
		registry = a.registry
	}
	q, err := eventqueue.New(a.cfg.QueueCapacity, registry, "simulated_events")
	if err != nil {
		return errors.WrapFatal(err, "simulated", "StartStream", "create event queue")
	}
	if err := q.Push(adapter.Connected{DeviceID: a.cfg.DeviceID}); err != nil {
		return errors.Wrap(err, "simulated", "StartStream", "announce device")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.queue = q
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true
	a.starts++

	// Seed varies per run so restarts do not replay identical noise.
	gen := newGenerator(a.cfg.Layout, float64(a.cfg.SampleRateHz), a.cfg.Seed+uint64(a.starts-1))
	rng := rand.New(rand.NewPCG(a.cfg.Seed, uint64(a.starts)))
	go a.run(runCtx, q, gen, rng, a.done)

	a.logger.Info("Simulated stream started",
		"rate_hz", a.cfg.SampleRateHz, "frame_size", a.cfg.FrameSize)
	return nil
}

// StopStream stops the generator, queues a Disconnected event and closes the queue.
func (a *Adapter) StopStream() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	cancel, done, q := a.cancel, a.done, a.queue
	a.mu.Unlock()

	cancel()
	<-done
	_ = q.Push(adapter.Disconnected{Reason: "stream stopped"})
	q.Close()

	a.logger.Info("Simulated stream stopped",
		"frames_sent", a.framesSent.Load(), "frames_dropped", a.framesDropped.Load())
	return nil
}

// PollEvents waits on the current run's queue.
func (a *Adapter) PollEvents(ctx context.Context, timeout time.Duration) ([]adapter.Event, error) {
	a.mu.Lock()
	q := a.queue
	a.mu.Unlock()
	if q == nil {
		return nil, errors.ErrAdapterStopped
	}
	return q.Wait(ctx, timeout)
}

// Stats returns generator counters across all runs.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	q := a.queue
	a.mu.Unlock()

	s := Stats{
		FramesSent:    a.framesSent.Load(),
		FramesDropped: a.framesDropped.Load(),
		Artifacts:     a.artifacts.Load(),
	}
	if q != nil {
		s.QueueDrops = q.Dropped()
	}
	return s
}

func (a *Adapter) run(ctx context.Context, q *eventqueue.Queue, gen *generator, rng *rand.Rand, done chan<- struct{}) {
	defer close(done)

	period := a.cfg.period()
	frameInterval := period * time.Duration(a.cfg.FrameSize)
	base := timestamp.Now()
	var index uint64
	var frames int

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		samples := make([]sample.Sample, 0, a.cfg.FrameSize)
		for range a.cfg.FrameSize {
			ts := base + index*uint64(period)
			if a.cfg.JitterMax > 0 {
				ts += uint64(rng.Int64N(int64(a.cfg.JitterMax)))
			}
			artifact := a.cfg.ArtifactProb > 0 && rng.Float64() < a.cfg.ArtifactProb
			if artifact {
				a.artifacts.Add(1)
			}
			samples = append(samples, gen.next(ts, artifact))
			index++
		}
		frames++

		if a.cfg.ErrorEvery > 0 && frames%a.cfg.ErrorEvery == 0 {
			_ = q.Push(adapter.ErrorEvent{Message: fmt.Sprintf("simulated fault after frame %d", frames)})
		}
		if a.cfg.DropProb > 0 && rng.Float64() < a.cfg.DropProb {
			a.framesDropped.Add(1)
			continue
		}
		if err := q.Push(adapter.SignalFrame{Samples: samples}); err != nil {
			return
		}
		a.framesSent.Add(1)
	}
}
