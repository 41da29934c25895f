// Package edfreplay replays an EDF recording as a live biosignal source.
//
// Signals in the file must appear in flattened layout order (EEG, EMG, EOG,
// PPG, EDA), which is how output/edfrec writes them. Samples are re-stamped
// from the wall clock at start, so a replay looks like a fresh acquisition.
package edfreplay

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/OpenPSG/edf"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/pkg/timestamp"
	"github.com/c360/bcistream/sample"
)

// Config configures a replay.
type Config struct {
	Path         string        `json:"path" yaml:"path"`
	Layout       sample.Layout `json:"layout" yaml:"layout"`
	SampleRateHz int           `json:"sample_rate_hz" yaml:"sample_rate_hz"`
	FrameSize    int           `json:"frame_size" yaml:"frame_size"`

	// Speed scales playback: 1 is real time, 2 twice as fast, 0 unpaced.
	Speed float64 `json:"speed" yaml:"speed"`
	// Loop restarts from the first record at end of file instead of disconnecting.
	Loop bool `json:"loop" yaml:"loop"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Layout.Check(); err != nil {
		return err
	}
	switch {
	case c.Path == "":
		return errors.Invalidf(errors.ErrMissingConfig, "edfreplay.Config", "Validate", "path is required")
	case c.SampleRateHz <= 0:
		return invalid("sample_rate_hz must be positive, got %d", c.SampleRateHz)
	case c.FrameSize <= 0:
		return invalid("frame_size must be positive, got %d", c.FrameSize)
	case c.Speed < 0:
		return invalid("speed must not be negative, got %g", c.Speed)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.Invalidf(errors.ErrInvalidConfig, "edfreplay.Config", "Validate", format, args...)
}

// Adapter replays one EDF file. Frames are read lazily inside PollEvents.
type Adapter struct {
	cfg    Config
	period time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	file     *os.File
	signals  []*edf.SignalReader
	scratch  [][]float64
	running  bool
	stopCh   chan struct{}
	pending  []adapter.Event
	started  time.Time
	base     uint64
	index    uint64 // next sample index across loops
	finished bool
}

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ adapter.Named   = (*Adapter)(nil)
)

// New validates cfg and returns a stopped adapter. The file is opened on start.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	scratch := make([][]float64, cfg.Layout.Total())
	for i := range scratch {
		scratch[i] = make([]float64, cfg.FrameSize)
	}
	return &Adapter{
		cfg:     cfg,
		period:  time.Second / time.Duration(cfg.SampleRateHz),
		logger:  logger.With("component", "edf-replay", "path", cfg.Path),
		scratch: scratch,
	}, nil
}

// Name implements adapter.Named.
func (a *Adapter) Name() string { return "edfreplay" }

// StartStream opens the recording. It is a no-op while running.
func (a *Adapter) StartStream(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}

	f, err := os.Open(a.cfg.Path)
	if err != nil {
		return errors.WrapTransient(err, "edfreplay", "StartStream", "open recording")
	}
	signals, err := openSignals(f, a.cfg.Layout.Total())
	if err != nil {
		_ = f.Close()
		return err
	}

	a.file = f
	a.signals = signals
	a.running = true
	a.finished = false
	a.stopCh = make(chan struct{})
	a.pending = []adapter.Event{adapter.Connected{DeviceID: a.cfg.Path}}
	a.started = time.Now()
	a.base = timestamp.ToUnixNs(a.started)
	a.index = 0

	a.logger.Info("EDF replay started", "channels", len(signals), "speed", a.cfg.Speed, "loop", a.cfg.Loop)
	return nil
}

func openSignals(f *os.File, channels int) ([]*edf.SignalReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.WrapTransient(err, "edfreplay", "openSignals", "rewind recording")
	}
	r, err := edf.Open(f)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err), "edfreplay", "openSignals", "parse header")
	}
	signals := make([]*edf.SignalReader, channels)
	for i := range signals {
		sr, err := r.Signal(i)
		if err != nil {
			return nil, errors.Invalidf(errors.ErrChannelMismatch, "edfreplay", "openSignals",
				"recording has no signal %d for a %d-channel layout", i, channels)
		}
		signals[i] = sr
	}
	return signals, nil
}

// StopStream closes the file and wakes any waiting poll.
func (a *Adapter) StopStream() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	close(a.stopCh)
	a.pending = append(a.pending, adapter.Disconnected{Reason: "stream stopped"})
	a.signals = nil

	err := a.file.Close()
	a.file = nil
	if err != nil {
		return errors.Wrap(err, "edfreplay", "StopStream", "close recording")
	}
	return nil
}

// PollEvents returns the next frame once it is due under the configured speed.
func (a *Adapter) PollEvents(ctx context.Context, timeout time.Duration) ([]adapter.Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		a.mu.Lock()
		if len(a.pending) > 0 {
			events := a.pending
			a.pending = nil
			a.mu.Unlock()
			return events, nil
		}
		if !a.running {
			a.mu.Unlock()
			return nil, errors.ErrAdapterStopped
		}

		wait := time.Until(a.dueLocked())
		if a.finished {
			wait = time.Until(deadline)
		}
		if wait <= 0 && !a.finished {
			events, err := a.readFrameLocked()
			a.mu.Unlock()
			return events, err
		}
		stopCh := a.stopCh
		a.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return []adapter.Event{}, nil
		}
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

// dueLocked returns when the next frame may be emitted.
func (a *Adapter) dueLocked() time.Time {
	if a.cfg.Speed == 0 {
		return time.Time{}
	}
	// a frame is due once its last sample has been "acquired"
	offset := time.Duration(float64(a.index+uint64(a.cfg.FrameSize)) * float64(a.period) / a.cfg.Speed)
	return a.started.Add(offset)
}

func (a *Adapter) readFrameLocked() ([]adapter.Event, error) {
	n, err := a.fillScratchLocked()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if !a.cfg.Loop {
			a.finished = true
			a.logger.Info("EDF replay reached end of recording", "samples", a.index)
			return []adapter.Event{adapter.Disconnected{Reason: "end of recording"}}, nil
		}
		signals, err := openSignals(a.file, len(a.signals))
		if err != nil {
			return nil, err
		}
		a.signals = signals
		if n, err = a.fillScratchLocked(); err != nil {
			return nil, err
		}
		if n == 0 {
			a.finished = true
			return []adapter.Event{adapter.Disconnected{Reason: "empty recording"}}, nil
		}
	}

	values := make([]float32, a.cfg.Layout.Total())
	samples := make([]sample.Sample, n)
	for i := range n {
		for ch := range values {
			values[ch] = float32(a.scratch[ch][i])
		}
		ts := a.base + (a.index+uint64(i))*uint64(a.period)
		samples[i] = a.cfg.Layout.Split(ts, values)
	}
	a.index += uint64(n)
	return []adapter.Event{adapter.SignalFrame{Samples: samples}}, nil
}

// fillScratchLocked reads up to FrameSize values per channel and returns the
// number of complete samples, the shortest channel read.
func (a *Adapter) fillScratchLocked() (int, error) {
	n := a.cfg.FrameSize
	for ch, sr := range a.signals {
		got, err := sr.Read(a.scratch[ch])
		if err != nil && !stderrors.Is(err, io.EOF) {
			return 0, errors.WrapTransient(err, "edfreplay", "PollEvents", "read signal")
		}
		n = min(n, got)
	}
	return n, nil
}
