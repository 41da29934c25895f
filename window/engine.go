package window

import (
	"sync"
	"time"

	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/pkg/buffer"
	"github.com/c360/bcistream/pkg/timestamp"
	"github.com/c360/bcistream/sample"
)

const (
	// DefaultCapacity bounds the samples buffered for one window.
	DefaultCapacity = 1 << 16
	// DefaultMaxPending bounds closed windows waiting in Next.
	DefaultMaxPending = 64
)

// Config configures an Engine.
type Config struct {
	Duration time.Duration
	Overlap  time.Duration
	Layout   sample.Layout

	// Capacity closes a window early once this many samples are buffered.
	Capacity int
	// MaxPending bounds the closed-window queue; the oldest window is dropped on overflow.
	MaxPending int
}

// Validate rejects zero durations, negative overlap and overlap >= duration.
func (c Config) Validate() error {
	if c.Duration <= 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "window.Config", "Validate", "duration must be positive, got %s", c.Duration)
	}
	if c.Overlap < 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "window.Config", "Validate", "overlap must not be negative, got %s", c.Overlap)
	}
	if c.Overlap >= c.Duration {
		return errors.Invalidf(errors.ErrInvalidConfig, "window.Config", "Validate",
			"overlap %s must be shorter than duration %s", c.Overlap, c.Duration)
	}
	return c.Layout.Check()
}

// Stats counts engine activity since construction.
type Stats struct {
	Accepted          uint64                 `json:"accepted"`
	DroppedMismatch   uint64                 `json:"dropped_mismatch"`
	DroppedOutOfOrder uint64                 `json:"dropped_out_of_order"`
	Emitted           map[CloseReason]uint64 `json:"emitted"`
	DroppedWindows    uint64                 `json:"dropped_windows"`
	StaleSeeds        uint64                 `json:"stale_seeds"`
}

// Engine accumulates samples and closes windows by duration, capacity or flush.
// It is safe for concurrent use, though samples should come from a single producer.
type Engine struct {
	cfg      Config
	duration uint64
	overlap  uint64

	mu        sync.Mutex
	buf       []sample.Sample
	start     uint64
	carried   int
	newest    uint64
	hasNewest bool
	seq       uint64
	pending   buffer.Buffer[Window]
	stats     Stats
}

// NewEngine validates cfg and returns an idle engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}

	e := &Engine{
		cfg:      cfg,
		duration: timestamp.FromDuration(cfg.Duration),
		overlap:  timestamp.FromDuration(cfg.Overlap),
		stats:    Stats{Emitted: make(map[CloseReason]uint64)},
	}

	pending, err := buffer.NewCircularBuffer[Window](cfg.MaxPending,
		buffer.WithOverflowPolicy[Window](buffer.DropOldest),
		buffer.WithDropCallback[Window](func(Window) { e.stats.DroppedWindows++ }),
	)
	if err != nil {
		return nil, errors.Wrap(err, "window.Engine", "NewEngine", "create pending queue")
	}
	e.pending = pending
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Push appends s to the current window. Samples with a channel mismatch or a
// timestamp older than the newest accepted sample are dropped with an invalid
// error and leave the window untouched.
func (e *Engine) Push(s sample.Sample) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.cfg.Layout.Validate(s); err != nil {
		e.stats.DroppedMismatch++
		return errors.Wrap(err, "window.Engine", "Push", "validate sample")
	}
	if e.hasNewest && s.Timestamp < e.newest {
		e.stats.DroppedOutOfOrder++
		return errors.Invalidf(errors.ErrOutOfOrder, "window.Engine", "Push",
			"timestamp %d precedes newest accepted %d", s.Timestamp, e.newest)
	}
	e.newest, e.hasNewest = s.Timestamp, true

	if len(e.buf) > 0 && s.Timestamp-e.start >= e.duration {
		if e.freshLocked() > 0 {
			e.closeLocked(ReasonDuration, e.start+e.duration)
		}
		// A seed the new sample has already outrun would only ever hold stale data.
		if len(e.buf) > 0 && s.Timestamp-e.start >= e.duration {
			e.dropSeedLocked()
		}
	}

	if len(e.buf) == 0 {
		e.start = s.Timestamp
	}
	e.buf = append(e.buf, s)
	e.stats.Accepted++

	if len(e.buf) >= e.cfg.Capacity {
		e.closeLocked(ReasonCapacity, s.Timestamp+1)
	}
	return nil
}

// Flush closes the current partial window. It reports false, and enqueues
// nothing, when no samples arrived since the last window closed. Callers
// that still owe a record for that interval emit it from an empty Window;
// the sampler service does so through Sampler.AcquireWindow, which yields
// the idle record.
func (e *Engine) Flush() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.freshLocked() == 0 {
		return false
	}
	e.closeLocked(ReasonFlush, e.buf[len(e.buf)-1].Timestamp+1)
	return true
}

// Next dequeues the oldest closed window.
func (e *Engine) Next() (Window, bool) {
	return e.pending.Read()
}

// Pending returns the number of closed windows waiting in Next.
func (e *Engine) Pending() int {
	return e.pending.Size()
}

// State reports the engine state.
func (e *Engine) State() State {
	if e.pending.Size() > 0 {
		return WindowReady
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.freshLocked() > 0 {
		return Accumulating
	}
	return Idle
}

// Reset discards the in-progress window, the overlap seed and the ordering
// reference, for use after the source clock restarts. Pending windows are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf = nil
	e.carried = 0
	e.start = 0
	e.newest, e.hasNewest = 0, false
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.stats
	out.Emitted = make(map[CloseReason]uint64, len(e.stats.Emitted))
	for k, v := range e.stats.Emitted {
		out.Emitted[k] = v
	}
	return out
}

func (e *Engine) freshLocked() int {
	return len(e.buf) - e.carried
}

func (e *Engine) dropSeedLocked() {
	e.buf = e.buf[:0]
	e.carried = 0
	e.stats.StaleSeeds++
}

// closeLocked hands the buffer to the pending queue and seeds the next buffer
// with deep copies of the samples in [end-overlap, end).
func (e *Engine) closeLocked(reason CloseReason, end uint64) {
	samples := e.buf
	w := Window{
		Seq:     e.seq,
		Start:   e.start,
		End:     end,
		Samples: samples,
		Reason:  reason,
		Carried: e.carried,
	}
	e.seq++

	var seed []sample.Sample
	if e.overlap > 0 {
		cut := timestamp.SubSat(end, e.overlap)
		from := len(samples)
		for from > 0 && samples[from-1].Timestamp >= cut {
			from--
		}
		// Keep at most half the capacity so a dense seed cannot force
		// back-to-back capacity closes.
		if maxSeed := e.cfg.Capacity / 2; len(samples)-from > maxSeed {
			from = len(samples) - maxSeed
		}
		seed = make([]sample.Sample, 0, len(samples)-from)
		for _, s := range samples[from:] {
			seed = append(seed, s.Clone())
		}
	}

	e.buf = make([]sample.Sample, 0, max(len(samples), 16))
	e.buf = append(e.buf, seed...)
	e.carried = len(seed)
	if len(seed) > 0 {
		e.start = seed[0].Timestamp
	}

	e.stats.Emitted[reason]++
	// Write only fails after Close, which the engine never calls.
	_ = e.pending.Write(w)
}
