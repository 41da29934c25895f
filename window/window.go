// Package window assembles time-ordered samples into fixed-duration, overlapping windows.
package window

import (
	"github.com/c360/bcistream/sample"
)

// CloseReason records why a window was closed.
type CloseReason int

const (
	// ReasonDuration means a sample arrived at or past Start+duration.
	ReasonDuration CloseReason = iota
	// ReasonFlush means the caller requested the partial window.
	ReasonFlush
	// ReasonCapacity means the buffer bound was reached first.
	ReasonCapacity
)

func (r CloseReason) String() string {
	switch r {
	case ReasonDuration:
		return "duration"
	case ReasonFlush:
		return "flush"
	case ReasonCapacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// Window is a closed batch of samples covering [Start, End) in Unix nanoseconds.
type Window struct {
	Seq     uint64          `json:"seq"`
	Start   uint64          `json:"start"`
	End     uint64          `json:"end"`
	Samples []sample.Sample `json:"samples"`
	Reason  CloseReason     `json:"reason"`

	// Carried counts the leading samples copied from the previous window's overlap.
	Carried int `json:"carried"`
}

// Len returns the number of samples in the window.
func (w Window) Len() int {
	return len(w.Samples)
}

// IsEmpty reports whether the window holds no samples.
func (w Window) IsEmpty() bool {
	return len(w.Samples) == 0
}

// Fresh returns the samples that were not carried over from the previous window.
func (w Window) Fresh() []sample.Sample {
	if w.Carried >= len(w.Samples) {
		return nil
	}
	return w.Samples[w.Carried:]
}

// State is the engine's position in the accumulate/emit cycle.
type State int

const (
	// Idle means no fresh samples are buffered and no window is pending.
	Idle State = iota
	// Accumulating means fresh samples are buffered toward the next window.
	Accumulating
	// WindowReady means at least one closed window is waiting in Next.
	WindowReady
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case WindowReady:
		return "window_ready"
	default:
		return "unknown"
	}
}
