// Package sample defines the multi-modal biosignal sample and its channel layout.
package sample

import (
	"fmt"

	"github.com/c360/bcistream/errors"
)

// Sample is one time-stamped reading across all channel groups.
// Samples are treated as immutable once created.
type Sample struct {
	Timestamp uint64    `json:"ts" cbor:"1,keyasint"` // unix ns
	EEG       []float32 `json:"eeg" cbor:"2,keyasint"`
	EMG       []float32 `json:"emg" cbor:"3,keyasint"`
	EOG       []float32 `json:"eog" cbor:"4,keyasint"`
	PPG       []float32 `json:"ppg" cbor:"5,keyasint"`
	EDA       []float32 `json:"eda" cbor:"6,keyasint"`
}

// Clone deep-copies every channel slice.
func (s Sample) Clone() Sample {
	return Sample{
		Timestamp: s.Timestamp,
		EEG:       cloneChannels(s.EEG),
		EMG:       cloneChannels(s.EMG),
		EOG:       cloneChannels(s.EOG),
		PPG:       cloneChannels(s.PPG),
		EDA:       cloneChannels(s.EDA),
	}
}

func cloneChannels(in []float32) []float32 {
	if in == nil {
		return nil
	}
	out := make([]float32, len(in))
	copy(out, in)
	return out
}

// Flatten appends the channel values in layout order: EEG, EMG, EOG, PPG, EDA.
func (s Sample) Flatten(dst []float32) []float32 {
	dst = append(dst, s.EEG...)
	dst = append(dst, s.EMG...)
	dst = append(dst, s.EOG...)
	dst = append(dst, s.PPG...)
	return append(dst, s.EDA...)
}

// Layout fixes the channel count of every group for a session.
type Layout struct {
	EEG int `json:"eeg" yaml:"eeg"`
	EMG int `json:"emg" yaml:"emg"`
	EOG int `json:"eog" yaml:"eog"`
	PPG int `json:"ppg" yaml:"ppg"`
	EDA int `json:"eda" yaml:"eda"`
}

// DefaultLayout is the XR headset layout: 16 EEG, 4 EMG, 2 EOG, 2 PPG, 1 EDA.
var DefaultLayout = Layout{EEG: 16, EMG: 4, EOG: 2, PPG: 2, EDA: 1}

// Total returns the number of channels across all groups.
func (l Layout) Total() int {
	return l.EEG + l.EMG + l.EOG + l.PPG + l.EDA
}

// Check reports a configuration error for negative counts or an empty EEG group.
func (l Layout) Check() error {
	if l.EEG <= 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "Layout", "Check", "eeg channel count must be positive, got %d", l.EEG)
	}
	for name, n := range map[string]int{"emg": l.EMG, "eog": l.EOG, "ppg": l.PPG, "eda": l.EDA} {
		if n < 0 {
			return errors.Invalidf(errors.ErrInvalidConfig, "Layout", "Check", "%s channel count must not be negative, got %d", name, n)
		}
	}
	return nil
}

// Validate rejects a sample whose channel lengths differ from the layout.
func (l Layout) Validate(s Sample) error {
	groups := [...]struct {
		name      string
		got, want int
	}{
		{"eeg", len(s.EEG), l.EEG},
		{"emg", len(s.EMG), l.EMG},
		{"eog", len(s.EOG), l.EOG},
		{"ppg", len(s.PPG), l.PPG},
		{"eda", len(s.EDA), l.EDA},
	}
	for _, g := range groups {
		if g.got != g.want {
			return errors.Invalidf(errors.ErrChannelMismatch, "Layout", "Validate",
				"%s has %d channels, layout expects %d", g.name, g.got, g.want)
		}
	}
	return nil
}

// Labels returns one label per channel in flattened order, e.g. "EEG01".
func (l Layout) Labels() []string {
	labels := make([]string, 0, l.Total())
	add := func(prefix string, n int) {
		for i := 1; i <= n; i++ {
			labels = append(labels, fmt.Sprintf("%s%02d", prefix, i))
		}
	}
	add("EEG", l.EEG)
	add("EMG", l.EMG)
	add("EOG", l.EOG)
	add("PPG", l.PPG)
	add("EDA", l.EDA)
	return labels
}

// Split builds a Sample from values in flattened order. It panics if values is
// shorter than Total; callers size the slice from the layout.
func (l Layout) Split(ts uint64, values []float32) Sample {
	s := Sample{Timestamp: ts}
	off := 0
	take := func(n int) []float32 {
		out := make([]float32, n)
		copy(out, values[off:off+n])
		off += n
		return out
	}
	s.EEG = take(l.EEG)
	s.EMG = take(l.EMG)
	s.EOG = take(l.EOG)
	s.PPG = take(l.PPG)
	s.EDA = take(l.EDA)
	return s
}

// New returns a zero-valued sample sized for the layout.
func (l Layout) New(ts uint64) Sample {
	return l.Split(ts, make([]float32, l.Total()))
}
