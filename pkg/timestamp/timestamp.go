// Package timestamp provides Unix nanosecond timestamp helpers for sample clocks.
//
// Samples carry uint64 nanoseconds since the Unix epoch (UTC). A value of 0 means
// "not set". Differences between timestamps saturate at zero instead of wrapping,
// so a sample stamped slightly after the reference clock reads as zero latency.
//
// Usage:
//
//	now := timestamp.Now()
//	lat := timestamp.Millis(timestamp.SubSat(now, s.Timestamp))
//	fmt.Println(timestamp.Format(now))
package timestamp

import (
	"fmt"
	"time"
)

// Now returns the current wall-clock time as Unix nanoseconds.
func Now() uint64 {
	return ToUnixNs(time.Now())
}

// ToUnixNs converts a time.Time to Unix nanoseconds. Zero and pre-epoch times map to 0.
func ToUnixNs(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	ns := t.UnixNano()
	if ns < 0 {
		return 0
	}
	return uint64(ns)
}

// FromUnixNs converts Unix nanoseconds to time.Time.
// Returns zero time if ns is 0.
func FromUnixNs(ns uint64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns))
}

// Format renders Unix nanoseconds as RFC3339Nano for display.
// Returns empty string if ns is 0.
func Format(ns uint64) string {
	if ns == 0 {
		return ""
	}
	return FromUnixNs(ns).UTC().Format(time.RFC3339Nano)
}

// SubSat returns a-b, or 0 when b is after a.
func SubSat(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// Millis converts a nanosecond span to float32 milliseconds.
func Millis(ns uint64) float32 {
	return float32(ns) / 1_000_000.0
}

// Duration converts a nanosecond span to time.Duration, clamping at the maximum.
func Duration(ns uint64) time.Duration {
	if ns > uint64(1<<63-1) {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(ns)
}

// FromDuration converts a non-negative duration to a nanosecond span.
func FromDuration(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d)
}

// MsToNs converts whole milliseconds to a nanosecond span.
func MsToNs(ms int) uint64 {
	if ms <= 0 {
		return 0
	}
	return uint64(ms) * uint64(time.Millisecond)
}

// Validate rejects timestamps beyond the year 2262, where int64 nanoseconds overflow.
func Validate(ns uint64) error {
	if ns > uint64(1<<63-1) {
		return fmt.Errorf("timestamp overflows int64 nanoseconds: %d", ns)
	}
	return nil
}
