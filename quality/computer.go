package quality

import (
	"math"
	"slices"

	"github.com/c360/bcistream/pkg/timestamp"
	"github.com/c360/bcistream/window"
)

// Computer turns windows into SamplerMetrics for one session.
type Computer struct {
	sessionID string
	estimator Estimator
}

// NewComputer returns a computer for sessionID. A nil estimator reports ReferenceScores.
func NewComputer(sessionID string, estimator Estimator) *Computer {
	if estimator == nil {
		estimator = Fixed(ReferenceScores)
	}
	return &Computer{sessionID: sessionID, estimator: estimator}
}

// Compute measures w against the reference clock nowNs (Unix ns).
// An empty window yields an idle record with every numeric field zero.
func (c *Computer) Compute(w window.Window, nowNs uint64) SamplerMetrics {
	m := SamplerMetrics{
		SessionID:   c.sessionID,
		State:       StateIdle,
		WindowSeq:   w.Seq,
		SampleCount: len(w.Samples),
		ComputedAt:  nowNs,
	}
	if w.IsEmpty() {
		return m
	}

	lat := Latencies(w, nowNs)
	m.MedianLatencyMs, m.P99LatencyMs = Percentiles(lat)
	m.State = StateAcquiring

	scores := c.estimator.Estimate(w)
	m.EEGSNRdB = finite(scores.SNRdB)
	m.ArtifactRatePct = clampPct(scores.ArtifactRatePct)
	m.PacketLossPct = clampPct(scores.PacketLossPct)
	return m
}

// ErrorMetrics returns a neutral record flagged with the error state.
func (c *Computer) ErrorMetrics(err error, nowNs uint64) SamplerMetrics {
	m := SamplerMetrics{
		SessionID:  c.sessionID,
		State:      StateError,
		ComputedAt: nowNs,
	}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

// Latencies returns the per-sample latency in milliseconds, sorted ascending.
// Samples stamped after nowNs count as zero latency.
func Latencies(w window.Window, nowNs uint64) []float32 {
	lat := make([]float32, len(w.Samples))
	for i, s := range w.Samples {
		lat[i] = timestamp.Millis(timestamp.SubSat(nowNs, s.Timestamp))
	}
	slices.Sort(lat)
	return lat
}

// Percentiles returns the median and p99 of sorted latencies:
// median = lat[n/2] and p99 = lat[min(floor(n*0.99), n-1)].
func Percentiles(sorted []float32) (median, p99 float32) {
	n := len(sorted)
	if n == 0 {
		return 0, 0
	}
	p99Idx := int(math.Floor(float64(float32(n) * 0.99)))
	p99Idx = min(p99Idx, n-1)
	return sorted[n/2], sorted[p99Idx]
}

func finite(v float32) float32 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return v
}

func clampPct(v float32) float32 {
	v = finite(v)
	return max(0, min(100, v))
}
