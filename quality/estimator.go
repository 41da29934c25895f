package quality

import (
	"math"
	"time"

	"github.com/c360/bcistream/window"
)

// Scores are the signal-derived parts of a metrics record.
type Scores struct {
	SNRdB           float32 `json:"snr_db" yaml:"snr_db"`
	ArtifactRatePct float32 `json:"artifact_rate_pct" yaml:"artifact_rate_pct"`
	PacketLossPct   float32 `json:"packet_loss_pct" yaml:"packet_loss_pct"`
}

// ReferenceScores are fixed scores for bring-up without a real estimator.
var ReferenceScores = Scores{SNRdB: 22, ArtifactRatePct: 3, PacketLossPct: 1}

// Estimator derives signal scores from a non-empty window.
type Estimator interface {
	Estimate(w window.Window) Scores
}

// EstimatorFunc adapts a function to Estimator.
type EstimatorFunc func(w window.Window) Scores

// Estimate calls f(w).
func (f EstimatorFunc) Estimate(w window.Window) Scores {
	return f(w)
}

// Fixed returns an estimator that always reports s.
func Fixed(s Scores) Estimator {
	return EstimatorFunc(func(window.Window) Scores { return s })
}

// DefaultArtifactThresholdUv is the EEG amplitude above which a sample counts as an artifact.
const DefaultArtifactThresholdUv = 100

// SignalEstimator is a lightweight heuristic estimator. It is not a clinical
// measure and exists so metrics move with the signal.
//
//   - SNR: per EEG channel, 10*log10(var(x) / (var(dx)/2)), averaged over channels.
//     White noise scores near 0 dB and slow rhythms score high.
//   - Artifact rate: share of samples with any EEG channel beyond the amplitude threshold.
//   - Packet loss: missing samples against the nominal rate over the window span.
type SignalEstimator struct {
	SampleRateHz        int
	ArtifactThresholdUv float32
}

// Estimate implements Estimator.
func (e SignalEstimator) Estimate(w window.Window) Scores {
	return Scores{
		SNRdB:           e.snr(w),
		ArtifactRatePct: e.artifactRate(w),
		PacketLossPct:   e.packetLoss(w),
	}
}

func (e SignalEstimator) snr(w window.Window) float32 {
	n := len(w.Samples)
	if n < 3 {
		return 0
	}
	channels := len(w.Samples[0].EEG)
	for _, s := range w.Samples[1:] {
		channels = min(channels, len(s.EEG))
	}

	var total float64
	var counted int
	for ch := 0; ch < channels; ch++ {
		var sum, sumSq, dSum, dSumSq float64
		for i, s := range w.Samples {
			x := float64(s.EEG[ch])
			sum += x
			sumSq += x * x
			if i > 0 {
				d := x - float64(w.Samples[i-1].EEG[ch])
				dSum += d
				dSumSq += d * d
			}
		}
		signal := variance(sum, sumSq, n)
		noise := variance(dSum, dSumSq, n-1) / 2
		if signal <= 0 || noise <= 0 {
			continue
		}
		total += 10 * math.Log10(signal/noise)
		counted++
	}
	if counted == 0 {
		return 0
	}
	return float32(total / float64(counted))
}

func variance(sum, sumSq float64, n int) float64 {
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

func (e SignalEstimator) artifactRate(w window.Window) float32 {
	if len(w.Samples) == 0 {
		return 0
	}
	threshold := e.ArtifactThresholdUv
	if threshold <= 0 {
		threshold = DefaultArtifactThresholdUv
	}
	flagged := 0
	for _, s := range w.Samples {
		for _, x := range s.EEG {
			if x > threshold || x < -threshold {
				flagged++
				break
			}
		}
	}
	return 100 * float32(flagged) / float32(len(w.Samples))
}

func (e SignalEstimator) packetLoss(w window.Window) float32 {
	n := len(w.Samples)
	if e.SampleRateHz <= 0 || n < 2 {
		return 0
	}
	period := float64(time.Second) / float64(e.SampleRateHz)
	span := float64(w.Samples[n-1].Timestamp - w.Samples[0].Timestamp)
	expected := math.Round(span/period) + 1
	if expected <= float64(n) {
		return 0
	}
	return float32(100 * (expected - float64(n)) / expected)
}
