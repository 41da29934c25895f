package simulated

import (
	"math"
	"math/rand/v2"

	"github.com/c360/bcistream/sample"
)

// Amplitudes in microvolts unless noted.
const (
	alphaHz        = 10.0
	alphaAmplitude = 20.0
	betaHz         = 21.0
	betaAmplitude  = 5.0
	eegNoise       = 4.0
	emgNoise       = 15.0
	eogHz          = 0.3
	eogAmplitude   = 60.0
	heartHz        = 1.2
	ppgAmplitude   = 1.0 // arbitrary units
	edaBaseline    = 2.0 // microsiemens
	artifactUv     = 250.0
)

// generator produces deterministic synthetic signals for a layout.
// It is not safe for concurrent use.
type generator struct {
	layout sample.Layout
	fs     float64
	rng    *rand.Rand
	n      uint64

	// per-channel phase offsets so channels are not identical
	eegPhase []float64
	eogPhase []float64
}

func newGenerator(layout sample.Layout, fs float64, seed uint64) *generator {
	g := &generator{
		layout:   layout,
		fs:       fs,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		eegPhase: make([]float64, layout.EEG),
		eogPhase: make([]float64, layout.EOG),
	}
	for i := range g.eegPhase {
		g.eegPhase[i] = g.rng.Float64() * 2 * math.Pi
	}
	for i := range g.eogPhase {
		g.eogPhase[i] = float64(i) * math.Pi
	}
	return g
}

// next returns the sample at index n stamped with ts. When artifact is true a
// large transient is added to every EEG channel.
func (g *generator) next(ts uint64, artifact bool) sample.Sample {
	t := float64(g.n) / g.fs
	g.n++

	s := sample.Sample{
		Timestamp: ts,
		EEG:       make([]float32, g.layout.EEG),
		EMG:       make([]float32, g.layout.EMG),
		EOG:       make([]float32, g.layout.EOG),
		PPG:       make([]float32, g.layout.PPG),
		EDA:       make([]float32, g.layout.EDA),
	}

	for i, ph := range g.eegPhase {
		v := alphaAmplitude*math.Sin(2*math.Pi*alphaHz*t+ph) +
			betaAmplitude*math.Sin(2*math.Pi*betaHz*t+2*ph) +
			eegNoise*g.rng.NormFloat64()
		if artifact {
			v += artifactUv
		}
		s.EEG[i] = float32(v)
	}
	for i := range s.EMG {
		s.EMG[i] = float32(emgNoise * g.rng.NormFloat64())
	}
	for i, ph := range g.eogPhase {
		s.EOG[i] = float32(eogAmplitude * math.Sin(2*math.Pi*eogHz*t+ph))
	}

	pulse := pulseShape(math.Mod(t*heartHz, 1))
	for i := range s.PPG {
		s.PPG[i] = float32(ppgAmplitude*pulse + 0.01*g.rng.NormFloat64())
	}
	for i := range s.EDA {
		s.EDA[i] = float32(edaBaseline + 0.2*math.Sin(2*math.Pi*0.05*t))
	}
	return s
}

// pulseShape is a systolic peak plus a dicrotic notch over one cycle in [0,1).
func pulseShape(phase float64) float64 {
	return gauss(phase, 0.25, 0.06) + 0.35*gauss(phase, 0.5, 0.08)
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}
