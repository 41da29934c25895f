// Package quality computes per-window signal quality and timing metrics.
package quality

import (
	"encoding/json"
	"fmt"
)

// State is the acquisition state reported with each metrics record.
type State int

const (
	// StateIdle means the window was empty.
	StateIdle State = iota
	// StateAcquiring means the window held samples.
	StateAcquiring
	// StateError means the transport failed and no window could be measured.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "acquiring":
		*s = StateAcquiring
	case "error":
		*s = StateError
	default:
		return fmt.Errorf("unknown sampler state %q", b)
	}
	return nil
}

// SamplerMetrics is the record produced for every completed window.
type SamplerMetrics struct {
	SessionID       string  `json:"session_id" cbor:"session_id"`
	State           State   `json:"state" cbor:"state"`
	EEGSNRdB        float32 `json:"eeg_snr_db" cbor:"eeg_snr_db"`
	ArtifactRatePct float32 `json:"artifact_rate_pct" cbor:"artifact_rate_pct"`
	MedianLatencyMs float32 `json:"median_latency_ms" cbor:"median_latency_ms"`
	P99LatencyMs    float32 `json:"p99_latency_ms" cbor:"p99_latency_ms"`
	PacketLossPct   float32 `json:"packet_loss_pct" cbor:"packet_loss_pct"`

	WindowSeq   uint64 `json:"window_seq" cbor:"window_seq"`
	SampleCount int    `json:"sample_count" cbor:"sample_count"`
	ComputedAt  uint64 `json:"computed_at" cbor:"computed_at"`
	Error       string `json:"error,omitempty" cbor:"error,omitempty"`
}

// String renders the record as compact JSON for logs.
func (m SamplerMetrics) String() string {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("SamplerMetrics{session=%s state=%s}", m.SessionID, m.State)
	}
	return string(b)
}
