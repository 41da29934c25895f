package component

import (
	"time"
)

// Discoverable is implemented by the sampler service and every output so the
// health endpoint can report them by name.
type Discoverable interface {
	Meta() Metadata
	Health() HealthStatus
	DataFlow() FlowMetrics
}

// Metadata names a component and its role in the pipeline.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "sampler" or "output"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is a component's own view of its health. Healthy with a
// LastError set means the component is still running but its latest
// operation failed.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// Degraded reports a running component whose latest operation failed.
func (h HealthStatus) Degraded() bool {
	return h.Healthy && h.LastError != ""
}

// FlowMetrics summarizes throughput. For metrics sinks a message is one
// window record; for the sampler it is one accepted sample.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}
