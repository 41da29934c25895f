// Package descriptor holds deployment records that travel alongside metrics.
//
// These are plain values built once at start-up and never mutated. The sampler
// does not interpret them; validation only checks that required fields are present.
package descriptor

import (
	"github.com/google/uuid"

	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/quality"
)

// NodeProfile describes the acquisition node's capability envelope.
type NodeProfile struct {
	NodeID            string    `json:"node_id" yaml:"node_id"`
	OpsThresholdTOPS  float32   `json:"ops_threshold_tops" yaml:"ops_threshold_tops"`
	MeshSize          uint32    `json:"mesh_size" yaml:"mesh_size"`
	ThermalHeadroomC  float32   `json:"thermal_headroom_c" yaml:"thermal_headroom_c"`
	EEGChannelsActive uint8     `json:"eeg_channels_active" yaml:"eeg_channels_active"`
	TopologyMatrix    []float32 `json:"topology_matrix,omitempty" yaml:"topology_matrix,omitempty"`
	FirmwareVersion   string    `json:"firmware_version" yaml:"firmware_version"`

	// Attributes carries any further deployment fields unchanged.
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// DefaultNodeProfile returns the reference headset node with a fresh node id.
func DefaultNodeProfile() NodeProfile {
	return NodeProfile{
		NodeID:            uuid.NewString(),
		OpsThresholdTOPS:  12.0,
		MeshSize:          32,
		ThermalHeadroomC:  8.0,
		EEGChannelsActive: 10,
		TopologyMatrix:    []float32{0.98, 0.97, 0.96, 0.95, 0.97, 0.96, 0.95, 0.94},
		FirmwareVersion:   "BCI-XRPHONE-1.0.0",
	}
}

// Validate checks field presence.
func (p NodeProfile) Validate() error {
	switch {
	case p.NodeID == "":
		return missing("NodeProfile", "node_id")
	case p.FirmwareVersion == "":
		return missing("NodeProfile", "firmware_version")
	}
	return nil
}

// Clone returns a copy that shares no slices or maps with p.
func (p NodeProfile) Clone() NodeProfile {
	out := p
	if p.TopologyMatrix != nil {
		out.TopologyMatrix = append([]float32(nil), p.TopologyMatrix...)
	}
	if p.Attributes != nil {
		out.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// DiskConnectorConfig identifies a disk-class headset driver on the host.
type DiskConnectorConfig struct {
	PnPClassGUID     string `json:"pnp_class_guid" yaml:"pnp_class_guid"`
	InstanceSuffix   string `json:"instance_suffix" yaml:"instance_suffix"`
	KernelDevicePath string `json:"kernel_device_path" yaml:"kernel_device_path"`
	RequireUniqueID  bool   `json:"require_unique_id" yaml:"require_unique_id"`
}

// Validate checks field presence.
func (c DiskConnectorConfig) Validate() error {
	switch {
	case c.PnPClassGUID == "":
		return missing("DiskConnectorConfig", "pnp_class_guid")
	case c.KernelDevicePath == "":
		return missing("DiskConnectorConfig", "kernel_device_path")
	}
	return nil
}

func missing(record, field string) error {
	return errors.Invalidf(errors.ErrMissingConfig, "descriptor."+record, "Validate", "%s is required", field)
}

// Report is one metrics record flattened together with the node fields
// consumers use to attribute it.
type Report struct {
	quality.SamplerMetrics
	NodeID            string `json:"node_id" cbor:"node_id"`
	FirmwareVersion   string `json:"firmware_version" cbor:"firmware_version"`
	EEGChannelsActive uint8  `json:"eeg_channels_active" cbor:"eeg_channels_active"`
}

// NewReport attaches profile identity to m.
func NewReport(m quality.SamplerMetrics, p NodeProfile) Report {
	return Report{
		SamplerMetrics:    m,
		NodeID:            p.NodeID,
		FirmwareVersion:   p.FirmwareVersion,
		EEGChannelsActive: p.EEGChannelsActive,
	}
}
