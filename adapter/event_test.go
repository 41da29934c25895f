package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/bcistream/sample"
)

func TestEventKinds(t *testing.T) {
	tests := []struct {
		event Event
		kind  string
		str   string
	}{
		{Connected{DeviceID: "hs-01"}, "connected", "connected(hs-01)"},
		{Disconnected{Reason: "cable"}, "disconnected", "disconnected(cable)"},
		{SignalFrame{Samples: make([]sample.Sample, 3)}, "signal_frame", "signal_frame(3 samples)"},
		{ErrorEvent{Message: "impedance"}, "error", "error(impedance)"},
	}

	for _, tc := range tests {
		t.Run(tc.kind, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.event.Kind())
			if s, ok := tc.event.(interface{ String() string }); assert.True(t, ok) {
				assert.Equal(t, tc.str, s.String())
			}
		})
	}
}
