package adapter

import (
	"fmt"

	"github.com/c360/bcistream/sample"
)

// Event is one of Connected, Disconnected, SignalFrame or ErrorEvent.
// The set is closed: consumers switch over these four types.
type Event interface {
	// Kind returns a stable label for logs and metrics.
	Kind() string
	isEvent()
}

// Connected reports that the device is ready.
type Connected struct {
	DeviceID string `json:"device_id"`
}

// Disconnected reports that the device went away.
type Disconnected struct {
	Reason string `json:"reason"`
}

// SignalFrame carries samples in acquisition order.
type SignalFrame struct {
	Samples []sample.Sample `json:"samples"`
}

// ErrorEvent reports a device-side fault that did not end the stream.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (Connected) Kind() string    { return "connected" }
func (Disconnected) Kind() string { return "disconnected" }
func (SignalFrame) Kind() string  { return "signal_frame" }
func (ErrorEvent) Kind() string   { return "error" }

func (Connected) isEvent()    {}
func (Disconnected) isEvent() {}
func (SignalFrame) isEvent()  {}
func (ErrorEvent) isEvent()   {}

func (e Connected) String() string    { return fmt.Sprintf("connected(%s)", e.DeviceID) }
func (e Disconnected) String() string { return fmt.Sprintf("disconnected(%s)", e.Reason) }
func (e SignalFrame) String() string  { return fmt.Sprintf("signal_frame(%d samples)", len(e.Samples)) }
func (e ErrorEvent) String() string   { return fmt.Sprintf("error(%s)", e.Message) }
