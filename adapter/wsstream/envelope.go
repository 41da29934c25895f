package wsstream

import (
	"fmt"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/codec"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/sample"
)

// Message types on the bridge protocol.
const (
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
	TypeFrame        = "frame"
	TypeError        = "error"
)

// Envelope is one bridge message. Text frames carry JSON, binary frames CBOR.
type Envelope struct {
	Type     string          `json:"type" cbor:"type"`
	DeviceID string          `json:"device_id,omitempty" cbor:"device_id,omitempty"`
	Reason   string          `json:"reason,omitempty" cbor:"reason,omitempty"`
	Message  string          `json:"message,omitempty" cbor:"message,omitempty"`
	Samples  []sample.Sample `json:"samples,omitempty" cbor:"samples,omitempty"`
}

// Event converts the envelope into an adapter event.
func (e Envelope) Event() (adapter.Event, error) {
	switch e.Type {
	case TypeConnected:
		return adapter.Connected{DeviceID: e.DeviceID}, nil
	case TypeDisconnected:
		return adapter.Disconnected{Reason: e.Reason}, nil
	case TypeFrame:
		return adapter.SignalFrame{Samples: e.Samples}, nil
	case TypeError:
		return adapter.ErrorEvent{Message: e.Message}, nil
	}
	return nil, fmt.Errorf("%w: unknown message type %q", errors.ErrInvalidData, e.Type)
}

// EnvelopeFor is the inverse of Envelope.Event, used by bridges and tests.
func EnvelopeFor(ev adapter.Event) (Envelope, error) {
	switch ev := ev.(type) {
	case adapter.Connected:
		return Envelope{Type: TypeConnected, DeviceID: ev.DeviceID}, nil
	case adapter.Disconnected:
		return Envelope{Type: TypeDisconnected, Reason: ev.Reason}, nil
	case adapter.SignalFrame:
		return Envelope{Type: TypeFrame, Samples: ev.Samples}, nil
	case adapter.ErrorEvent:
		return Envelope{Type: TypeError, Message: ev.Message}, nil
	}
	return Envelope{}, fmt.Errorf("%w: unsupported event %T", errors.ErrInvalidData, ev)
}

// Encode marshals ev with c.
func Encode(c codec.Codec, ev adapter.Event) ([]byte, error) {
	env, err := EnvelopeFor(ev)
	if err != nil {
		return nil, err
	}
	return c.Marshal(env)
}

// Decode unmarshals one bridge message with c.
func Decode(c codec.Codec, data []byte) (adapter.Event, error) {
	var env Envelope
	if err := c.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return env.Event()
}
