// Package codec selects the wire encoding for samples, events and metrics.
//
// JSON is the default and matches the field names consumers already parse.
// CBOR uses Core Deterministic Encoding and the integer keys declared on
// sample.Sample, which keeps signal frames small on the wire.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/c360/bcistream/errors"
)

// Format names a wire encoding.
type Format string

// Supported formats.
const (
	JSON Format = "json"
	CBOR Format = "cbor"
)

// Codec marshals values in one format.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Format() Format
	ContentType() string
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// ParseFormat accepts "json" or "cbor" in any case. Empty means JSON.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case "", JSON:
		return JSON, nil
	case CBOR:
		return CBOR, nil
	}
	return "", errors.Invalidf(errors.ErrInvalidConfig, "codec", "ParseFormat",
		"unknown format %q, want json or cbor", name)
}

// New returns the codec for a format name.
func New(name string) (Codec, error) {
	f, err := ParseFormat(name)
	if err != nil {
		return nil, err
	}
	return For(f), nil
}

// For returns the codec for f, falling back to JSON for unknown values.
func For(f Format) Codec {
	if f == CBOR {
		return cborCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: json: %w", errors.ErrParsingFailed, err)
	}
	return nil
}

func (jsonCodec) Format() Format      { return JSON }
func (jsonCodec) ContentType() string { return "application/json" }

type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func (cborCodec) Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: cbor: %w", errors.ErrParsingFailed, err)
	}
	return nil
}

func (cborCodec) Format() Format      { return CBOR }
func (cborCodec) ContentType() string { return "application/cbor" }
