package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/sample"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", JSON, false},
		{"json", JSON, false},
		{" CBOR ", CBOR, false},
		{"msgpack", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseFormat(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCodec_Sample(t *testing.T) {
	s := sample.Layout{EEG: 2, EDA: 1}.Split(42, []float32{1.5, -2.25, 3})

	for _, name := range []string{"json", "cbor"} {
		t.Run(name, func(t *testing.T) {
			c, err := New(name)
			require.NoError(t, err)
			assert.Equal(t, Format(name), c.Format())
			assert.Contains(t, c.ContentType(), name)

			data, err := c.Marshal(s)
			require.NoError(t, err)

			var got sample.Sample
			require.NoError(t, c.Unmarshal(data, &got))
			assert.Equal(t, s.Timestamp, got.Timestamp)
			assert.Equal(t, s.EEG, got.EEG)
			assert.Equal(t, s.EDA, got.EDA)
		})
	}
}

func TestCodec_CBORIsSmaller(t *testing.T) {
	s := sample.DefaultLayout.New(1_700_000_000_000_000_000)
	j, err := For(JSON).Marshal(s)
	require.NoError(t, err)
	c, err := For(CBOR).Marshal(s)
	require.NoError(t, err)
	assert.Less(t, len(c), len(j))
}

func TestCodec_UnmarshalError(t *testing.T) {
	var s sample.Sample
	assert.ErrorIs(t, For(JSON).Unmarshal([]byte("{"), &s), errors.ErrParsingFailed)
	assert.ErrorIs(t, For(CBOR).Unmarshal([]byte{0xff}, &s), errors.ErrParsingFailed)
}
