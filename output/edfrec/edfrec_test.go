package edfrec

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenPSG/edf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/sample"
)

var testLayout = sample.Layout{EEG: 2, EDA: 1}

const testRate = 10

func readSignal(t *testing.T, path string, index, n int) []float64 {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := edf.Open(f)
	require.NoError(t, err)
	sr, err := r.Signal(index)
	require.NoError(t, err)

	values := make([]float64, n)
	got, err := sr.Read(values)
	require.NoError(t, err)
	require.Equal(t, n, got)

	more := make([]float64, 1)
	_, err = sr.Read(more)
	assert.ErrorIs(t, err, io.EOF, "no samples beyond %d", n)
	return values
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		layout  sample.Layout
		rate    int
		wantErr error
	}{
		{"ok", Config{Path: "x.edf", Ranges: DefaultRanges()}, testLayout, testRate, nil},
		{"no path", Config{Ranges: DefaultRanges()}, testLayout, testRate, errors.ErrMissingConfig},
		{"zero rate", Config{Path: "x.edf", Ranges: DefaultRanges()}, testLayout, 0, errors.ErrInvalidConfig},
		{"record too large", Config{Path: "x.edf", Ranges: DefaultRanges()}, sample.DefaultLayout, 2000, errors.ErrInvalidConfig},
		{"empty range", Config{Path: "x.edf"}, testLayout, testRate, errors.ErrInvalidConfig},
		{"unused group range ignored", Config{Path: "x.edf", Ranges: Ranges{
			EEG: Range{Min: -1, Max: 1}, EDA: Range{Min: 0, Max: 1},
		}}, testLayout, testRate, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(tt.layout, tt.rate)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRecorder_WritesRecordsAndPadsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.edf")
	r, err := New(Config{Path: path, PatientID: "X", Ranges: DefaultRanges()}, testLayout, testRate, nil)
	require.NoError(t, err)
	assert.Equal(t, "edf", r.Name())

	ctx := context.Background()
	var batch []sample.Sample
	for i := range 25 {
		batch = append(batch, sample.Sample{
			Timestamp: uint64(i),
			EEG:       []float32{float32(i), 2000},
			EDA:       []float32{5},
		})
		if len(batch) == 7 {
			require.NoError(t, r.WriteSamples(ctx, batch))
			batch = batch[:0]
		}
	}
	batch = append(batch, sample.Sample{EEG: []float32{1}})
	require.NoError(t, r.WriteSamples(ctx, batch))
	assert.Equal(t, 2, r.Records())

	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))
	assert.Error(t, r.WriteSamples(ctx, batch))

	eeg := readSignal(t, path, 0, 30)
	for i := range 25 {
		assert.InDelta(t, float64(i), eeg[i], 0.05, "sample %d", i)
	}
	for i := 25; i < 30; i++ {
		assert.InDelta(t, 24, eeg[i], 0.05, "padding repeats the last sample")
	}

	clipped := readSignal(t, path, 1, 30)
	assert.InDelta(t, 1000, clipped[0], 0.05)

	eda := readSignal(t, path, 2, 30)
	assert.InDelta(t, 5, eda[29], 0.01)
}

func TestRecorder_ExactRecordsNeedNoPadding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exact.edf")
	r, err := New(Config{Path: path, Ranges: DefaultRanges()}, testLayout, testRate, nil)
	require.NoError(t, err)

	samples := make([]sample.Sample, 2*testRate)
	for i := range samples {
		samples[i] = testLayout.New(uint64(i))
	}
	require.NoError(t, r.WriteSamples(context.Background(), samples))
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 2, r.Records())

	readSignal(t, path, 0, 2*testRate)
}

func TestRecorder_WriteFailureIsLatched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.edf")
	r, err := New(Config{Path: path, Ranges: DefaultRanges()}, testLayout, testRate, nil)
	require.NoError(t, err)
	require.NoError(t, r.file.Close())

	ctx := context.Background()
	samples := make([]sample.Sample, testRate+3)
	for i := range samples {
		samples[i] = testLayout.New(uint64(i))
	}

	err = r.WriteSamples(ctx, samples)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	assert.NotPanics(t, func() {
		again := r.WriteSamples(ctx, samples[:2])
		assert.ErrorIs(t, again, err)
	})
	assert.NotPanics(t, func() {
		assert.Error(t, r.Close(ctx), "closing an already closed file fails")
	})
	assert.Zero(t, r.Records())
}
