// Package edfrec records raw samples to an EDF file.
//
// Samples are written in one-second data records at the session rate, one
// EDF signal per channel in layout order. EDF assumes a uniform rate, so
// sample timestamps are not stored and dropped samples shorten the
// recording. Values outside a group's physical range are clipped.
package edfrec

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OpenPSG/edf"

	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/output"
	"github.com/c360/bcistream/sample"
)

// maxRecordBytes is the EDF recommendation for one data record.
const maxRecordBytes = 61440

// Range is the physical range and unit of one channel group.
type Range struct {
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
	Unit string  `json:"unit" yaml:"unit"`
}

// Ranges holds the physical range of each channel group.
type Ranges struct {
	EEG Range `json:"eeg" yaml:"eeg"`
	EMG Range `json:"emg" yaml:"emg"`
	EOG Range `json:"eog" yaml:"eog"`
	PPG Range `json:"ppg" yaml:"ppg"`
	EDA Range `json:"eda" yaml:"eda"`
}

// DefaultRanges covers typical scalp, muscle, ocular, optical and skin
// conductance amplitudes.
func DefaultRanges() Ranges {
	return Ranges{
		EEG: Range{Min: -1000, Max: 1000, Unit: "uV"},
		EMG: Range{Min: -5000, Max: 5000, Unit: "uV"},
		EOG: Range{Min: -2000, Max: 2000, Unit: "uV"},
		PPG: Range{Min: -10, Max: 10, Unit: "au"},
		EDA: Range{Min: 0, Max: 100, Unit: "uS"},
	}
}

// Config configures the recorder.
type Config struct {
	Path        string `json:"path" yaml:"path"`
	PatientID   string `json:"patient_id" yaml:"patient_id"`
	RecordingID string `json:"recording_id" yaml:"recording_id"`
	Ranges      Ranges `json:"ranges" yaml:"ranges"`
}

// Validate checks the configuration against the recorded layout and rate.
func (c Config) Validate(layout sample.Layout, rateHz int) error {
	if c.Path == "" {
		return errors.Invalidf(errors.ErrMissingConfig, "edfrec.Config", "Validate", "path is required")
	}
	if rateHz <= 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "edfrec.Config", "Validate", "sample rate must be positive, got %d", rateHz)
	}
	if size := layout.Total() * rateHz * 2; size > maxRecordBytes {
		return errors.Invalidf(errors.ErrInvalidConfig, "edfrec.Config", "Validate",
			"one second of %d channels at %d Hz needs %d bytes per record, EDF allows %d",
			layout.Total(), rateHz, size, maxRecordBytes)
	}
	for _, g := range c.groups(layout) {
		if g.n > 0 && g.r.Max <= g.r.Min {
			return errors.Invalidf(errors.ErrInvalidConfig, "edfrec.Config", "Validate",
				"%s range max %.2f must exceed min %.2f", g.name, g.r.Max, g.r.Min)
		}
	}
	return nil
}

type group struct {
	name string
	n    int
	r    Range
}

func (c Config) groups(l sample.Layout) []group {
	return []group{
		{"eeg", l.EEG, c.Ranges.EEG},
		{"emg", l.EMG, c.Ranges.EMG},
		{"eog", l.EOG, c.Ranges.EOG},
		{"ppg", l.PPG, c.Ranges.PPG},
		{"eda", l.EDA, c.Ranges.EDA},
	}
}

// Recorder is an output.SampleSink writing an EDF file.
type Recorder struct {
	cfg    Config
	layout sample.Layout
	rate   int
	logger *slog.Logger

	mu       sync.Mutex
	file     *os.File
	writer   *edf.Writer
	limits   []Range
	record   [][]float64
	filled   int
	last     []float32
	flat     []float32
	records  int
	clipped  int
	rejected int
	// failed latches the first data record write error.
	failed error
}

var _ output.SampleSink = (*Recorder)(nil)

// New creates the file and writes a provisional header.
func New(cfg Config, layout sample.Layout, rateHz int, logger *slog.Logger) (*Recorder, error) {
	if err := layout.Check(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(layout, rateHz); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.WrapFatal(err, "edfrec", "New", "create output directory")
	}
	f, err := os.Create(cfg.Path)
	if err != nil {
		return nil, errors.WrapFatal(err, "edfrec", "New", "create recording")
	}

	labels := layout.Labels()
	signals := make([]edf.Signal, 0, len(labels))
	limits := make([]Range, 0, len(labels))
	for _, g := range cfg.groups(layout) {
		for range g.n {
			signals = append(signals, edf.Signal{
				Label:             labels[len(signals)],
				TransducerType:    g.name,
				PhysicalDimension: g.r.Unit,
				PhysicalMin:       g.r.Min,
				PhysicalMax:       g.r.Max,
				DigitalMin:        -32768,
				DigitalMax:        32767,
				SamplesPerRecord:  rateHz,
			})
			limits = append(limits, g.r)
		}
	}

	w, err := edf.Create(f, edf.Header{
		Version:            edf.Version0,
		PatientID:          truncate(cfg.PatientID, 80),
		RecordingID:        truncate(cfg.RecordingID, 80),
		StartTime:          time.Now(),
		DataRecordDuration: time.Second,
		SignalCount:        len(signals),
		Signals:            signals,
	})
	if err != nil {
		_ = f.Close()
		return nil, errors.WrapFatal(err, "edfrec", "New", "write header")
	}
	record := make([][]float64, len(signals))
	for i := range record {
		record[i] = make([]float64, rateHz)
	}
	r := &Recorder{
		cfg:    cfg,
		layout: layout,
		rate:   rateHz,
		logger: logger.With("component", "edf-recorder", "path", cfg.Path),
		file:   f,
		writer: w,
		limits: limits,
		record: record,
		flat:   make([]float32, 0, layout.Total()),
	}
	r.logger.Info("EDF recording started", "signals", len(signals), "rate_hz", rateHz)
	return r, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Name implements output.SampleSink.
func (r *Recorder) Name() string { return "edf" }

// WriteSamples appends samples, writing a data record each time one fills.
// Samples that do not match the layout are skipped. After a failed record
// write every call returns that failure.
func (r *Recorder) WriteSamples(_ context.Context, samples []sample.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "edfrec", "WriteSamples", "recording closed")
	}
	if r.failed != nil {
		return r.failed
	}

	for _, s := range samples {
		if err := r.layout.Validate(s); err != nil {
			r.rejected++
			continue
		}
		r.flat = s.Flatten(r.flat[:0])
		if err := r.appendLocked(r.flat); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) appendLocked(values []float32) error {
	for ch, v := range values {
		lim := r.limits[ch]
		pv := float64(v)
		if pv < lim.Min || pv > lim.Max {
			r.clipped++
			pv = max(lim.Min, min(lim.Max, pv))
		}
		r.record[ch][r.filled] = pv
	}
	r.last = append(r.last[:0], values...)
	r.filled++
	if r.filled < r.rate {
		return nil
	}
	return r.writeRecordLocked()
}

func (r *Recorder) writeRecordLocked() error {
	if err := r.writer.WriteRecord(r.record); err != nil {
		r.filled = 0
		r.failed = errors.WrapFatal(err, "edfrec", "WriteSamples", "write data record")
		r.logger.Error("EDF recording failed", "records", r.records, "error", err)
		return r.failed
	}
	r.records++
	r.filled = 0
	return nil
}

// Records returns the number of complete data records written.
func (r *Recorder) Records() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Close pads a partial final record by repeating the last sample, finalizes
// the header and closes the file. A failed recording is closed without
// padding.
func (r *Recorder) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return nil
	}

	var errs []error
	if r.failed == nil && r.filled > 0 {
		padded := r.rate - r.filled
		r.logger.Info("Padding final EDF record", "samples", r.filled, "padding", padded)
		for r.filled > 0 {
			if err := r.appendLocked(r.last); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	if err := r.writer.Close(); err != nil {
		errs = append(errs, errors.WrapTransient(err, "edfrec", "Close", "finalize header"))
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, errors.WrapTransient(err, "edfrec", "Close", "close recording"))
	}
	r.writer = nil

	r.logger.Info("EDF recording closed", "records", r.records, "clipped_values", r.clipped,
		"rejected_samples", r.rejected)
	return stderrors.Join(errs...)
}
