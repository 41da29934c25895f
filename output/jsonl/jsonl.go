// Package jsonl writes metrics records to a file, one JSON object per line.
package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/bcistream/component"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/output"
	"github.com/c360/bcistream/quality"
)

// Config holds configuration for the JSON-lines sink
type Config struct {
	Directory  string `json:"directory" yaml:"directory"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
	// Format is "jsonl" (compact) or "json" (indented, still one record per entry).
	Format        string        `json:"format" yaml:"format"`
	Append        bool          `json:"append" yaml:"append"`
	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// DefaultConfig returns default configuration for the sink
func DefaultConfig() Config {
	return Config{
		Directory:     "data",
		FilePrefix:    "metrics",
		Format:        "jsonl",
		Append:        true,
		BufferSize:    32,
		FlushInterval: time.Second,
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jsonl.Config", "Validate", "directory is required")
	}
	if c.Format != "json" && c.Format != "jsonl" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jsonl.Config", "Validate",
			"format must be one of: json, jsonl")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jsonl.Config", "Validate",
			"buffer_size cannot be negative")
	}
	if c.FlushInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jsonl.Config", "Validate",
			"flush_interval cannot be negative")
	}
	return nil
}

// Path returns the file the sink writes to.
func (c Config) Path() string {
	return filepath.Join(c.Directory, fmt.Sprintf("%s.%s", c.FilePrefix, c.Format))
}

// Sink buffers records and writes them to disk in batches
type Sink struct {
	cfg    Config
	logger *slog.Logger

	file   *os.File
	fileMu sync.Mutex

	buffer   [][]byte
	bufferMu sync.Mutex

	shutdown  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	startTime time.Time

	recordsWritten atomic.Int64
	bytesWritten   atomic.Int64
	errors         atomic.Int64
	lastActivity   atomic.Int64
}

var _ output.MetricsSink = (*Sink)(nil)

// New creates the output directory, opens the file and starts the flush loop.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "jsonl", "New", "create output directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(cfg.Path(), flags, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "jsonl", "New", "open output file")
	}

	s := &Sink{
		cfg:       cfg,
		logger:    logger.With("component", "jsonl-output", "path", cfg.Path()),
		file:      f,
		buffer:    make([][]byte, 0, cfg.BufferSize),
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
	}
	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info("JSON-lines output started", "format", cfg.Format, "append", cfg.Append,
		"buffer_size", cfg.BufferSize)
	return s, nil
}

// Name implements output.MetricsSink.
func (s *Sink) Name() string { return "jsonl" }

// PublishMetrics buffers m and flushes when the buffer is full.
func (s *Sink) PublishMetrics(_ context.Context, m quality.SamplerMetrics) error {
	var (
		data []byte
		err  error
	)
	if s.cfg.Format == "json" {
		data, err = json.MarshalIndent(m, "", "  ")
	} else {
		data, err = json.Marshal(m)
	}
	if err != nil {
		s.errors.Add(1)
		return errors.WrapInvalid(err, "jsonl", "PublishMetrics", "encode record")
	}

	s.bufferMu.Lock()
	s.buffer = append(s.buffer, data)
	shouldFlush := len(s.buffer) >= s.cfg.BufferSize
	s.bufferMu.Unlock()

	s.lastActivity.Store(time.Now().UnixNano())
	if shouldFlush {
		return s.flush()
	}
	return nil
}

func (s *Sink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			if err := s.flush(); err != nil {
				s.logger.Error("Periodic flush failed", "error", err)
			}
		}
	}
}

// flush writes buffered records to the file
func (s *Sink) flush() error {
	s.bufferMu.Lock()
	if len(s.buffer) == 0 {
		s.bufferMu.Unlock()
		return nil
	}
	records := s.buffer
	s.buffer = make([][]byte, 0, s.cfg.BufferSize)
	s.bufferMu.Unlock()

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.file == nil {
		s.errors.Add(int64(len(records)))
		return errors.WrapFatal(errors.ErrNotStarted, "jsonl", "flush",
			fmt.Sprintf("file closed, %d records lost", len(records)))
	}

	for i, rec := range records {
		n, err := s.file.Write(append(rec, '\n'))
		if err != nil {
			s.errors.Add(int64(len(records) - i))
			return errors.WrapTransient(err, "jsonl", "flush", "write record")
		}
		s.recordsWritten.Add(1)
		s.bytesWritten.Add(int64(n))
	}
	return nil
}

// Close flushes remaining records and closes the file. It is safe to call twice.
func (s *Sink) Close(context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.shutdown)
		s.wg.Wait()

		err = s.flush()

		s.fileMu.Lock()
		if s.file != nil {
			if cerr := s.file.Close(); cerr != nil && err == nil {
				err = errors.WrapTransient(cerr, "jsonl", "Close", "close output file")
			}
			s.file = nil
		}
		s.fileMu.Unlock()

		s.logger.Info("JSON-lines output stopped",
			"records_written", s.recordsWritten.Load(), "errors", s.errors.Load())
	})
	return err
}

// Meta returns component metadata
func (s *Sink) Meta() component.Metadata {
	return component.Metadata{
		Name:        "jsonl-output",
		Type:        "output",
		Description: "JSON-lines file output for window metrics",
		Version:     "0.1.0",
	}
}

// Health returns the current health status
func (s *Sink) Health() component.HealthStatus {
	s.fileMu.Lock()
	open := s.file != nil
	s.fileMu.Unlock()

	return component.HealthStatus{
		Healthy:    open,
		LastCheck:  time.Now(),
		ErrorCount: int(s.errors.Load()),
		Uptime:     time.Since(s.startTime),
	}
}

// DataFlow returns current data flow metrics
func (s *Sink) DataFlow() component.FlowMetrics {
	written := s.recordsWritten.Load()
	errorCount := s.errors.Load()
	elapsed := time.Since(s.startTime).Seconds()

	var errorRate, rate, byteRate float64
	if written > 0 {
		errorRate = float64(errorCount) / float64(written)
	}
	if elapsed > 0 {
		rate = float64(written) / elapsed
		byteRate = float64(s.bytesWritten.Load()) / elapsed
	}

	var last time.Time
	if ns := s.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		MessagesPerSecond: rate,
		BytesPerSecond:    byteRate,
		ErrorRate:         errorRate,
		LastActivity:      last,
	}
}
