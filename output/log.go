package output

import (
	"context"
	"log/slog"

	"github.com/c360/bcistream/quality"
)

// LogSink writes each metrics record as a structured log line.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

var _ MetricsSink = (*LogSink)(nil)

// NewLogSink logs records at level; error records are always logged at warn
// or above.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "output.log"), level: level}
}

// Name implements MetricsSink.
func (s *LogSink) Name() string { return "log" }

// PublishMetrics implements MetricsSink.
func (s *LogSink) PublishMetrics(ctx context.Context, m quality.SamplerMetrics) error {
	level := s.level
	if m.State == quality.StateError && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	attrs := []any{
		"session_id", m.SessionID,
		"window_seq", m.WindowSeq,
		"state", m.State.String(),
		"eeg_snr_db", m.EEGSNRdB,
		"artifact_rate_pct", m.ArtifactRatePct,
		"median_latency_ms", m.MedianLatencyMs,
		"p99_latency_ms", m.P99LatencyMs,
		"packet_loss_pct", m.PacketLossPct,
		"sample_count", m.SampleCount,
	}
	if m.Error != "" {
		attrs = append(attrs, "error", m.Error)
	}
	s.logger.Log(ctx, level, "Window metrics", attrs...)
	return nil
}

// Close implements MetricsSink.
func (s *LogSink) Close(context.Context) error { return nil }
