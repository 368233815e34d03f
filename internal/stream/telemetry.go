package stream

import (
	"log/slog"
	"time"
)

// FetchEvent describes one completed producer fetch cycle.
type FetchEvent struct {
	StreamID  string
	Offset    int
	ChunkSize int // actual records fetched, <= configured chunk size
	Duration  time.Duration
	CacheHit  bool
}

// TransformFailure describes one isolated per-record transform error.
type TransformFailure struct {
	StreamID string
	RecordID string
	Err      error
}

// Telemetry receives pipeline events. Implementations must be safe for
// concurrent use; events are emitted from stream goroutines.
type Telemetry interface {
	ChunkFetched(FetchEvent)
	TransformFailed(TransformFailure)
}

// NopTelemetry discards all events.
type NopTelemetry struct{}

func (NopTelemetry) ChunkFetched(FetchEvent)          {}
func (NopTelemetry) TransformFailed(TransformFailure) {}

// SlogTelemetry emits events as structured log records.
type SlogTelemetry struct{}

func (SlogTelemetry) ChunkFetched(e FetchEvent) {
	slog.Debug("producer.chunk_fetched",
		"stream_id", e.StreamID,
		"offset", e.Offset,
		"chunk_size_actual", e.ChunkSize,
		"duration", e.Duration,
		"cache_hit", e.CacheHit,
	)
}

func (SlogTelemetry) TransformFailed(e TransformFailure) {
	slog.Warn("consumer.transform_failed",
		"stream_id", e.StreamID,
		"record_id", e.RecordID,
		"error", e.Err,
	)
}
