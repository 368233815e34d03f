package stream

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/tabulon-lab/project-tabulon/internal/core/record"
	"github.com/tabulon-lab/project-tabulon/internal/core/storage"
	"github.com/tabulon-lab/project-tabulon/internal/registry"
)

const (
	defaultChunkSize          = 25
	defaultStatusPollInterval = 50 * time.Millisecond
	demandChannelCapacity     = 64
)

// ProducerOptions configures one producer instance.
type ProducerOptions struct {
	StreamID string

	// ChunkSize caps the records fetched and emitted per cycle.
	ChunkSize int

	// MaxDemand is a hard ceiling on how many records this producer will
	// ever emit in its lifetime, independent of downstream demand.
	// Exceeding it truncates the stream early to bound worst-case work
	// for a misbehaving consumer. 0 means unbounded.
	MaxDemand int

	// MemoryLimit is the circuit-breaker threshold in bytes. When the
	// estimated in-use memory exceeds it, the stream is paused in the
	// registry. 0 disables the breaker.
	MemoryLimit uint64

	// CacheKey enables the page cache when non-empty: fetched pages are
	// keyed by {CacheKey, query signature, offset} and cache hits bypass
	// the record source while still passing memory and registry checks.
	CacheKey string

	// RetryFetch retries a failed page fetch once before the stream
	// terminates in an error state.
	RetryFetch bool

	// StatusPollInterval is how often a paused producer re-checks the
	// registry. Zero uses the default.
	StatusPollInterval time.Duration

	// EnableTelemetry emits a producer.chunk_fetched event per cycle.
	EnableTelemetry bool
}

func (o ProducerOptions) normalized() ProducerOptions {
	n := o
	if n.ChunkSize <= 0 {
		n.ChunkSize = defaultChunkSize
	}
	if n.StatusPollInterval <= 0 {
		n.StatusPollInterval = defaultStatusPollInterval
	}
	return n
}

// Producer converts downstream demand into bounded paged fetches against
// the record source. It owns its offset exclusively — there is never a
// concurrent fetch overlap for one stream. Control flows in through the
// registry only: the producer polls its stream's status at the start of
// every fetch cycle and obeys pause/cancel without holding any reference
// to whoever set it.
type Producer struct {
	opts      ProducerOptions
	source    storage.RecordSource
	query     storage.Query
	registry  *registry.Registry
	telemetry Telemetry
	cache     *PageCache

	demand chan int
	out    chan Chunk
	done   chan struct{} // closed when Run returns; unblocks late Ask calls

	// mutated only by the Run goroutine
	offset  int
	emitted int
	pending int

	// memoryUsage estimates in-use bytes; swapped out in tests.
	memoryUsage func() uint64
}

// NewProducer creates a producer for one stream. The registry entry must
// already exist (the pipeline registers it).
func NewProducer(
	source storage.RecordSource,
	query storage.Query,
	reg *registry.Registry,
	cache *PageCache,
	opts ProducerOptions,
) *Producer {
	opts = opts.normalized()

	var telemetry Telemetry = NopTelemetry{}
	if opts.EnableTelemetry {
		telemetry = SlogTelemetry{}
	}

	return &Producer{
		opts:        opts,
		source:      source,
		query:       query,
		registry:    reg,
		telemetry:   telemetry,
		cache:       cache,
		demand:      make(chan int, demandChannelCapacity),
		out:         make(chan Chunk),
		done:        make(chan struct{}),
		memoryUsage: heapInUse,
	}
}

// Chunks returns the producer's output channel. It is closed when the
// stream completes, is cancelled, or fails.
func (p *Producer) Chunks() <-chan Chunk { return p.out }

// Ask adds n records of downstream demand. Zero or negative demand is a
// legal no-op. Demand arriving after the stream finished is discarded:
// an exhausted source answers further demand with no events and no
// error, and the caller must never block on it.
func (p *Producer) Ask(n int) {
	if n <= 0 {
		return
	}
	select {
	case p.demand <- n:
	case <-p.done:
	}
}

// Run serves demand until the source is exhausted, the stream is
// cancelled, or the context ends. The output channel is closed on return.
func (p *Producer) Run(ctx context.Context) error {
	defer close(p.out)
	defer close(p.done)

	for {
		if p.pending == 0 {
			select {
			case <-ctx.Done():
				return nil
			case n := <-p.demand:
				p.pending += n
			}
			continue
		}

		// Status is polled at the start of every fetch cycle; a pause or
		// cancel written to the registry is observed here, never pushed.
		switch status := p.registry.GetStatus(p.opts.StreamID); status {
		case registry.StatusCancelled:
			slog.Info("[Producer] Stream cancelled, stopping",
				"stream_id", p.opts.StreamID, "offset", p.offset)
			return nil
		case registry.StatusCompleted:
			return nil
		case registry.StatusPaused:
			// Demand stays buffered; it is re-evaluated once the registry
			// shows running again.
			select {
			case <-ctx.Done():
				return nil
			case n := <-p.demand:
				p.pending += n
			case <-time.After(p.opts.StatusPollInterval):
			}
			continue
		case registry.StatusUnknown:
			slog.Error("[Producer] Stream not registered, stopping",
				"stream_id", p.opts.StreamID)
			return registry.ErrNotRegistered
		default:
		}

		done, err := p.serveCycle(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// serveCycle performs one fetch-and-emit cycle against buffered demand.
func (p *Producer) serveCycle(ctx context.Context) (done bool, err error) {
	toFetch := p.pending
	if toFetch > p.opts.ChunkSize {
		toFetch = p.opts.ChunkSize
	}
	if p.opts.MaxDemand > 0 {
		remaining := p.opts.MaxDemand - p.emitted
		if remaining <= 0 {
			slog.Info("[Producer] Max demand reached, truncating stream",
				"stream_id", p.opts.StreamID, "emitted", p.emitted)
			p.complete()
			return true, nil
		}
		if toFetch > remaining {
			toFetch = remaining
		}
	}

	start := time.Now()
	records, cacheHit, fetchErr := p.fetch(ctx, p.offset, toFetch)
	if fetchErr != nil {
		slog.Error("[Producer] Fetch failed, terminating stream",
			"stream_id", p.opts.StreamID,
			"offset", p.offset,
			"error", fetchErr,
		)
		// Terminal for this stream only; unrelated streams are unaffected.
		_ = p.registry.UpdateStatus(p.opts.StreamID, registry.StatusCancelled)
		return true, fmt.Errorf("fetch at offset %d: %w", p.offset, fetchErr)
	}

	if len(records) == 0 {
		slog.Info("[Producer] Source exhausted, completing stream",
			"stream_id", p.opts.StreamID, "emitted", p.emitted)
		p.complete()
		return true, nil
	}

	// Circuit breaker runs before the chunk is returned downstream:
	// already-fetched work is not discarded, but no further fetch is
	// scheduled until the registry shows running again.
	if p.opts.MemoryLimit > 0 && p.memoryUsage() > p.opts.MemoryLimit {
		slog.Warn("[Producer] Memory limit exceeded, pausing stream",
			"stream_id", p.opts.StreamID,
			"limit_bytes", p.opts.MemoryLimit,
		)
		_ = p.registry.UpdateStatus(p.opts.StreamID, registry.StatusPaused)
	}

	chunk := Chunk{StreamID: p.opts.StreamID, Offset: p.offset, Records: records}
	select {
	case p.out <- chunk:
	case <-ctx.Done():
		return true, nil
	}

	p.telemetry.ChunkFetched(FetchEvent{
		StreamID:  p.opts.StreamID,
		Offset:    p.offset,
		ChunkSize: len(records),
		Duration:  time.Since(start),
		CacheHit:  cacheHit,
	})

	p.offset += len(records)
	p.emitted += len(records)
	p.pending -= len(records)
	if p.pending < 0 {
		p.pending = 0
	}
	return false, nil
}

func (p *Producer) fetch(ctx context.Context, offset, limit int) ([]record.Record, bool, error) {
	if p.cache != nil && p.opts.CacheKey != "" {
		key := fmt.Sprintf("%s|%s|%d|%d", p.opts.CacheKey, p.query.Signature(), offset, limit)
		return p.cache.GetOrFetch(key, func() ([]record.Record, error) {
			return p.fetchDirect(ctx, offset, limit)
		})
	}
	records, err := p.fetchDirect(ctx, offset, limit)
	return records, false, err
}

func (p *Producer) fetchDirect(ctx context.Context, offset, limit int) ([]record.Record, error) {
	records, err := p.source.FetchPage(ctx, p.query, offset, limit)
	if err != nil && p.opts.RetryFetch && ctx.Err() == nil {
		slog.Warn("[Producer] Fetch failed, retrying once",
			"stream_id", p.opts.StreamID, "offset", offset, "error", err)
		records, err = p.source.FetchPage(ctx, p.query, offset, limit)
	}
	return records, err
}

func (p *Producer) complete() {
	_ = p.registry.UpdateStatus(p.opts.StreamID, registry.StatusCompleted)
}

func heapInUse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapInuse
}
