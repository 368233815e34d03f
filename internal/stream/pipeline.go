package stream

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tabulon-lab/project-tabulon/internal/core/aggregation"
	"github.com/tabulon-lab/project-tabulon/internal/core/storage"
	"github.com/tabulon-lab/project-tabulon/internal/registry"
)

// PipelineOptions configures one producer/consumer pair.
type PipelineOptions struct {
	// StreamID identifies the stream in the registry. Empty generates one.
	StreamID string

	ChunkSize   int
	MaxDemand   int
	MemoryLimit uint64
	BufferSize  int
	MaxErrors   int

	// CacheKey enables page caching on the producer side.
	CacheKey   string
	RetryFetch bool

	Transform Transform
	Specs     []aggregation.Spec

	EnableTelemetry bool
}

// Pipeline wires a producer and a consumer for one stream and registers
// the stream so it can be paused, resumed, or cancelled through the
// registry while running.
type Pipeline struct {
	id       string
	registry *registry.Registry
	producer *Producer
	consumer *Consumer
}

// NewPipeline builds and registers a pipeline. The stream starts in the
// running state; callers control it afterwards through the registry.
func NewPipeline(
	source storage.RecordSource,
	query storage.Query,
	reg *registry.Registry,
	cache *PageCache,
	opts PipelineOptions,
) (*Pipeline, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	id := opts.StreamID
	if id == "" {
		id = uuid.NewString()
	}
	if err := reg.Register(id); err != nil {
		return nil, fmt.Errorf("registering stream %s: %w", id, err)
	}

	producer := NewProducer(source, query, reg, cache, ProducerOptions{
		StreamID:        id,
		ChunkSize:       opts.ChunkSize,
		MaxDemand:       opts.MaxDemand,
		MemoryLimit:     opts.MemoryLimit,
		CacheKey:        opts.CacheKey,
		RetryFetch:      opts.RetryFetch,
		EnableTelemetry: opts.EnableTelemetry,
	})
	consumer := NewConsumer(ConsumerOptions{
		StreamID:        id,
		Transform:       opts.Transform,
		Specs:           opts.Specs,
		BufferSize:      opts.BufferSize,
		MaxErrors:       opts.MaxErrors,
		EnableTelemetry: opts.EnableTelemetry,
	})

	return &Pipeline{
		id:       id,
		registry: reg,
		producer: producer,
		consumer: consumer,
	}, nil
}

// ID returns the stream identifier registered for this pipeline.
func (p *Pipeline) ID() string { return p.id }

// Consumer exposes the aggregator stage for state snapshots.
func (p *Pipeline) Consumer() *Consumer { return p.consumer }

// Chunks returns the consumer's output channel.
func (p *Pipeline) Chunks() <-chan Chunk { return p.consumer.Chunks() }

// Demand adds n records of end-of-pipeline demand.
func (p *Pipeline) Demand(n int) { p.consumer.Ask(n) }

// Run drives both stages until the stream completes, is cancelled, or
// the context ends. No records flow until Demand is called.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.producer.Run(ctx)
	})
	g.Go(func() error {
		return p.consumer.Run(ctx, p.producer)
	})
	return g.Wait()
}

// RunToCompletion runs the pipeline while continuously demanding and
// draining output, so aggregation state fills without an external sink.
// demandQuantum caps outstanding demand per round; zero uses the
// consumer's buffer size.
func (p *Pipeline) RunToCompletion(ctx context.Context, demandQuantum int) error {
	if demandQuantum <= 0 {
		demandQuantum = p.consumer.opts.BufferSize
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(ctx)
	})
	g.Go(func() error {
		p.Demand(demandQuantum)
		for {
			select {
			case <-ctx.Done():
				return nil
			case chunk, ok := <-p.Chunks():
				if !ok {
					return nil
				}
				p.Demand(chunk.Len())
			}
		}
	})
	return g.Wait()
}
