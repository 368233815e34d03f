package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/tabulon-lab/project-tabulon/internal/core/aggregation"
	"github.com/tabulon-lab/project-tabulon/internal/core/record"
)

const (
	defaultBufferSize = 25
	defaultMaxErrors  = 100
)

// Transform converts one record into its downstream shape. A non-nil
// error isolates the failure: the original record is forwarded and the
// stream continues.
type Transform func(record.Record) (record.Record, error)

// TransformError is one isolated per-record failure, kept in a bounded
// list for introspection.
type TransformError struct {
	RecordID string `json:"record_id"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

// Upstream is the producer-side contract the consumer subscribes to.
type Upstream interface {
	Chunks() <-chan Chunk
	Ask(n int)
}

// ConsumerOptions configures one aggregator stage.
type ConsumerOptions struct {
	StreamID string

	// Transform is applied per record; nil means identity.
	Transform Transform

	// Specs are the compiled aggregations to fold every record into.
	// Flat and grouped specs may be mixed; the consumer splits them.
	Specs []aggregation.Spec

	// BufferSize is the output flush threshold: records accumulate until
	// this many are buffered, then go downstream as one chunk. It also
	// bounds the stage's held memory regardless of downstream slowness.
	BufferSize int

	// MaxErrors bounds the transform error list; older entries are
	// dropped first.
	MaxErrors int

	// EnableTelemetry emits consumer.transform_failed events.
	EnableTelemetry bool
}

func (o ConsumerOptions) normalized() ConsumerOptions {
	n := o
	if n.BufferSize <= 0 {
		n.BufferSize = defaultBufferSize
	}
	if n.MaxErrors <= 0 {
		n.MaxErrors = defaultMaxErrors
	}
	return n
}

// Consumer is the aggregator stage: for every record arriving from its
// subscribed producers it applies the transform, folds the record into
// flat and grouped accumulators, and forwards it downstream. Demand from
// downstream is propagated 1:1 to the upstream producers, so buffered
// memory is bounded by BufferSize rather than by downstream slowness.
//
// Fold updates are strictly sequential (one Run goroutine); the mutex
// only coordinates with snapshot readers, which may call mid-stream.
type Consumer struct {
	opts      ConsumerOptions
	telemetry Telemetry

	flatSpecs    []aggregation.Spec
	groupedSpecs []aggregation.Spec

	demand chan int
	out    chan Chunk
	done   chan struct{} // closed when Run returns; unblocks late Ask calls

	mu          sync.RWMutex
	flat        map[string]*aggregation.Accumulator
	grouped     map[string]map[string]*aggregation.Accumulator
	errs        []TransformError
	errsDropped int

	// owned by the Run goroutine
	buffer  []record.Record
	emitted int
	rrNext  int
}

// NewConsumer creates an aggregator stage for one stream.
func NewConsumer(opts ConsumerOptions) *Consumer {
	opts = opts.normalized()

	var telemetry Telemetry = NopTelemetry{}
	if opts.EnableTelemetry {
		telemetry = SlogTelemetry{}
	}

	c := &Consumer{
		opts:      opts,
		telemetry: telemetry,
		demand:    make(chan int, demandChannelCapacity),
		out:       make(chan Chunk),
		done:      make(chan struct{}),
		flat:      make(map[string]*aggregation.Accumulator),
		grouped:   make(map[string]map[string]*aggregation.Accumulator),
	}

	for _, spec := range opts.Specs {
		if spec.Grouped() {
			c.groupedSpecs = append(c.groupedSpecs, spec)
			c.grouped[spec.Name] = make(map[string]*aggregation.Accumulator)
		} else {
			c.flatSpecs = append(c.flatSpecs, spec)
			c.flat[spec.Name] = aggregation.NewAccumulator()
		}
	}

	return c
}

// Chunks returns the stage's output channel, closed once all upstreams
// are exhausted and the remaining buffer has been flushed.
func (c *Consumer) Chunks() <-chan Chunk { return c.out }

// Ask adds n records of downstream demand, which is forwarded upstream.
// Demand arriving after the stage has exited is discarded rather than
// blocking the caller.
func (c *Consumer) Ask(n int) {
	if n <= 0 {
		return
	}
	select {
	case c.demand <- n:
	case <-c.done:
	}
}

// Run subscribes to the given upstreams and processes records until all
// of them close or the context ends. The output channel is closed on
// return.
func (c *Consumer) Run(ctx context.Context, upstreams ...Upstream) error {
	defer close(c.out)
	defer close(c.done)

	merged := make(chan Chunk)
	var wg sync.WaitGroup
	for _, up := range upstreams {
		wg.Add(1)
		go func(up Upstream) {
			defer wg.Done()
			for chunk := range up.Chunks() {
				select {
				case merged <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}(up)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-c.demand:
			c.propagateDemand(n, upstreams)
		case chunk, ok := <-merged:
			if !ok {
				return c.flushRemainder(ctx)
			}
			if err := c.handleChunk(ctx, chunk); err != nil {
				return err
			}
		}
	}
}

// propagateDemand forwards downstream demand to the upstreams in
// BufferSize quanta, round-robin, keeping the ask proportional to the
// stage's own unfulfilled demand.
func (c *Consumer) propagateDemand(n int, upstreams []Upstream) {
	if len(upstreams) == 0 {
		return
	}
	for n > 0 {
		quantum := n
		if quantum > c.opts.BufferSize {
			quantum = c.opts.BufferSize
		}
		upstreams[c.rrNext%len(upstreams)].Ask(quantum)
		c.rrNext++
		n -= quantum
	}
}

func (c *Consumer) handleChunk(ctx context.Context, chunk Chunk) error {
	for _, rec := range chunk.Records {
		c.buffer = append(c.buffer, c.processRecord(rec))
		if len(c.buffer) >= c.opts.BufferSize {
			if err := c.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// processRecord runs transform → flat fold → grouped fold and returns
// the record to forward. A failed transform never poisons the stream:
// the error is recorded and the original record flows on.
func (c *Consumer) processRecord(rec record.Record) record.Record {
	out := rec
	if c.opts.Transform != nil {
		transformed, err := applyTransform(c.opts.Transform, rec)
		if err != nil {
			c.recordError(rec, err)
			c.telemetry.TransformFailed(TransformFailure{
				StreamID: c.opts.StreamID,
				RecordID: rec.ID(),
				Err:      err,
			})
		} else {
			out = transformed
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.flatSpecs {
		spec := &c.flatSpecs[i]
		value, ok := aggregation.ExtractDecimal(out, spec.Field)
		c.flat[spec.Name].Fold(value, ok)
	}

	for i := range c.groupedSpecs {
		spec := &c.groupedSpecs[i]
		key := aggregation.ResolveGroupKey(out, spec.GroupBy)
		groups := c.grouped[spec.Name]
		acc, exists := groups[key]
		if !exists {
			acc = aggregation.NewAccumulator()
			groups[key] = acc
		}
		value, ok := aggregation.ExtractDecimal(out, spec.Field)
		acc.Fold(value, ok)
	}

	return out
}

// applyTransform shields the stage from injected transform code: both
// returned errors and panics surface as a per-record error.
func applyTransform(t Transform, rec record.Record) (out record.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = rec
			err = fmt.Errorf("transform panic: %v", r)
		}
	}()
	return t(rec)
}

func (c *Consumer) recordError(rec record.Record, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.errs) >= c.opts.MaxErrors {
		c.errs = c.errs[1:]
		c.errsDropped++
	}
	c.errs = append(c.errs, TransformError{
		RecordID: rec.ID(),
		Err:      err,
		Message:  err.Error(),
	})
}

func (c *Consumer) flush(ctx context.Context) error {
	if len(c.buffer) == 0 {
		return nil
	}
	chunk := Chunk{StreamID: c.opts.StreamID, Offset: c.emitted, Records: c.buffer}
	select {
	case c.out <- chunk:
	case <-ctx.Done():
		return nil
	}
	c.emitted += len(c.buffer)
	c.buffer = nil
	return nil
}

func (c *Consumer) flushRemainder(ctx context.Context) error {
	return c.flush(ctx)
}

// AggregationState returns a copy of the flat accumulators, readable at
// any time mid-stream for progressive totals.
func (c *Consumer) AggregationState() map[string]aggregation.Accumulator {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]aggregation.Accumulator, len(c.flat))
	for name, acc := range c.flat {
		out[name] = *acc
	}
	return out
}

// GroupedAggregationState returns a copy of the grouped accumulators:
// spec name → group key → state.
func (c *Consumer) GroupedAggregationState() map[string]map[string]aggregation.Accumulator {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]map[string]aggregation.Accumulator, len(c.grouped))
	for name, groups := range c.grouped {
		m := make(map[string]aggregation.Accumulator, len(groups))
		for key, acc := range groups {
			m[key] = *acc
		}
		out[name] = m
	}
	return out
}

// TransformErrors returns a copy of the bounded error list and the count
// of older entries dropped from it.
func (c *Consumer) TransformErrors() ([]TransformError, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	errs := make([]TransformError, len(c.errs))
	copy(errs, c.errs)
	return errs, c.errsDropped
}
