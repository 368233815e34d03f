package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabulon-lab/project-tabulon/internal/core/aggregation"
	"github.com/tabulon-lab/project-tabulon/internal/core/record"
)

type fakeUpstream struct {
	out  chan Chunk
	mu   sync.Mutex
	asks []int
}

// newFakeUpstream preloads chunks and closes the channel, so the
// consumer sees a finite upstream without a live producer.
func newFakeUpstream(chunks ...Chunk) *fakeUpstream {
	f := &fakeUpstream{out: make(chan Chunk, len(chunks))}
	for _, c := range chunks {
		f.out <- c
	}
	close(f.out)
	return f
}

func (f *fakeUpstream) Chunks() <-chan Chunk { return f.out }

func (f *fakeUpstream) Ask(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asks = append(f.asks, n)
}

func (f *fakeUpstream) askTotal() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.asks {
		total += n
	}
	return total
}

// runConsumer drives the consumer over the upstreams to completion and
// returns its emitted chunks.
func runConsumer(t *testing.T, c *Consumer, upstreams ...Upstream) []Chunk {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), upstreams...) }()

	var chunks []Chunk
	for chunk := range c.Chunks() {
		chunks = append(chunks, chunk)
	}
	require.NoError(t, <-done)
	return chunks
}

func orderRecord(id, region string, amount interface{}) record.Record {
	return record.New(id, map[string]interface{}{
		"region": region,
		"amount": amount,
	})
}

func chunksOf(size int, recs []record.Record) []Chunk {
	var chunks []Chunk
	for offset := 0; offset < len(recs); offset += size {
		end := offset + size
		if end > len(recs) {
			end = len(recs)
		}
		chunks = append(chunks, Chunk{StreamID: "s1", Offset: offset, Records: recs[offset:end]})
	}
	return chunks
}

func TestConsumerFlatAndGroupedAggregation(t *testing.T) {
	recs := []record.Record{
		orderRecord("r1", "North", 100.0),
		orderRecord("r2", "South", 200.0),
		orderRecord("r3", "North", 50.0),
	}

	c := NewConsumer(ConsumerOptions{
		StreamID: "s1",
		Specs: []aggregation.Spec{
			{Name: "total", Operator: aggregation.OpSum, Field: "amount"},
			{Name: "total.l1", Operator: aggregation.OpSum, Field: "amount", Level: 1,
				GroupBy: []aggregation.GroupField{{Field: "region"}}},
		},
		BufferSize: 2,
	})

	runConsumer(t, c, newFakeUpstream(chunksOf(2, recs)...))

	flat := c.AggregationState()
	require.Contains(t, flat, "total")
	assert.Equal(t, "350", flat["total"].Sum.String())
	assert.Equal(t, int64(3), flat["total"].Count)

	grouped := c.GroupedAggregationState()
	require.Contains(t, grouped, "total.l1")
	groups := grouped["total.l1"]
	require.Len(t, groups, 2)
	assert.Equal(t, "150", groups["North"].Sum.String())
	assert.Equal(t, int64(2), groups["North"].Count)
	assert.Equal(t, "200", groups["South"].Sum.String())
	assert.Equal(t, int64(1), groups["South"].Count)
}

func TestConsumerAggregationIndependentOfChunking(t *testing.T) {
	recs := make([]record.Record, 10)
	for i := range recs {
		region := "East"
		if i%2 == 1 {
			region = "West"
		}
		recs[i] = orderRecord(fmt.Sprintf("r%d", i), region, float64(i+1))
	}

	specs := []aggregation.Spec{
		{Name: "total", Operator: aggregation.OpSum, Field: "amount"},
		{Name: "total.l1", Operator: aggregation.OpSum, Field: "amount", Level: 1,
			GroupBy: []aggregation.GroupField{{Field: "region"}}},
	}

	var states []map[string]map[string]aggregation.Accumulator
	for _, size := range []int{1, 3, 10} {
		c := NewConsumer(ConsumerOptions{StreamID: "s1", Specs: specs})
		runConsumer(t, c, newFakeUpstream(chunksOf(size, recs)...))
		states = append(states, c.GroupedAggregationState())

		flat := c.AggregationState()
		assert.Equal(t, "55", flat["total"].Sum.String(), "chunk size %d", size)
	}

	assert.Equal(t, states[0], states[1])
	assert.Equal(t, states[1], states[2])
}

func TestConsumerGroupsByRelationshipPath(t *testing.T) {
	withState := record.New("r1", map[string]interface{}{"amount": 10.0})
	withState.AttachRelated("address", []record.Record{
		record.New("a1", map[string]interface{}{"state": "CA"}),
	})
	// No address loaded: the group key part resolves to nil, rendered "".
	withoutState := record.New("r2", map[string]interface{}{"amount": 5.0})

	c := NewConsumer(ConsumerOptions{
		StreamID: "s1",
		Specs: []aggregation.Spec{
			{Name: "by_state.l1", Operator: aggregation.OpCount, Level: 1,
				GroupBy: []aggregation.GroupField{{Path: []string{"address"}, Field: "state"}}},
		},
	})

	runConsumer(t, c, newFakeUpstream(Chunk{Records: []record.Record{withState, withoutState}}))

	groups := c.GroupedAggregationState()["by_state.l1"]
	require.Len(t, groups, 2)
	assert.Equal(t, int64(1), groups["CA"].Count)
	assert.Equal(t, int64(1), groups[""].Count)
}

func TestConsumerTransformIsolation(t *testing.T) {
	recs := []record.Record{
		orderRecord("r1", "North", 100.0),
		orderRecord("r2", "South", 200.0),
		orderRecord("r3", "North", 50.0),
	}

	c := NewConsumer(ConsumerOptions{
		StreamID: "s1",
		Transform: func(r record.Record) (record.Record, error) {
			if r.ID() == "r2" {
				return nil, errors.New("malformed amount")
			}
			return r, nil
		},
		Specs: []aggregation.Spec{
			{Name: "total", Operator: aggregation.OpSum, Field: "amount"},
		},
	})

	chunks := runConsumer(t, c, newFakeUpstream(chunksOf(3, recs)...))

	// The failed record is forwarded untransformed and still folded.
	total := 0
	for _, chunk := range chunks {
		total += chunk.Len()
	}
	assert.Equal(t, 3, total)

	flat := c.AggregationState()
	assert.Equal(t, int64(3), flat["total"].Count)
	assert.Equal(t, "350", flat["total"].Sum.String())

	errs, dropped := c.TransformErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, "r2", errs[0].RecordID)
	assert.Equal(t, "malformed amount", errs[0].Message)
	assert.Zero(t, dropped)
}

func TestConsumerTransformPanicIsolation(t *testing.T) {
	c := NewConsumer(ConsumerOptions{
		StreamID: "s1",
		Transform: func(r record.Record) (record.Record, error) {
			panic("boom")
		},
		Specs: []aggregation.Spec{
			{Name: "seen", Operator: aggregation.OpCount},
		},
	})

	runConsumer(t, c, newFakeUpstream(Chunk{Records: []record.Record{
		orderRecord("r1", "North", 1.0),
	}}))

	assert.Equal(t, int64(1), c.AggregationState()["seen"].Count)

	errs, _ := c.TransformErrors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "transform panic")
}

func TestConsumerTransformErrorListIsBounded(t *testing.T) {
	recs := []record.Record{
		orderRecord("r1", "N", 1.0),
		orderRecord("r2", "N", 1.0),
		orderRecord("r3", "N", 1.0),
	}

	c := NewConsumer(ConsumerOptions{
		StreamID: "s1",
		Transform: func(r record.Record) (record.Record, error) {
			return nil, fmt.Errorf("bad record %s", r.ID())
		},
		MaxErrors: 2,
	})

	runConsumer(t, c, newFakeUpstream(chunksOf(3, recs)...))

	errs, dropped := c.TransformErrors()
	require.Len(t, errs, 2)
	assert.Equal(t, 1, dropped)
	// Oldest entries are dropped first.
	assert.Equal(t, "r2", errs[0].RecordID)
	assert.Equal(t, "r3", errs[1].RecordID)
}

func TestConsumerRechunksOutputAtBufferSize(t *testing.T) {
	recs := make([]record.Record, 7)
	for i := range recs {
		recs[i] = orderRecord(fmt.Sprintf("r%d", i), "N", 1.0)
	}

	c := NewConsumer(ConsumerOptions{StreamID: "s1", BufferSize: 3})

	chunks := runConsumer(t, c, newFakeUpstream(chunksOf(2, recs)...))

	require.Len(t, chunks, 3)
	assert.Equal(t, 3, chunks[0].Len())
	assert.Equal(t, 0, chunks[0].Offset)
	assert.Equal(t, 3, chunks[1].Len())
	assert.Equal(t, 3, chunks[1].Offset)
	assert.Equal(t, 1, chunks[2].Len())
	assert.Equal(t, 6, chunks[2].Offset)
}

func TestConsumerAskAfterRunExitIsDiscarded(t *testing.T) {
	c := NewConsumer(ConsumerOptions{StreamID: "s1"})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), newFakeUpstream()) }()

	for range c.Chunks() {
	}
	require.NoError(t, <-done)

	// Demand arriving after the stage exited must not block the caller.
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 200; i++ {
			c.Ask(1)
		}
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Ask blocked after consumer exit")
	}
}

func TestConsumerForwardsDemandUpstream(t *testing.T) {
	// Upstream stays open until the demand has been observed.
	up := &fakeUpstream{out: make(chan Chunk)}
	c := NewConsumer(ConsumerOptions{StreamID: "s1", BufferSize: 25})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), up) }()

	c.Ask(60)

	require.Eventually(t, func() bool {
		return up.askTotal() == 60
	}, time.Second, 5*time.Millisecond)

	close(up.out)
	for range c.Chunks() {
	}
	require.NoError(t, <-done)

	// Demand is forwarded in buffer-size quanta.
	up.mu.Lock()
	defer up.mu.Unlock()
	for _, n := range up.asks {
		assert.LessOrEqual(t, n, 25)
	}
}
