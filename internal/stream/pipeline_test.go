package stream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabulon-lab/project-tabulon/internal/core/aggregation"
	"github.com/tabulon-lab/project-tabulon/internal/core/record"
	"github.com/tabulon-lab/project-tabulon/internal/core/storage"
	"github.com/tabulon-lab/project-tabulon/internal/registry"
)

func newTestPipeline(t *testing.T, total int, opts PipelineOptions) (*Pipeline, *registry.Registry) {
	t.Helper()

	source := storage.NewMemorySource()
	recs := make([]record.Record, total)
	for i := 0; i < total; i++ {
		region := "North"
		if i%3 == 0 {
			region = "South"
		}
		recs[i] = record.New(fmt.Sprintf("rec-%d", i), map[string]interface{}{
			"region": region,
			"amount": float64(i + 1),
		})
	}
	source.Load("orders", recs)

	reg := registry.New()
	p, err := NewPipeline(source, storage.Query{Resource: "orders"}, reg, nil, opts)
	require.NoError(t, err)
	return p, reg
}

func TestPipelineGeneratesAndRegistersStreamID(t *testing.T) {
	p, reg := newTestPipeline(t, 0, PipelineOptions{})

	require.NotEmpty(t, p.ID())
	assert.Equal(t, registry.StatusRunning, reg.GetStatus(p.ID()))
}

func TestPipelineRejectsDuplicateStreamID(t *testing.T) {
	source := storage.NewMemorySource()
	reg := registry.New()

	_, err := NewPipeline(source, storage.Query{Resource: "orders"}, reg, nil,
		PipelineOptions{StreamID: "dup"})
	require.NoError(t, err)

	_, err = NewPipeline(source, storage.Query{Resource: "orders"}, reg, nil,
		PipelineOptions{StreamID: "dup"})
	assert.ErrorIs(t, err, registry.ErrAlreadyRegistered)
}

func TestPipelineRejectsInvalidQuery(t *testing.T) {
	_, err := NewPipeline(storage.NewMemorySource(), storage.Query{}, registry.New(), nil,
		PipelineOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestPipelineRunToCompletionAggregates(t *testing.T) {
	p, reg := newTestPipeline(t, 9, PipelineOptions{
		ChunkSize:  2,
		BufferSize: 4,
		Specs: []aggregation.Spec{
			{Name: "total", Operator: aggregation.OpSum, Field: "amount"},
			{Name: "total.l1", Operator: aggregation.OpSum, Field: "amount", Level: 1,
				GroupBy: []aggregation.GroupField{{Field: "region"}}},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.RunToCompletion(ctx, 0))

	flat := p.Consumer().AggregationState()
	assert.Equal(t, "45", flat["total"].Sum.String())
	assert.Equal(t, int64(9), flat["total"].Count)

	groups := p.Consumer().GroupedAggregationState()["total.l1"]
	// Records 0,3,6 (amounts 1,4,7) are South; the rest North.
	assert.Equal(t, "12", groups["South"].Sum.String())
	assert.Equal(t, "33", groups["North"].Sum.String())

	assert.Equal(t, registry.StatusCompleted, reg.GetStatus(p.ID()))
}

func TestPipelineDemandOverrunCompletes(t *testing.T) {
	p, reg := newTestPipeline(t, 5, PipelineOptions{ChunkSize: 25, BufferSize: 25})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	// Demand vastly exceeding the source size: the stream must still
	// complete and deliver exactly the records that exist.
	p.Demand(10000)

	total := 0
	for c := range p.Chunks() {
		total += c.Len()
	}
	require.NoError(t, <-done)

	assert.Equal(t, 5, total)
	assert.Equal(t, registry.StatusCompleted, reg.GetStatus(p.ID()))
}

func TestPipelineCancelViaRegistryStopsRun(t *testing.T) {
	p, reg := newTestPipeline(t, 100, PipelineOptions{ChunkSize: 5, BufferSize: 5})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	p.Demand(5)
	<-p.Chunks()

	require.NoError(t, reg.UpdateStatus(p.ID(), registry.StatusCancelled))
	p.Demand(5)

	for range p.Chunks() {
	}
	require.NoError(t, <-done)
	assert.Equal(t, registry.StatusCancelled, reg.GetStatus(p.ID()))
}
