package streamapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	v1 "github.com/tabulon-lab/project-tabulon/internal/api/v1"
	"github.com/tabulon-lab/project-tabulon/internal/chart"
	"github.com/tabulon-lab/project-tabulon/internal/core/aggregation"
	"github.com/tabulon-lab/project-tabulon/internal/core/storage"
	"github.com/tabulon-lab/project-tabulon/internal/registry"
	"github.com/tabulon-lab/project-tabulon/internal/stream"
)

// ErrStreamNotFound is returned when a stream id is not known to this
// service instance.
var ErrStreamNotFound = errors.New("stream not found")

// Options carries the server-wide stream defaults from config.
type Options struct {
	ChunkSize          int
	MaxDemand          int
	BufferSize         int
	MemoryLimit        uint64
	MaxTransformErrors int
	RetryFetch         bool
}

// runningStream holds everything the API needs to control and observe
// one live pipeline.
type runningStream struct {
	pipeline  *stream.Pipeline
	collector *chart.Collector
	cancel    context.CancelFunc
	done      chan struct{}
}

// Service owns the stream lifecycle behind the HTTP API: it compiles
// reports into aggregation specs, starts pipelines, and routes control
// operations through the registry.
type Service struct {
	reports  aggregation.ReportRepository
	source   storage.RecordSource
	registry *registry.Registry
	cache    *stream.PageCache // nil disables page caching
	opts     Options

	mu      sync.RWMutex
	streams map[string]*runningStream
}

// NewService creates the stream API service.
func NewService(
	reports aggregation.ReportRepository,
	source storage.RecordSource,
	reg *registry.Registry,
	cache *stream.PageCache,
	opts Options,
) *Service {
	if reports == nil {
		panic("streamapi: reports must not be nil")
	}
	if source == nil {
		panic("streamapi: source must not be nil")
	}
	if reg == nil {
		panic("streamapi: registry must not be nil")
	}
	return &Service{
		reports:  reports,
		source:   source,
		registry: reg,
		cache:    cache,
		opts:     opts,
		streams:  make(map[string]*runningStream),
	}
}

// StartStream compiles the named report, builds a pipeline over the
// report's resource, and runs it to completion in the background.
func (s *Service) StartStream(ctx context.Context, req v1.StartStreamRequest) (*v1.StartStreamResponse, error) {
	report, err := s.reports.Get(ctx, req.Report)
	if err != nil {
		return nil, err
	}

	specs, err := aggregation.BuildAggregations(*report, aggregation.BuildOptions{
		Cumulative: report.Cumulative,
	})
	if err != nil {
		return nil, fmt.Errorf("compiling report %q: %w", report.Name, err)
	}

	query := storage.Query{
		Resource:      report.Resource,
		Relationships: aggregation.ExtractAllRelationshipDependencies(specs),
	}

	chunkSize := s.opts.ChunkSize
	if req.ChunkSize > 0 {
		chunkSize = req.ChunkSize
	}
	maxDemand := s.opts.MaxDemand
	if req.MaxDemand > 0 {
		maxDemand = req.MaxDemand
	}

	cacheKey := ""
	if s.cache != nil {
		cacheKey = report.Name + "@" + report.Fingerprint
	}

	pipeline, err := stream.NewPipeline(s.source, query, s.registry, s.cache, stream.PipelineOptions{
		ChunkSize:       chunkSize,
		MaxDemand:       maxDemand,
		MemoryLimit:     s.opts.MemoryLimit,
		BufferSize:      s.opts.BufferSize,
		MaxErrors:       s.opts.MaxTransformErrors,
		CacheKey:        cacheKey,
		RetryFetch:      s.opts.RetryFetch,
		Specs:           specs,
		EnableTelemetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("starting stream for report %q: %w", report.Name, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	running := &runningStream{
		pipeline:  pipeline,
		collector: chart.NewCollector(pipeline.ID(), specs, pipeline.Consumer()),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.streams[pipeline.ID()] = running
	s.mu.Unlock()

	go func() {
		defer close(running.done)
		if err := pipeline.RunToCompletion(runCtx, 0); err != nil {
			slog.Error("[StreamAPI] Stream terminated with error",
				"stream_id", pipeline.ID(), "report", report.Name, "error", err)
			return
		}
		slog.Info("[StreamAPI] Stream finished",
			"stream_id", pipeline.ID(), "report", report.Name)
	}()

	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.Name
	}

	slog.Info("[StreamAPI] Stream started",
		"stream_id", pipeline.ID(),
		"report", report.Name,
		"resource", report.Resource,
		"aggregations", len(specs),
		"relationships", query.Relationships,
	)

	return &v1.StartStreamResponse{
		StreamID:     pipeline.ID(),
		Report:       report.Name,
		Resource:     report.Resource,
		Aggregations: names,
	}, nil
}

// PauseStream pauses a running stream via the registry. The producer
// observes the pause on its next fetch cycle.
func (s *Service) PauseStream(id string) error {
	return s.setStatus(id, registry.StatusPaused)
}

// ResumeStream resumes a paused stream.
func (s *Service) ResumeStream(id string) error {
	return s.setStatus(id, registry.StatusRunning)
}

// CancelStream cancels a stream. Terminal and irreversible.
func (s *Service) CancelStream(id string) error {
	if err := s.setStatus(id, registry.StatusCancelled); err != nil {
		return err
	}

	// Unblock the pipeline goroutines; the registry status alone stops
	// the producer only at its next fetch cycle.
	s.mu.RLock()
	running, ok := s.streams[id]
	s.mu.RUnlock()
	if ok {
		running.cancel()
	}
	return nil
}

func (s *Service) setStatus(id string, status registry.Status) error {
	err := s.registry.UpdateStatus(id, status)
	if errors.Is(err, registry.ErrNotRegistered) {
		return fmt.Errorf("stream %q: %w", id, ErrStreamNotFound)
	}
	return err
}

// StreamStatus returns one stream's registry state.
func (s *Service) StreamStatus(id string) (*v1.StreamStatusResponse, error) {
	for _, e := range s.registry.List() {
		if e.StreamID == id {
			return &v1.StreamStatusResponse{
				StreamID:     e.StreamID,
				Status:       string(e.Status),
				LastActivity: e.LastActivity,
			}, nil
		}
	}
	return nil, fmt.Errorf("stream %q: %w", id, ErrStreamNotFound)
}

// ListStreams returns the registry state of all known streams.
func (s *Service) ListStreams() v1.StreamListResponse {
	entries := s.registry.List()
	out := v1.StreamListResponse{Streams: make([]v1.StreamStatusResponse, 0, len(entries))}
	for _, e := range entries {
		out.Streams = append(out.Streams, v1.StreamStatusResponse{
			StreamID:     e.StreamID,
			Status:       string(e.Status),
			LastActivity: e.LastActivity,
		})
	}
	return out
}

// Aggregates returns a snapshot of a stream's aggregation state. Valid
// mid-stream: the snapshot reflects whatever has been folded so far.
func (s *Service) Aggregates(id string) (*chart.Snapshot, error) {
	s.mu.RLock()
	running, ok := s.streams[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("stream %q: %w", id, ErrStreamNotFound)
	}
	snap := running.collector.Snapshot()
	return &snap, nil
}

// Chart renders one of a stream's aggregations as a chart series.
func (s *Service) Chart(id, aggregationName string) (*chart.Series, error) {
	s.mu.RLock()
	running, ok := s.streams[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("stream %q: %w", id, ErrStreamNotFound)
	}
	series, err := running.collector.Series(aggregationName)
	if err != nil {
		return nil, err
	}
	return &series, nil
}

// Shutdown cancels all live pipelines and waits for them to stop.
func (s *Service) Shutdown() {
	s.mu.Lock()
	streams := make([]*runningStream, 0, len(s.streams))
	for _, running := range s.streams {
		streams = append(streams, running)
	}
	s.mu.Unlock()

	for _, running := range streams {
		running.cancel()
	}
	for _, running := range streams {
		<-running.done
	}
}
