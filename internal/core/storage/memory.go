package storage

import (
	"context"
	"sync"

	"github.com/tabulon-lab/project-tabulon/internal/core/record"
)

// MemorySource is an in-process RecordSource keyed by resource name.
// Used by tests and demo streams; pages are slices of a stable backing
// slice, so ordering is trivially total.
type MemorySource struct {
	mu      sync.RWMutex
	records map[string][]record.Record
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{records: make(map[string][]record.Record)}
}

// Load replaces the records of one resource.
func (s *MemorySource) Load(resource string, recs []record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[resource] = recs
}

// FetchPage returns up to limit records starting at offset.
func (s *MemorySource) FetchPage(ctx context.Context, q Query, offset, limit int) ([]record.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[q.Resource]
	if offset >= len(recs) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > len(recs) {
		end = len(recs)
	}

	page := make([]record.Record, end-offset)
	copy(page, recs[offset:end])
	return page, nil
}
