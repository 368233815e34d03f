package storage

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/tabulon-lab/project-tabulon/internal/core/record"
)

// ErrInvalidQuery is returned when a query is missing its resource.
var ErrInvalidQuery = errors.New("invalid query")

// Query identifies one paged record stream: which resource to read and
// which relationships the source must eager-load so that relationship-path
// group keys can be resolved without further lookups.
type Query struct {
	Resource      string
	Relationships []string
}

// Validate checks the query is usable before the first fetch. A nil/empty
// query must fail the first fetch with a logged error, not panic later.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Resource) == "" {
		return ErrInvalidQuery
	}
	return nil
}

// Signature returns a stable string identifying the query, used as part
// of page-cache keys. Relationship order does not change the signature.
func (q Query) Signature() string {
	rels := make([]string, len(q.Relationships))
	copy(rels, q.Relationships)
	sort.Strings(rels)
	return q.Resource + "|" + strings.Join(rels, ",")
}

// RecordSource is the query collaborator boundary: it supplies pages of
// raw records given an offset and a page size. Implementations must
// return records in a stable total order so that offset pagination never
// skips or duplicates, and must return an empty (not nil-error) page on
// exhaustion.
type RecordSource interface {
	FetchPage(ctx context.Context, q Query, offset, limit int) ([]record.Record, error)
}
