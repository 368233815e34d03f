package stream

import (
	"github.com/tabulon-lab/project-tabulon/internal/core/record"
)

// Chunk is an ordered, finite sequence of records produced by one fetch
// or flush cycle. Chunks carry no identity beyond their contents and are
// never retried as a unit — failures are handled per record inside the
// consumer stage.
type Chunk struct {
	StreamID string
	Offset   int // stream-relative index of the first record
	Records  []record.Record
}

// Len returns the number of records in the chunk.
func (c Chunk) Len() int { return len(c.Records) }
