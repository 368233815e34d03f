package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tabulon-lab/project-tabulon/internal/core/record"
)

func seededSource(n int) *MemorySource {
	src := NewMemorySource()
	recs := make([]record.Record, n)
	for i := range recs {
		recs[i] = record.New(string(rune('a'+i)), map[string]interface{}{"n": i})
	}
	src.Load("items", recs)
	return src
}

func TestMemorySource_Paging(t *testing.T) {
	src := seededSource(5)
	ctx := context.Background()
	q := Query{Resource: "items"}

	page, err := src.FetchPage(ctx, q, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)

	page, err = src.FetchPage(ctx, q, 4, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)

	page, err = src.FetchPage(ctx, q, 5, 2)
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestMemorySource_InvalidQuery(t *testing.T) {
	src := seededSource(1)
	_, err := src.FetchPage(context.Background(), Query{}, 0, 10)
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestQuery_Signature(t *testing.T) {
	a := Query{Resource: "orders", Relationships: []string{"b", "a"}}
	b := Query{Resource: "orders", Relationships: []string{"a", "b"}}
	require.Equal(t, a.Signature(), b.Signature())

	c := Query{Resource: "invoices"}
	require.NotEqual(t, a.Signature(), c.Signature())
}
