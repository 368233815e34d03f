package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapRecord_Get(t *testing.T) {
	rec := New("r1", map[string]interface{}{"region": "North", "amount": 100.0})

	v, ok := rec.Get("region")
	require.True(t, ok)
	require.Equal(t, "North", v)

	_, ok = rec.Get("missing")
	require.False(t, ok)

	empty := &MapRecord{Key: "r2"}
	_, ok = empty.Get("anything")
	require.False(t, ok)
}

func TestMapRecord_RelatedExplicit(t *testing.T) {
	addr := New("a1", map[string]interface{}{"state": "CA"})
	rec := New("r1", map[string]interface{}{"name": "acme"})
	rec.AttachRelated("addresses", []Record{addr})

	recs, ok := rec.Related("addresses")
	require.True(t, ok)
	require.Len(t, recs, 1)

	state, ok := recs[0].Get("state")
	require.True(t, ok)
	require.Equal(t, "CA", state)
}

func TestMapRecord_RelatedEmbedded(t *testing.T) {
	// Associations decoded from JSONB arrive as nested maps inside Fields.
	rec := New("r1", map[string]interface{}{
		"customer": map[string]interface{}{"id": "c1", "tier": "gold"},
		"addresses": []interface{}{
			map[string]interface{}{"state": "CA"},
			map[string]interface{}{"state": "OR"},
		},
	})

	toOne, ok := rec.Related("customer")
	require.True(t, ok)
	require.Len(t, toOne, 1)
	require.Equal(t, "c1", toOne[0].ID())

	toMany, ok := rec.Related("addresses")
	require.True(t, ok)
	require.Len(t, toMany, 2)

	state, ok := toMany[0].Get("state")
	require.True(t, ok)
	require.Equal(t, "CA", state)
}

func TestMapRecord_RelatedMissingOrNil(t *testing.T) {
	rec := New("r1", map[string]interface{}{"addresses": nil})

	_, ok := rec.Related("addresses")
	require.False(t, ok)

	_, ok = rec.Related("never_loaded")
	require.False(t, ok)
}
