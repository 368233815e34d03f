package aggregation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tabulon-lab/project-tabulon/internal/core/record"
)

const groupKeySeparator = " - "

// ResolveGroupKey computes the display-formatted group key of a record for
// a grouped spec: each GroupField's value in order, joined with " - "
// (e.g. "North - Q1"). Values reached through a broken relationship path
// resolve to nil and render empty — a nil key is recorded as its own
// group, never dropped.
func ResolveGroupKey(rec record.Record, groupBy []GroupField) string {
	parts := make([]string, len(groupBy))
	for i, gf := range groupBy {
		parts[i] = formatKeyPart(ResolvePathValue(rec, gf))
	}
	return strings.Join(parts, groupKeySeparator)
}

// ResolvePathValue walks a group field's relationship path one hop at a
// time and reads the terminal field. A to-one hop dereferences directly;
// a to-many hop uses the first associated record (documented, simplistic
// policy — the correct choice between first/all/primary is a product
// decision). A nil or unloaded relationship at any hop yields nil.
func ResolvePathValue(rec record.Record, gf GroupField) interface{} {
	current := rec
	for _, hop := range gf.Path {
		related, ok := current.Related(hop)
		if !ok || len(related) == 0 || related[0] == nil {
			return nil
		}
		current = related[0]
	}

	v, ok := current.Get(gf.Field)
	if !ok {
		return nil
	}
	return v
}

func formatKeyPart(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		// JSON numbers arrive as float64; strip the trailing ".0" noise
		// for integral values so keys stay stable across sources.
		return decimal.NewFromFloat(val).String()
	case decimal.Decimal:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
