package aggregation

import (
	"github.com/shopspring/decimal"

	"github.com/tabulon-lab/project-tabulon/internal/core/record"
)

// ExtractDecimal pulls a numeric field value off a record.
// ok is false when the field is missing, empty, or not a recognized numeric
// type — the fold skips sum/min/max for that record instead of corrupting
// the aggregate. JSON numbers unmarshal to float64 in Go; NewFromFloat
// converts that to an exact decimal representation.
func ExtractDecimal(rec record.Record, field string) (decimal.Decimal, bool) {
	if field == "" {
		return decimal.Zero, false
	}
	v, ok := rec.Get(field)
	if !ok {
		return decimal.Zero, false
	}
	return ToDecimal(v)
}

// ToDecimal converts a dynamic value to a decimal.
func ToDecimal(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat(float64(val)), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case decimal.Decimal:
		return val, true
	case string:
		d, err := decimal.NewFromString(val)
		if err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}
