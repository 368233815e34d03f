package aggregation

import (
	"github.com/shopspring/decimal"
)

// Accumulator is the running aggregation state for one spec (or one group
// key of a grouped spec): {sum, count, min, max} with exact arithmetic.
// Count increases on every fold; sum/min/max only when the record carried
// a usable numeric value. Updates are strictly sequential per stream, so
// the struct carries no locking.
type Accumulator struct {
	Sum       decimal.Decimal `json:"sum"`
	Count     int64           `json:"count"`
	Min       decimal.Decimal `json:"min"`
	Max       decimal.Decimal `json:"max"`
	HasValues bool            `json:"-"` // true once at least one numeric value folded; guards min/max
}

// NewAccumulator returns a zero-state accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{Sum: decimal.Zero, Min: decimal.Zero, Max: decimal.Zero}
}

// Fold updates the accumulator with one record's field value.
// ok=false means the field was missing or non-numeric on this record:
// the count still increments (count specs must see every record) but
// sum/min/max are left untouched.
func (a *Accumulator) Fold(value decimal.Decimal, ok bool) {
	a.Count++
	if !ok {
		return
	}
	a.Sum = a.Sum.Add(value)
	if !a.HasValues || value.LessThan(a.Min) {
		a.Min = value
	}
	if !a.HasValues || value.GreaterThan(a.Max) {
		a.Max = value
	}
	a.HasValues = true
}

// Avg derives the running average. Never stored — computed at read time.
func (a Accumulator) Avg() decimal.Decimal {
	v, _ := Operators[OpAvg].Value(a)
	return v
}
