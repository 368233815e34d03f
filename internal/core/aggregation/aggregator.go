package aggregation

import (
	"github.com/shopspring/decimal"
)

// Supported aggregation operators.
const (
	OpCount = "count"
	OpSum   = "sum"
	OpAvg   = "avg"
	OpMin   = "min"
	OpMax   = "max"
)

// Operator reads the result of an operator out of a folded accumulator.
// Folding always maintains the full {sum, count, min, max} state, so an
// operator is a read-time projection — avg is derived from sum/count and
// never stored. To add a new operator: implement this interface and
// register it in Operators.
type Operator interface {
	// Value extracts the operator's result. ok is false when the
	// accumulator holds no usable value for this operator (e.g. min over
	// records that never carried a numeric field).
	Value(acc Accumulator) (value decimal.Decimal, ok bool)
}

// Operators is the registry of all supported aggregation operators.
// The read hot path is a single map lookup — no switch.
var Operators = map[string]Operator{
	OpCount: countOp{},
	OpSum:   sumOp{},
	OpAvg:   avgOp{},
	OpMin:   minOp{},
	OpMax:   maxOp{},
}

// ValidOperator reports whether op is a registered aggregation operator.
func ValidOperator(op string) bool {
	_, ok := Operators[op]
	return ok
}

type countOp struct{}

func (countOp) Value(acc Accumulator) (decimal.Decimal, bool) {
	return decimal.NewFromInt(acc.Count), true
}

type sumOp struct{}

func (sumOp) Value(acc Accumulator) (decimal.Decimal, bool) {
	return acc.Sum, true
}

// avgOp derives sum/count at read time. DivRound with a fixed scale keeps
// the quotient bounded for non-terminating divisions.
type avgOp struct{}

func (avgOp) Value(acc Accumulator) (decimal.Decimal, bool) {
	if acc.Count == 0 {
		return decimal.Zero, false
	}
	return acc.Sum.DivRound(decimal.NewFromInt(acc.Count), 8), true
}

type minOp struct{}

func (minOp) Value(acc Accumulator) (decimal.Decimal, bool) {
	return acc.Min, acc.HasValues
}

type maxOp struct{}

func (maxOp) Value(acc Accumulator) (decimal.Decimal, bool) {
	return acc.Max, acc.HasValues
}
