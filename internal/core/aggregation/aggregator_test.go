package aggregation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func foldAll(values ...int64) Accumulator {
	acc := NewAccumulator()
	for _, v := range values {
		acc.Fold(decimal.NewFromInt(v), true)
	}
	return *acc
}

func TestOperators_Value(t *testing.T) {
	acc := foldAll(10, 4, 6)

	tests := []struct {
		name   string
		op     string
		want   string
		wantOK bool
	}{
		{name: "count", op: OpCount, want: "3", wantOK: true},
		{name: "sum", op: OpSum, want: "20", wantOK: true},
		{name: "avg derived from sum and count", op: OpAvg, want: "6.66666667", wantOK: true},
		{name: "min", op: OpMin, want: "4", wantOK: true},
		{name: "max", op: OpMax, want: "10", wantOK: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			op, ok := Operators[tc.op]
			require.True(t, ok)
			got, ok := op.Value(acc)
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.want, got.String())
		})
	}
}

func TestOperators_EmptyAccumulator(t *testing.T) {
	acc := *NewAccumulator()

	count, ok := Operators[OpCount].Value(acc)
	require.True(t, ok)
	require.True(t, count.IsZero())

	_, ok = Operators[OpAvg].Value(acc)
	require.False(t, ok)

	_, ok = Operators[OpMin].Value(acc)
	require.False(t, ok)

	_, ok = Operators[OpMax].Value(acc)
	require.False(t, ok)
}

func TestValidOperator(t *testing.T) {
	require.True(t, ValidOperator(OpCount))
	require.True(t, ValidOperator(OpSum))
	require.True(t, ValidOperator(OpAvg))
	require.True(t, ValidOperator(OpMin))
	require.True(t, ValidOperator(OpMax))
	require.False(t, ValidOperator("median"))
	require.False(t, ValidOperator(""))
}
