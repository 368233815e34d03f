package aggregation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_Fold(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(decimal.NewFromInt(100), true)
	acc.Fold(decimal.NewFromInt(50), true)
	acc.Fold(decimal.NewFromInt(200), true)

	require.Equal(t, int64(3), acc.Count)
	require.Equal(t, "350", acc.Sum.String())
	require.Equal(t, "50", acc.Min.String())
	require.Equal(t, "200", acc.Max.String())
	require.True(t, acc.HasValues)
}

func TestAccumulator_FoldSkipsMissingValues(t *testing.T) {
	// Missing/non-numeric fields still count the record but leave
	// sum/min/max untouched.
	acc := NewAccumulator()
	acc.Fold(decimal.NewFromInt(10), true)
	acc.Fold(decimal.Zero, false)
	acc.Fold(decimal.NewFromInt(20), true)

	require.Equal(t, int64(3), acc.Count)
	require.Equal(t, "30", acc.Sum.String())
	require.Equal(t, "10", acc.Min.String())
	require.Equal(t, "20", acc.Max.String())
}

func TestAccumulator_FoldNegativeAndZero(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(decimal.NewFromInt(-5), true)
	acc.Fold(decimal.NewFromInt(0), true)

	require.Equal(t, "-5", acc.Min.String())
	require.Equal(t, "0", acc.Max.String())
	require.Equal(t, "-5", acc.Sum.String())
}

func TestAccumulator_Avg(t *testing.T) {
	acc := NewAccumulator()
	require.True(t, acc.Avg().IsZero())

	acc.Fold(decimal.NewFromInt(3), true)
	acc.Fold(decimal.NewFromInt(4), true)
	require.Equal(t, "3.5", acc.Avg().String())
}
