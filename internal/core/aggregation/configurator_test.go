package aggregation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func salesReport() Report {
	return Report{
		Name:     "sales",
		Resource: "orders",
		Groups: []ReportGroup{
			{SortOrder: 2, Expression: "addresses.state"},
			{SortOrder: 1, Expression: "region"},
		},
		Variables: []ReportVariable{
			{Name: "revenue", Operator: OpSum, Field: "amount"},
			{Name: "orders", Operator: OpCount},
		},
	}
}

func TestBuildAggregations_FlatAndGrouped(t *testing.T) {
	specs, err := BuildAggregations(salesReport(), BuildOptions{})
	require.NoError(t, err)

	// 2 flat + 2 levels x 2 variables.
	require.Len(t, specs, 6)

	// Flat specs come first, then levels ascending.
	require.Equal(t, "revenue", specs[0].Name)
	require.Equal(t, 0, specs[0].Level)
	require.False(t, specs[0].Grouped())

	for i := 1; i < len(specs); i++ {
		require.GreaterOrEqual(t, specs[i].Level, specs[i-1].Level)
	}
}

func TestBuildAggregations_GroupsSortedByOrder(t *testing.T) {
	specs, err := BuildAggregations(salesReport(), BuildOptions{})
	require.NoError(t, err)

	// sort_order 1 is "region", so level 1 groups by region despite the
	// declaration order in the report.
	var level1 Spec
	for _, s := range specs {
		if s.Level == 1 && s.Name == "revenue.l1" {
			level1 = s
		}
	}
	require.Equal(t, []GroupField{{Field: "region"}}, level1.GroupBy)
	require.Empty(t, level1.RelationshipDependencies)
}

func TestBuildAggregations_Cumulative(t *testing.T) {
	specs, err := BuildAggregations(salesReport(), BuildOptions{Cumulative: true})
	require.NoError(t, err)

	var level2 Spec
	for _, s := range specs {
		if s.Level == 2 && s.Name == "revenue.l2" {
			level2 = s
		}
	}

	// Level 2 carries the level-1 key in front of its own.
	require.Equal(t, []GroupField{
		{Field: "region"},
		{Path: []string{"addresses"}, Field: "state"},
	}, level2.GroupBy)
	require.Equal(t, []string{"addresses"}, level2.RelationshipDependencies)
}

func TestBuildAggregations_NonCumulative(t *testing.T) {
	specs, err := BuildAggregations(salesReport(), BuildOptions{Cumulative: false})
	require.NoError(t, err)

	var level2 Spec
	for _, s := range specs {
		if s.Level == 2 && s.Name == "revenue.l2" {
			level2 = s
		}
	}

	// Level 2 alone — no prefix from level 1.
	require.Equal(t, []GroupField{{Path: []string{"addresses"}, Field: "state"}}, level2.GroupBy)
}

func TestBuildAggregations_InvalidExpression(t *testing.T) {
	report := salesReport()
	report.Groups = append(report.Groups, ReportGroup{SortOrder: 3, Expression: "bad..expr"})

	_, err := BuildAggregations(report, BuildOptions{})
	require.ErrorIs(t, err, ErrInvalidGroupExpression)
}

func TestBuildAggregations_InvalidOperator(t *testing.T) {
	report := salesReport()
	report.Variables = append(report.Variables, ReportVariable{Name: "bad", Operator: "median"})

	_, err := BuildAggregations(report, BuildOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "median")
}
