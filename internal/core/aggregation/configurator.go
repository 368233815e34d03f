package aggregation

import (
	"fmt"
	"sort"
)

// BuildOptions controls how report declarations compile into specs.
type BuildOptions struct {
	// Cumulative makes level n group by the concatenation of all group-by
	// expressions at levels <= n, so deeper levels still partition by the
	// coarser keys above them.
	Cumulative bool
}

// BuildAggregations compiles a report's group and variable declarations
// into the flat, ordered list of specs the aggregator stage folds with.
// The output is ordered level-ascending: first the flat (level 0) spec of
// every variable, then one grouped spec per variable per group level.
// Expression parsing happens here, exactly once — the fold hot path only
// ever sees precomputed GroupField lists.
func BuildAggregations(report Report, opts BuildOptions) ([]Spec, error) {
	for _, v := range report.Variables {
		if !ValidOperator(v.Operator) {
			return nil, fmt.Errorf("variable %q: unsupported operator %q", v.Name, v.Operator)
		}
	}

	groups := make([]ReportGroup, len(report.Groups))
	copy(groups, report.Groups)
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].SortOrder < groups[j].SortOrder
	})

	parsed := make([]GroupField, len(groups))
	for i, g := range groups {
		gf, err := ParseGroupExpression(g.Expression)
		if err != nil {
			return nil, err
		}
		parsed[i] = gf
	}

	var specs []Spec
	for _, v := range report.Variables {
		specs = append(specs, Spec{
			Name:     v.Name,
			Operator: v.Operator,
			Field:    v.Field,
		})
	}

	for i := range parsed {
		level := i + 1

		var groupBy []GroupField
		if opts.Cumulative {
			groupBy = append(groupBy, parsed[:level]...)
		} else {
			groupBy = []GroupField{parsed[i]}
		}

		deps := relationshipDependencies(groupBy)

		for _, v := range report.Variables {
			specs = append(specs, Spec{
				Name:                     fmt.Sprintf("%s.l%d", v.Name, level),
				Operator:                 v.Operator,
				Field:                    v.Field,
				Level:                    level,
				GroupBy:                  groupBy,
				RelationshipDependencies: deps,
			})
		}
	}

	sort.SliceStable(specs, func(i, j int) bool {
		return specs[i].Level < specs[j].Level
	})

	return specs, nil
}

func relationshipDependencies(groupBy []GroupField) []string {
	seen := make(map[string]struct{})
	var deps []string
	for _, gf := range groupBy {
		for _, hop := range gf.Path {
			if _, ok := seen[hop]; ok {
				continue
			}
			seen[hop] = struct{}{}
			deps = append(deps, hop)
		}
	}
	return deps
}
