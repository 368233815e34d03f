package aggregation

// GroupField is one component of a group key: an ordered chain of
// relationship hops (possibly empty) terminating in a field name.
// A plain field like "region" has no hops; "addresses.state" walks the
// addresses relationship before reading state.
type GroupField struct {
	Path  []string `json:"path,omitempty"`
	Field string   `json:"field"`
}

// Expression renders the group field back to its dotted form.
func (g GroupField) Expression() string {
	expr := ""
	for _, hop := range g.Path {
		expr += hop + "."
	}
	return expr + g.Field
}

// Spec is one compiled aggregation: immutable once built by the
// configurator. A nil/empty GroupBy means a flat (ungrouped) running
// aggregate. For cumulative multi-level grouping the configurator
// precomputes the full ordered GroupBy list per level, so the fold hot
// path never re-derives it per record.
type Spec struct {
	Name     string       `json:"name"`
	Operator string       `json:"operator"` // count, sum, avg, min, max
	Field    string       `json:"field"`    // aggregated field; empty for count
	Level    int          `json:"level"`    // 0 for flat specs
	GroupBy  []GroupField `json:"group_by,omitempty"`

	// RelationshipDependencies is the ordered, deduplicated set of
	// relationship names the query collaborator must eager-load before
	// this spec's group keys can be resolved.
	RelationshipDependencies []string `json:"relationship_dependencies,omitempty"`
}

// Grouped reports whether the spec folds into per-group accumulators.
func (s Spec) Grouped() bool {
	return len(s.GroupBy) > 0
}

// ExtractAllRelationshipDependencies unions and deduplicates the
// relationship dependencies across all specs, preserving first-seen
// order. The result is handed to the query collaborator as its
// eager-load list.
func ExtractAllRelationshipDependencies(specs []Spec) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range specs {
		for _, dep := range s.RelationshipDependencies {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			out = append(out, dep)
		}
	}
	return out
}
