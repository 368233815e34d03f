package chart

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tabulon-lab/project-tabulon/internal/core/aggregation"
	"github.com/tabulon-lab/project-tabulon/internal/stream"
)

// ErrAggregationNotFound is returned when a series is requested for an
// aggregation name the stream does not compute.
var ErrAggregationNotFound = errors.New("aggregation not found")

// Aggregate is the read-side projection of one accumulator: the raw
// count plus the operator's value. Value is null while the operator is
// undefined (min/max before any numeric value folded).
type Aggregate struct {
	Name     string           `json:"name"`
	Operator string           `json:"operator"`
	Count    int64            `json:"count"`
	Value    *decimal.Decimal `json:"value"`
}

// Group is one group-key row of a grouped aggregation.
type Group struct {
	Key string `json:"key"`
	Aggregate
}

// Snapshot is a serializable point-in-time view of a stream's
// aggregation state. Mid-stream snapshots are valid progressive results.
type Snapshot struct {
	StreamID               string                 `json:"stream_id"`
	TakenAt                time.Time              `json:"taken_at"`
	Aggregates             []Aggregate            `json:"aggregates"`
	Grouped                map[string][]Group     `json:"grouped,omitempty"`
	TransformErrors        []stream.TransformError `json:"transform_errors,omitempty"`
	TransformErrorsDropped int                    `json:"transform_errors_dropped,omitempty"`
}

// Series is one aggregation rendered as parallel label/value arrays,
// the shape charting frontends consume directly. Undefined operator
// values render as zero.
type Series struct {
	Name     string            `json:"name"`
	Operator string            `json:"operator"`
	Labels   []string          `json:"labels"`
	Values   []decimal.Decimal `json:"values"`
}

// Collector reads a consumer's aggregation state through the compiled
// specs. It holds no state of its own; every call reflects the stream's
// current progress.
type Collector struct {
	streamID string
	specs    []aggregation.Spec
	consumer *stream.Consumer
	nowFn    func() time.Time
}

// NewCollector creates a collector over one stream's consumer stage.
func NewCollector(streamID string, specs []aggregation.Spec, consumer *stream.Consumer) *Collector {
	return &Collector{
		streamID: streamID,
		specs:    specs,
		consumer: consumer,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Snapshot materializes the full aggregation state. Flat aggregates keep
// spec order; groups within a grouped aggregation sort by key so the
// output is stable across calls.
func (c *Collector) Snapshot() Snapshot {
	flat := c.consumer.AggregationState()
	grouped := c.consumer.GroupedAggregationState()
	errs, dropped := c.consumer.TransformErrors()

	snap := Snapshot{
		StreamID:               c.streamID,
		TakenAt:                c.nowFn(),
		TransformErrors:        errs,
		TransformErrorsDropped: dropped,
	}

	for _, spec := range c.specs {
		if spec.Grouped() {
			groups, ok := grouped[spec.Name]
			if !ok {
				continue
			}
			if snap.Grouped == nil {
				snap.Grouped = make(map[string][]Group)
			}
			snap.Grouped[spec.Name] = buildGroups(spec, groups)
			continue
		}
		acc, ok := flat[spec.Name]
		if !ok {
			continue
		}
		snap.Aggregates = append(snap.Aggregates, project(spec, acc))
	}
	return snap
}

// Series renders one aggregation as a chart series. A grouped
// aggregation yields one point per group key; a flat one yields a
// single point labelled with the aggregation name.
func (c *Collector) Series(name string) (Series, error) {
	spec, ok := c.findSpec(name)
	if !ok {
		return Series{}, ErrAggregationNotFound
	}

	series := Series{Name: spec.Name, Operator: spec.Operator}

	if !spec.Grouped() {
		acc, ok := c.consumer.AggregationState()[spec.Name]
		if !ok {
			return Series{}, ErrAggregationNotFound
		}
		series.Labels = []string{spec.Name}
		series.Values = []decimal.Decimal{operatorValueOrZero(spec.Operator, acc)}
		return series, nil
	}

	groups := c.consumer.GroupedAggregationState()[spec.Name]
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	series.Labels = make([]string, 0, len(keys))
	series.Values = make([]decimal.Decimal, 0, len(keys))
	for _, key := range keys {
		series.Labels = append(series.Labels, key)
		series.Values = append(series.Values, operatorValueOrZero(spec.Operator, groups[key]))
	}
	return series, nil
}

func (c *Collector) findSpec(name string) (aggregation.Spec, bool) {
	for _, spec := range c.specs {
		if spec.Name == name {
			return spec, true
		}
	}
	return aggregation.Spec{}, false
}

func buildGroups(spec aggregation.Spec, accs map[string]aggregation.Accumulator) []Group {
	keys := make([]string, 0, len(accs))
	for key := range accs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	groups := make([]Group, 0, len(keys))
	for _, key := range keys {
		groups = append(groups, Group{Key: key, Aggregate: project(spec, accs[key])})
	}
	return groups
}

func project(spec aggregation.Spec, acc aggregation.Accumulator) Aggregate {
	out := Aggregate{Name: spec.Name, Operator: spec.Operator, Count: acc.Count}
	if op, ok := aggregation.Operators[spec.Operator]; ok {
		if v, defined := op.Value(acc); defined {
			out.Value = &v
		}
	}
	return out
}

func operatorValueOrZero(operator string, acc aggregation.Accumulator) decimal.Decimal {
	if op, ok := aggregation.Operators[operator]; ok {
		if v, defined := op.Value(acc); defined {
			return v
		}
	}
	return decimal.Zero
}
