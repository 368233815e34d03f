package record

// Record is the unit of data flowing through a stream.
// It separates field access from relationship traversal so the aggregation
// fold never has to know the concrete record representation: the query
// collaborator decides how fields and already-loaded associations are stored.
type Record interface {
	// ID returns the record's identifier, used for error reporting and telemetry.
	ID() string

	// Get returns the value of a field, and whether the field is present.
	Get(field string) (interface{}, bool)

	// Related returns the records reachable through a named relationship,
	// and whether the relationship is loaded on this record.
	// A to-one association yields a single-element slice.
	Related(name string) ([]Record, bool)
}

// MapRecord is the default Record implementation backed by plain maps.
// The query collaborator populates Relationships with eagerly loaded
// associations; Related also tolerates associations embedded in Fields
// (a nested map for to-one, a slice of maps for to-many), which is how
// JSONB-decoded rows arrive from the Postgres source.
type MapRecord struct {
	Key           string
	Fields        map[string]interface{}
	Relationships map[string][]Record
}

// New creates a MapRecord with the given id and fields.
func New(id string, fields map[string]interface{}) *MapRecord {
	return &MapRecord{Key: id, Fields: fields}
}

func (r *MapRecord) ID() string { return r.Key }

func (r *MapRecord) Get(field string) (interface{}, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[field]
	return v, ok
}

func (r *MapRecord) Related(name string) ([]Record, bool) {
	if recs, ok := r.Relationships[name]; ok {
		return recs, true
	}

	// Fall back to associations embedded in the field map.
	raw, ok := r.Fields[name]
	if !ok || raw == nil {
		return nil, false
	}

	switch v := raw.(type) {
	case map[string]interface{}:
		return []Record{wrapEmbedded(v)}, true
	case []interface{}:
		recs := make([]Record, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			recs = append(recs, wrapEmbedded(m))
		}
		return recs, true
	case []map[string]interface{}:
		recs := make([]Record, 0, len(v))
		for _, m := range v {
			recs = append(recs, wrapEmbedded(m))
		}
		return recs, true
	}
	return nil, false
}

// AttachRelated sets (or replaces) a loaded relationship on the record.
func (r *MapRecord) AttachRelated(name string, recs []Record) {
	if r.Relationships == nil {
		r.Relationships = make(map[string][]Record)
	}
	r.Relationships[name] = recs
}

func wrapEmbedded(fields map[string]interface{}) *MapRecord {
	id, _ := fields["id"].(string)
	return &MapRecord{Key: id, Fields: fields}
}
