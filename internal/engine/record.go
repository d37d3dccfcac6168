package engine

import "iter"

// Value is a record field value: a scalar (string, bool, number, nil) or a
// []string multi-value.
type Value = any

// Records is a push iterator over output records, the return type of every
// plugin processing callback.
type Records = iter.Seq[*Record]

// Record is an ordered field-name to value mapping. Field order is
// significant: the first record written in a batch fixes the column order
// for that batch.
type Record struct {
	fields []string
	values map[string]Value
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]Value)}
}

// Set installs a field value, appending the field to the order on first use.
func (r *Record) Set(name string, value Value) *Record {
	if _, seen := r.values[name]; !seen {
		r.fields = append(r.fields, name)
	}
	r.values[name] = value
	return r
}

// Get returns the value for name, or nil when the field is absent.
func (r *Record) Get(name string) Value { return r.values[name] }

// Has reports whether the field is present.
func (r *Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Fields returns the field names in insertion order.
func (r *Record) Fields() []string { return r.fields }

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.fields) }

// sliceRecords wraps a decoded batch as a Records sequence.
func sliceRecords(recs []*Record) Records {
	return func(yield func(*Record) bool) {
		for _, rec := range recs {
			if !yield(rec) {
				return
			}
		}
	}
}
