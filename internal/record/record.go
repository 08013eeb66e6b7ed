// Package record holds validated extraction results and the validator that produces them.
package record

import (
	"encoding/json"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/joseph-ayodele/schema-extractor/internal/schema"
)

// Value is one validated field value: a string, a finite number or a list of child records.
type Value struct {
	kind  schema.Kind
	str   string
	num   float64
	group []Record
}

func StringValue(s string) Value { return Value{kind: schema.KindString, str: s} }

func NumberValue(n float64) Value { return Value{kind: schema.KindNumber, num: n} }

func (v Value) Kind() schema.Kind { return v.kind }

// Interface returns the value as string, float64 or []map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case schema.KindString:
		return v.str
	case schema.KindNumber:
		return v.num
	case schema.KindGroup:
		out := make([]map[string]any, len(v.group))
		for i, r := range v.group {
			out[i] = r.Map()
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case schema.KindString:
		return json.Marshal(v.str)
	case schema.KindNumber:
		return json.Marshal(v.num)
	case schema.KindGroup:
		if v.group == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.group)
	default:
		return []byte("null"), nil
	}
}

// Record is a validated extraction result. It only carries the fields declared by the
// schema it was validated against and cannot be modified after construction.
type Record struct {
	fields []schema.Field
	values map[string]Value
}

// Fields returns the schema the record was validated against.
func (r Record) Fields() []schema.Field { return schema.Clone(r.fields) }

// Len is the number of top-level fields.
func (r Record) Len() int { return len(r.fields) }

func (r Record) Get(name string) (Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

func (r Record) String(name string) (string, bool) {
	v, ok := r.values[name]
	if !ok || v.kind != schema.KindString {
		return "", false
	}
	return v.str, true
}

func (r Record) Number(name string) (float64, bool) {
	v, ok := r.values[name]
	if !ok || v.kind != schema.KindNumber {
		return 0, false
	}
	return v.num, true
}

// Group returns a copy of the element list of a group field.
func (r Record) Group(name string) ([]Record, bool) {
	v, ok := r.values[name]
	if !ok || v.kind != schema.KindGroup {
		return nil, false
	}
	return slices.Clone(v.group), true
}

// Map returns a plain map view. Groups become []map[string]any.
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r.fields))
	for _, f := range r.fields {
		out[f.Name] = r.values[f.Name].Interface()
	}
	return out
}

// MarshalJSON encodes the record with keys in schema order.
func (r Record) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, Value]()
	for _, f := range r.fields {
		om.Set(f.Name, r.values[f.Name])
	}
	return json.Marshal(om)
}

// Labeled pairs a record with the label of the document it came from.
type Labeled struct {
	Label  string `json:"fileName"`
	Record Record `json:"data"`
}
