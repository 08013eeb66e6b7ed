package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/joseph-ayodele/schema-extractor/internal/schema"
)

// Validator checks raw extraction responses against one schema.
type Validator struct {
	fields []schema.Field
}

// NewValidator builds a validator for an already validated schema.
func NewValidator(fields []schema.Field) *Validator {
	return &Validator{fields: schema.Clone(fields)}
}

// ValidateJSON decodes a response document and validates it. Numbers are decoded as
// json.Number so integers keep their precision until conversion.
func (v *Validator) ValidateJSON(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Record{}, fmt.Errorf("decode extraction response: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Record{}, fmt.Errorf("decode extraction response: trailing data after JSON value")
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return Record{}, mismatch("$", "object", raw)
	}
	return v.Validate(obj)
}

// Validate checks every schema field in order and stops at the first failure.
// Properties not declared by the schema are dropped.
func (v *Validator) Validate(raw map[string]any) (Record, error) {
	return validateObject(v.fields, raw, "")
}

func validateObject(fields []schema.Field, raw map[string]any, prefix string) (Record, error) {
	values := make(map[string]Value, len(fields))
	for _, f := range fields {
		path := prefix + f.Name
		val, ok := raw[f.Name]
		if !ok {
			return Record{}, missing(path)
		}
		checked, err := validateValue(f, val, path)
		if err != nil {
			return Record{}, err
		}
		values[f.Name] = checked
	}
	return Record{fields: fields, values: values}, nil
}

func validateValue(f schema.Field, val any, path string) (Value, error) {
	switch f.Kind {
	case schema.KindString:
		s, ok := val.(string)
		if !ok {
			return Value{}, mismatch(path, "string", val)
		}
		return StringValue(s), nil

	case schema.KindNumber:
		n, ok := toNumber(val)
		if !ok {
			return Value{}, mismatch(path, "number", val)
		}
		return NumberValue(n), nil

	case schema.KindGroup:
		list, ok := val.([]any)
		if !ok {
			return Value{}, mismatch(path, "array", val)
		}
		elems := make([]Record, 0, len(list))
		for i, item := range list {
			elemPath := path + "[" + strconv.Itoa(i) + "]"
			obj, ok := item.(map[string]any)
			if !ok {
				return Value{}, mismatch(elemPath, "object", item)
			}
			rec, err := validateObject(f.Children, obj, elemPath+".")
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, rec)
		}
		return Value{kind: schema.KindGroup, group: elems}, nil

	default:
		return Value{}, fmt.Errorf("validate %s: unsupported field type %s", path, f.Kind)
	}
}

// toNumber accepts JSON numbers and Go numeric types. Strings are never coerced and
// non-finite values are rejected.
func toNumber(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int8:
		n = float64(x)
	case int16:
		n = float64(x)
	case int32:
		n = float64(x)
	case int64:
		n = float64(x)
	case uint:
		n = float64(x)
	case uint8:
		n = float64(x)
	case uint16:
		n = float64(x)
	case uint32:
		n = float64(x)
	case uint64:
		n = float64(x)
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
