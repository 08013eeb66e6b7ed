package record

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrTypeMismatch = errors.New("type mismatch")
)

// ValidationError reports the first field of a response that does not satisfy the schema.
// Path uses dots for nesting and brackets for group elements: "items[2].unit_price".
type ValidationError struct {
	Kind     error
	Path     string
	Expected string
	Got      string
}

func (e *ValidationError) Error() string {
	if errors.Is(e.Kind, ErrMissingField) {
		return fmt.Sprintf("validation: missing field %s", e.Path)
	}
	return fmt.Sprintf("validation: %s: expected %s, got %s", e.Path, e.Expected, e.Got)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func missing(path string) error {
	return &ValidationError{Kind: ErrMissingField, Path: path}
}

func mismatch(path, expected string, got any) error {
	return &ValidationError{Kind: ErrTypeMismatch, Path: path, Expected: expected, Got: jsonTypeName(got)}
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		if _, ok := toNumber(v); ok {
			return "number"
		}
		return fmt.Sprintf("%T", v)
	}
}
