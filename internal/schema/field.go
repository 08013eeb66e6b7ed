package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the type tag of a Field.
type Kind int

const (
	KindString Kind = iota + 1
	KindNumber
	KindGroup
)

// wire names used by the schema editor and definition files; "array" is a Group.
const (
	wireString = "string"
	wireNumber = "number"
	wireGroup  = "array"
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return wireString
	case KindNumber:
		return wireNumber
	case KindGroup:
		return wireGroup
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsScalar reports whether k is a string or number kind.
func (k Kind) IsScalar() bool { return k == KindString || k == KindNumber }

// ParseKind maps a wire name to a Kind. "group" is accepted as an alias of "array".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case wireString:
		return KindString, nil
	case wireNumber:
		return KindNumber, nil
	case wireGroup, "group":
		return KindGroup, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", s)
	}
}

func (k Kind) MarshalJSON() ([]byte, error) {
	if k != KindString && k != KindNumber && k != KindGroup {
		return nil, fmt.Errorf("marshal field type: %s", k)
	}
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("field type must be a string: %w", err)
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Field describes one extraction target. Children are only meaningful for KindGroup.
type Field struct {
	Name     string  `json:"name"`
	Kind     Kind    `json:"type"`
	Children []Field `json:"fields,omitempty"`
}

func String(name string) Field { return Field{Name: name, Kind: KindString} }

func Number(name string) Field { return Field{Name: name, Kind: KindNumber} }

func Group(name string, children ...Field) Field {
	return Field{Name: name, Kind: KindGroup, Children: children}
}

// IsGroup reports whether the field is a repeated group.
func (f Field) IsGroup() bool { return f.Kind == KindGroup }

// Groups returns the top-level group fields in schema order.
func Groups(fields []Field) []Field {
	var out []Field
	for _, f := range fields {
		if f.IsGroup() {
			out = append(out, f)
		}
	}
	return out
}

// Scalars returns the top-level scalar fields in schema order.
func Scalars(fields []Field) []Field {
	var out []Field
	for _, f := range fields {
		if f.Kind.IsScalar() {
			out = append(out, f)
		}
	}
	return out
}

// Lookup finds a top-level field by name.
func Lookup(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Clone returns a deep copy of a field forest.
func Clone(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = Field{Name: f.Name, Kind: f.Kind, Children: Clone(f.Children)}
	}
	return out
}
