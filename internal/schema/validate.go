package schema

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyName            = errors.New("empty field name")
	ErrDuplicateSiblingName = errors.New("duplicate sibling name")
	ErrMissingGroupChildren = errors.New("group has no children")
	ErrUnknownKind          = errors.New("unknown field type")
)

// SchemaError reports a structural problem with a field tree. Path addresses the
// offending field ("items.unit_price", or "items[2]" when the field has no name).
type SchemaError struct {
	Kind error
	Path string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: %s: %v", e.Path, e.Kind)
}

func (e *SchemaError) Unwrap() error { return e.Kind }

// Validate checks the field forest: non-empty names, unique sibling names, known kinds
// and non-empty groups. It recurses into every group and returns the first problem found.
func Validate(fields []Field) error {
	return validateLevel(fields, "")
}

func validateLevel(fields []Field, parent string) error {
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return &SchemaError{Kind: ErrEmptyName, Path: fmt.Sprintf("%s[%d]", displayParent(parent), i)}
		}
		path := join(parent, f.Name)
		if _, dup := seen[f.Name]; dup {
			return &SchemaError{Kind: ErrDuplicateSiblingName, Path: path}
		}
		seen[f.Name] = struct{}{}

		switch f.Kind {
		case KindString, KindNumber:
		case KindGroup:
			if len(f.Children) == 0 {
				return &SchemaError{Kind: ErrMissingGroupChildren, Path: path}
			}
			if err := validateLevel(f.Children, path); err != nil {
				return err
			}
		default:
			return &SchemaError{Kind: ErrUnknownKind, Path: path}
		}
	}
	return nil
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func displayParent(parent string) string {
	if parent == "" {
		return "fields"
	}
	return parent
}
