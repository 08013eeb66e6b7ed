package common

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// FieldError represents one request-input validation failure
type FieldError struct {
	Field   string
	Value   any
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

// InputValidator collects request-input validation failures
type InputValidator struct {
	errors []FieldError
}

// NewInputValidator creates a new validator instance
func NewInputValidator() *InputValidator {
	return &InputValidator{}
}

// Field validates a field and collects errors
func (v *InputValidator) Field(fieldName string, value any, rules ...ValidationRule) *InputValidator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
		}
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *InputValidator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors
func (v *InputValidator) Errors() []FieldError {
	return v.errors
}

// ErrorMessage returns a combined error message as string
func (v *InputValidator) ErrorMessage() string {
	messages := make([]string, 0, len(v.errors))
	for _, err := range v.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Err returns an AppError wrapping ErrInvalidInput, or nil.
func (v *InputValidator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return NewAppError("INVALID_INPUT", v.ErrorMessage(), ErrInvalidInput)
}

// ValidationRule represents a single validation rule
type ValidationRule func(fieldName string, value any) *FieldError

// Required rejects nil, blank strings and empty slices.
func Required(fieldName string, value any) *FieldError {
	missing := false
	switch v := value.(type) {
	case nil:
		missing = true
	case string:
		missing = strings.TrimSpace(v) == ""
	case []string:
		missing = len(v) == 0
	case []byte:
		missing = len(v) == 0
	}
	if missing {
		return &FieldError{Field: fieldName, Value: value, Message: "is required"}
	}
	return nil
}

// MaxLength limits the rune count of a string.
func MaxLength(max int) ValidationRule {
	return func(fieldName string, value any) *FieldError {
		str, ok := value.(string)
		if !ok {
			return nil
		}
		if utf8.RuneCountInString(str) > max {
			return &FieldError{
				Field:   fieldName,
				Value:   value,
				Message: fmt.Sprintf("must be at most %d characters", max),
			}
		}
		return nil
	}
}

// MaxItems limits the length of an int count (callers pass len(x)).
func MaxItems(max int) ValidationRule {
	return func(fieldName string, value any) *FieldError {
		n, ok := value.(int)
		if ok && n > max {
			return &FieldError{Field: fieldName, Value: value, Message: fmt.Sprintf("must have at most %d items", max)}
		}
		return nil
	}
}

func UUID(fieldName string, value any) *FieldError {
	str, ok := value.(string)
	if !ok {
		return &FieldError{Field: fieldName, Value: value, Message: "must be a string"}
	}
	if _, err := uuid.Parse(str); err != nil {
		return &FieldError{
			Field:   fieldName,
			Value:   value,
			Message: "must be a valid UUID",
		}
	}
	return nil
}
