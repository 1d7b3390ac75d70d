package models

import (
	"errors"
	"strings"
)

// FieldError is one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Unwrap exposes the sentinel the field was rejected with, if any.
func (e FieldError) Unwrap() error { return e.Cause }

// ValidationErrors collects field errors for a record. The zero value is
// ready to use.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

// Add records err against field. Nested ValidationErrors are flattened with
// dotted field paths.
func (v *ValidationErrors) Add(field string, err error) {
	if err == nil {
		return
	}
	var nested *ValidationErrors
	if errors.As(err, &nested) {
		for _, sub := range nested.Errors {
			sub.Field = fieldPath(field, sub.Field)
			v.Errors = append(v.Errors, sub)
		}
		return
	}
	v.Errors = append(v.Errors, FieldError{Field: field, Message: err.Error(), Cause: err})
}

// AddMessage records a plain message against field.
func (v *ValidationErrors) AddMessage(field, message string) {
	if message != "" {
		v.Errors = append(v.Errors, FieldError{Field: field, Message: message})
	}
}

// Err returns v as an error, or nil when nothing was recorded.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return "invalid record"
	}
	parts := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		parts[i] = e.Error()
	}
	return "invalid record: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is and errors.As reach every field cause.
func (v *ValidationErrors) Unwrap() []error {
	if v == nil {
		return nil
	}
	out := make([]error, 0, len(v.Errors))
	for _, e := range v.Errors {
		if e.Cause != nil {
			out = append(out, e.Cause)
		}
	}
	return out
}

// Fields lists the rejected field names in order.
func (v *ValidationErrors) Fields() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		out[i] = e.Field
	}
	return out
}

func fieldPath(prefix, field string) string {
	if prefix == "" {
		return field
	}
	if field == "" {
		return prefix
	}
	return prefix + "." + field
}
