package domain

import (
	"errors"
	"strings"
)

var (
	ErrInvalidID          = errors.New("invalid id")
	ErrDuplicateID        = errors.New("duplicate id")
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidArea        = errors.New("invalid area")
	ErrInvalidCycle       = errors.New("invalid cycle number")
	ErrInvalidYield       = errors.New("invalid expected yield")
	ErrInvalidGrowthStage = errors.New("invalid growth stage")
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidDateRange   = errors.New("invalid date range")
	ErrInvalidMethod      = errors.New("invalid method")
	ErrInvalidRate        = errors.New("invalid rate")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidCost        = errors.New("invalid cost")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidBool        = errors.New("invalid boolean")
	ErrUnknownField       = errors.New("unknown field")
	ErrValidation         = errors.New("validation failed")
)

// FieldError ties one validation failure to the field that caused it.
type FieldError struct {
	Field string
	Err   error
}

// Error implements error.
func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return e.Field + ": " + e.Err.Error()
}

// Unwrap exposes the underlying sentinel.
func (e FieldError) Unwrap() error {
	return e.Err
}

// ValidationError collects every field problem found before a mutation.
type ValidationError struct {
	Fields []FieldError
}

// Error implements error.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Unwrap exposes every collected field error to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	out := make([]error, 0, len(e.Fields))
	for _, f := range e.Fields {
		out = append(out, f)
	}
	return out
}

// DuplicateIDError reports an id already taken in the hierarchy.
func DuplicateIDError() error {
	return &ValidationError{Fields: []FieldError{{Field: "id", Err: ErrDuplicateID}}}
}

// validator accumulates field errors.
type validator struct {
	fields []FieldError
}

// check records err against field when cond is false.
func (v *validator) check(cond bool, field string, err error) {
	if !cond {
		v.fields = append(v.fields, FieldError{Field: field, Err: err})
	}
}

// add records a non-nil error against field.
func (v *validator) add(field string, err error) {
	if err != nil {
		v.fields = append(v.fields, FieldError{Field: field, Err: err})
	}
}

// err returns nil or a *ValidationError.
func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: append([]FieldError(nil), v.fields...)}
}
