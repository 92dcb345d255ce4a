package entity

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors produced when
// a payload does not match a store's schema. It is always recoverable and is
// surfaced to the caller with per-field reasons; values are never coerced.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// StorageError wraps a failure from the storage backend. It is surfaced to
// callers as a generic failure and logged; the framework does not retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr wraps err as a *StorageError unless it already is one.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// PermissionError indicates the caller's roles and bypass rules do not
// authorize the attempted action. It is distinct from not-found.
type PermissionError struct {
	Struct string
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("invalid permissions for %s on %s", e.Action, e.Struct)
}

// FatalStructError indicates a programming-time misconfiguration: a duplicate
// store name, a double build, or building a store flagged sample-only in a
// non-sample environment. It aborts initialization and is never caught.
type FatalStructError struct {
	Struct string
	Reason string
}

func (e *FatalStructError) Error() string {
	return fmt.Sprintf("fatal struct error on %q: %s", e.Struct, e.Reason)
}

// fatalf panics with a *FatalStructError. Registration and build problems are
// programmer errors, so the process fails fast at startup rather than serving
// with a broken registry.
func fatalf(name, format string, args ...any) {
	panic(&FatalStructError{Struct: name, Reason: fmt.Sprintf(format, args...)})
}
