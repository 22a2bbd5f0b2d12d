package booking

import (
	"errors"
	"fmt"
	"strings"
)

// Stable machine-readable error codes, distinct from the human message.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeConflict   = "CONFLICT_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodePermission = "PERMISSION_DENIED"
	CodeState      = "INVALID_STATE"
	CodeDependency = "DEPENDENCY_ERROR"
)

// ValidationError carries every rule violation found, not just the first.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) Code() string { return CodeValidation }

// ConflictError reports an unavailable vehicle or an overlapping booking.
type ConflictError struct {
	ConflictingBookingID string
	Reason               string
}

func (e *ConflictError) Error() string {
	if e.ConflictingBookingID != "" {
		return fmt.Sprintf("%s (conflicting booking %s)", e.Reason, e.ConflictingBookingID)
	}
	return e.Reason
}

func (e *ConflictError) Code() string { return CodeConflict }

// NotFoundError reports a missing booking, conflict, or vehicle.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Code() string { return CodeNotFound }

// PermissionError reports a caller that is neither owner nor elevated.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string { return e.Reason }
func (e *PermissionError) Code() string  { return CodePermission }

// StateError reports an operation invalid for the booking's current status.
type StateError struct {
	Op     string
	Status Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s booking in status %s", e.Op, e.Status)
}

func (e *StateError) Code() string { return CodeState }

// DependencyError wraps a failure of an external collaborator (store, cache,
// membership service, event sink).
type DependencyError struct {
	Dep string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s failed: %v", e.Dep, e.Err)
}

func (e *DependencyError) Code() string  { return CodeDependency }
func (e *DependencyError) Unwrap() error { return e.Err }

// Coded is implemented by every engine error.
type Coded interface {
	error
	Code() string
}

// ErrorCode extracts the stable code from err, or "INTERNAL" for anything
// outside the taxonomy.
func ErrorCode(err error) string {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "INTERNAL"
}

// wrapDep turns an infrastructure failure into a DependencyError while
// letting errors already in the taxonomy pass through with their own code.
func wrapDep(dep string, err error) error {
	if err == nil {
		return nil
	}
	var coded Coded
	if errors.As(err, &coded) {
		return err
	}
	return &DependencyError{Dep: dep, Err: err}
}
