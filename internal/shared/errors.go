package shared

import (
	"errors"
	"fmt"
)

// Classification sentinels. Typed errors below match them through errors.Is so
// transport layers can map failures without knowing every domain error.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the current state of a resource forbids the operation.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the actor lacks a capability.
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicate indicates a unique key already exists.
	ErrDuplicate = errors.New("duplicate entry")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

// Invalid builds a *ValidationError.
func Invalid(field string, value any, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     any
}

// NotFound builds a *NotFoundError.
func NotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ForbiddenError reports a missing capability.
type ForbiddenError struct {
	ActorID    int64
	Permission string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %d lacks permission %s", e.ActorID, e.Permission)
}

// Is matches ErrForbidden.
func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }
