package patrol

import (
	"errors"
	"fmt"
	"math"
)

// Error kinds surfaced to callers. Match them with errors.Is.
var (
	ErrMissingField = errors.New("missing field")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
)

// FieldError reports a missing or unusable request field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is matches ErrMissingField.
func (e *FieldError) Is(target error) bool { return target == ErrMissingField }

// NotFoundError reports a missing referenced entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TooFarError rejects a submission made outside the checkpoint geofence.
type TooFarError struct {
	DistanceMeters float64
	AccuracyMeters float64
	AllowedRadius  float64
}

func (e *TooFarError) Error() string {
	return fmt.Sprintf("too far from checkpoint: distance %.0fm, GPS accuracy ±%.0fm, allowed radius %.0fm",
		math.Round(e.DistanceMeters), math.Round(e.AccuracyMeters), math.Round(e.AllowedRadius))
}

// Is matches ErrForbidden.
func (e *TooFarError) Is(target error) bool { return target == ErrForbidden }

// ConflictError reports a uniqueness or referential conflict.
type ConflictError struct {
	Entity string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Entity, e.Reason)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// InternalError wraps an unexpected storage, render or upload failure.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Is matches ErrInternal.
func (e *InternalError) Is(target error) bool { return target == ErrInternal }

func (e *InternalError) Unwrap() error { return e.Err }

// Internal wraps err as an InternalError unless it already carries a kind.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrMissingField, ErrNotFound, ErrForbidden, ErrConflict, ErrInternal} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return &InternalError{Op: op, Err: err}
}
