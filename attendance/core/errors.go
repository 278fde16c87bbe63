package core

import (
	"errors"
	"fmt"

	"punchcard.com/punchcard/attendance/model"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrDuplicate is returned by a Store when the (user, date) uniqueness
	// constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate attendance record")
)

// ConflictError carries the record that already holds the requested state,
// so callers can treat the outcome as an idempotent observation.
type ConflictError struct {
	Reason string
	Record *model.AttendanceRecord
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

func conflict(reason string, rec *model.AttendanceRecord) error {
	return &ConflictError{Reason: reason, Record: rec}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// ConflictRecord returns the record attached to a conflict, if any.
func ConflictRecord(err error) *model.AttendanceRecord {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Record
	}
	return nil
}
