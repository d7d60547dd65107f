package patient

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a patient is not in the working set.
var ErrNotFound = errors.New("patient not found")

// ValidationError means an intake payload could not be turned into a
// minimally valid record. Nothing is created or persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid intake: " + e.Reason
	}
	return fmt.Sprintf("invalid intake: %s: %s", e.Field, e.Reason)
}

// PersistenceError means the store rejected or failed an operation. The
// working set is left unchanged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
