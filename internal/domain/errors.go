package domain

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a referenced process, step, application or
// checklist entry does not exist, or exists but does not match the expected
// type or step filter. It is surfaced to the caller verbatim and never
// retried automatically.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ConflictError is returned when an entity exists but is not in a state
// compatible with the requested transition. The caller may retry after
// correcting state; the core never does.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Resource, e.ID, e.Reason)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// VersionConflictError is returned when an optimistic-concurrency update
// finds the stored version moved since the entity was read. The whole unit
// of work fails; the caller re-reads and retries.
type VersionConflictError struct {
	Resource string
	ID       string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s %q was modified concurrently", e.Resource, e.ID)
}

// IsVersionConflict reports whether err is (or wraps) a VersionConflictError.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}

// FatalError marks an invariant violation. The runner never converts it into
// a FAILED step: it propagates and aborts the current unit of work, because
// continuing would corrupt state.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the runner propagates it instead of recording a FAILED
// step.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
