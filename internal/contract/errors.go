package contract

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the store and orchestrator.
var (
	ErrRunNotFound       = errors.New("run not found")
	ErrRunBusy           = errors.New("run is already in progress")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrReportNotFound    = errors.New("report not found")
	ErrReportFinalized   = errors.New("report is finalized")
)

// ValidationError rejects input before a run starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransientError marks a timeout or rate limit from an external collaborator.
// Callers retry these with bounded backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient.
func NewTransientError(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// PartialFailure reports that some repos or units failed while others succeeded.
type PartialFailure struct {
	Phase  string
	Failed int
	Total  int
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%s: %d of %d items failed", e.Phase, e.Failed, e.Total)
}

// FatalError stops a run. Only a full restart or deletion recovers from it.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// NewFatalError builds a FatalError.
func NewFatalError(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err is a FatalError.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// IsPartial reports whether err is a PartialFailure.
func IsPartial(err error) bool {
	var p *PartialFailure
	return errors.As(err, &p)
}
