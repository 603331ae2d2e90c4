// Package errdefs defines the error taxonomy shared by every stage of the
// estimation pipeline.
//
// Two kinds of failure exist:
//   - InvalidParameterError: a caller-supplied value is out of range. Never
//     retried; the caller must fix the input.
//   - ExecutionError: the executor could not complete a run (too many qubits,
//     cancelled, backend unavailable). The caller decides whether to shrink
//     the problem and resubmit.
package errdefs

import (
	"fmt"

	"github.com/pkg/errors"
)

// InvalidParameterError reports a rejected input value.
type InvalidParameterError struct {
	// Field names the offending parameter, e.g. "unit_cells".
	Field string

	// Value is the rejected value.
	Value any

	// Reason is a short human-readable constraint, e.g. "must be >= 1".
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%v: %s", e.Field, e.Value, e.Reason)
}

// ExecutionError reports a failure inside an executor backend.
type ExecutionError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution failed on %s: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("execution failed on %s: %s", e.Backend, e.Reason)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// InvalidParameter builds an InvalidParameterError.
func InvalidParameter(field string, value any, reason string) error {
	return &InvalidParameterError{Field: field, Value: value, Reason: reason}
}

// Execution builds an ExecutionError.
func Execution(backend, reason string, err error) error {
	return &ExecutionError{Backend: backend, Reason: reason, Err: err}
}

// IsInvalidParameter reports whether err wraps an InvalidParameterError.
func IsInvalidParameter(err error) bool {
	var ip *InvalidParameterError
	return errors.As(err, &ip)
}

// IsExecution reports whether err wraps an ExecutionError.
func IsExecution(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
