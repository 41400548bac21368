package model

import (
	"errors"
	"fmt"
)

// FailureKind classifies a rejected operation for the caller.
type FailureKind string

const (
	// KindPrecondition means the ledger is not in a state that allows the
	// operation (no open shift, ticket closed, not enough cash tendered).
	KindPrecondition FailureKind = "precondition"

	// KindValidation means the input itself is malformed (non-positive
	// quantity, empty reason).
	KindValidation FailureKind = "validation"
)

// Failure is a typed, user-renderable rejection. Local state is unchanged
// whenever an operation returns a Failure.
//
// Packages declare their failures as sentinel values:
//
//	var ErrNoOpenShift = model.Precondition("NO_OPEN_SHIFT", "no open shift")
//
// and wrap them with %w so callers can use errors.Is.
type Failure struct {
	Kind    FailureKind
	Code    string
	Message string
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Precondition declares a precondition failure.
func Precondition(code, message string) *Failure {
	return &Failure{Kind: KindPrecondition, Code: code, Message: message}
}

// Validation declares a validation failure.
func Validation(code, message string) *Failure {
	return &Failure{Kind: KindValidation, Code: code, Message: message}
}

// AsFailure extracts the Failure from a wrapped error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsPrecondition returns true if err wraps a precondition failure.
func IsPrecondition(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == KindPrecondition
}

// IsValidation returns true if err wraps a validation failure.
func IsValidation(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == KindValidation
}

// ErrNoOpenShift is shared by every operation that needs a current shift.
var ErrNoOpenShift = Precondition("NO_OPEN_SHIFT", "no open shift")
