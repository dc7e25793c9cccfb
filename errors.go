// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

package rcforest

import "errors"

// Sentinel error kinds. Config and input errors are returned at the API
// boundary without mutating forest state; InvariantViolation panics
// instead of returning an error, since it signals a programmer error or
// data corruption rather than a recoverable condition.
var (
	// ErrInvalidConfig is wrapped into errors returned by NewForest when
	// the supplied Config fails validation.
	ErrInvalidConfig = errors.New("rcforest: invalid config")

	// ErrInvalidInput is wrapped into errors returned by Update/Get*
	// operations when the caller-supplied point or index is malformed.
	ErrInvalidInput = errors.New("rcforest: invalid input")

	// ErrCapacityExhausted is wrapped into errors returned when the
	// PointStore has no free slot left. Under correct operation (capacity
	// bounded by numTrees*sampleSize) this must never happen.
	ErrCapacityExhausted = errors.New("rcforest: capacity exhausted")
)

// InvariantViolation panics to signal a broken structural invariant
// (mass mismatch, missing handle, box inversion). It is never returned as
// an error; callers that want to treat it as recoverable should use
// recover() directly.
type InvariantViolation struct {
	Op      string
	Message string
}

func (e *InvariantViolation) Error() string {
	return "rcforest: invariant violation in " + e.Op + ": " + e.Message
}

func panicInvariant(op, message string) {
	panic(&InvariantViolation{Op: op, Message: message})
}
