package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound           = errors.New("resource not found")
	ErrExperimentNotFound = fmt.Errorf("%w: experiment", ErrNotFound)
	ErrEvaluationNotFound = fmt.Errorf("%w: evaluation", ErrNotFound)
	ErrBaselineNotFound   = fmt.Errorf("%w: baseline", ErrNotFound)
	ErrUnknownMetric      = fmt.Errorf("%w: metric", ErrNotFound)

	// Analysis outcomes that must never be collapsed into zero values
	ErrInsufficientData = errors.New("insufficient data for analysis")
	ErrStaleBaseline    = errors.New("baseline is stale after a data gap")

	// Governance errors
	ErrGuardrailViolation   = errors.New("guardrail violation")
	ErrClaimPolicyViolation = errors.New("claim exceeds evidence grade")
	ErrConsentMissing       = errors.New("analysis consent not granted")

	// Safety gate could not be evaluated; the day's run must fail closed
	ErrSafetyGate = errors.New("safety gate evaluation failed")

	// Validation errors
	ErrOutOfRange        = errors.New("value outside metric valid range")
	ErrInvalidTransition = errors.New("invalid experiment state transition")
	ErrInvalidWindow     = errors.New("invalid analysis window")
	ErrMissingEvaluation = errors.New("decision requires an evaluation result")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("validation failed for %s: %s", field, reason)
}

func NewSafetyGateError(metric MetricKey, err error) error {
	return fmt.Errorf("%w for metric %s: %v", ErrSafetyGate, metric, err)
}

func NewTransitionError(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUndetermined reports errors meaning "we couldn't tell", as opposed to
// "nothing happened"
func IsUndetermined(err error) bool {
	return errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrStaleBaseline)
}

// IsFatalForDay reports errors that abort a user's whole daily run
func IsFatalForDay(err error) bool {
	return errors.Is(err, ErrSafetyGate) ||
		errors.Is(err, ErrConsentMissing)
}
