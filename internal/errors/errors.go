package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"healthloop/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an error with additional context. Domain sentinels keep their
// code; anything else becomes INTERNAL_ERROR.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: codeOf(err), Message: message, Cause: err}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{Code: code, Message: appErr.Message, Cause: appErr.Cause}
	}
	return &AppError{Code: code, Message: err.Error(), Cause: err}
}

// IsAppError checks if an error is or wraps an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the error code, deriving it from domain sentinels when the
// error is not an AppError
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	return codeOf(err)
}

func codeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	for _, m := range sentinelCodes {
		if stderrors.Is(err, m.err) {
			return m.code
		}
	}
	return CodeInternalError
}

// Predefined error codes
const (
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodeInvalidInput    = "INVALID_INPUT"

	CodeInsufficientData     = "INSUFFICIENT_DATA"
	CodeStaleBaseline        = "STALE_BASELINE"
	CodeGuardrailViolation   = "GUARDRAIL_VIOLATION"
	CodeClaimPolicyViolation = "CLAIM_POLICY_VIOLATION"
	CodeSafetyGateFailure    = "SAFETY_GATE_FAILURE"
	CodeConsentMissing       = "CONSENT_MISSING"
	CodeInvalidTransition    = "INVALID_TRANSITION"
)

// ordered: the more specific sentinels come first
var sentinelCodes = []struct {
	err  error
	code string
}{
	{core.ErrSafetyGate, CodeSafetyGateFailure},
	{core.ErrConsentMissing, CodeConsentMissing},
	{core.ErrInsufficientData, CodeInsufficientData},
	{core.ErrStaleBaseline, CodeStaleBaseline},
	{core.ErrGuardrailViolation, CodeGuardrailViolation},
	{core.ErrClaimPolicyViolation, CodeClaimPolicyViolation},
	{core.ErrMissingEvaluation, CodeInvalidInput},
	{core.ErrInvalidTransition, CodeInvalidTransition},
	{core.ErrInvalidWindow, CodeInvalidInput},
	{core.ErrOutOfRange, CodeValidationError},
	{core.ErrNotFound, CodeNotFound},
}

// HTTPStatus maps a code to a transport status
func HTTPStatus(code string) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput, CodeValidationError:
		return http.StatusBadRequest
	case CodeConsentMissing:
		return http.StatusForbidden
	case CodeInvalidTransition:
		return http.StatusConflict
	case CodeInsufficientData, CodeStaleBaseline, CodeGuardrailViolation, CodeClaimPolicyViolation:
		return http.StatusUnprocessableEntity
	case CodeSafetyGateFailure, CodeExternalService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DatabaseError(message string, cause error) *AppError {
	return &AppError{Code: CodeDatabaseError, Message: message, Cause: cause}
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func ExternalServiceError(service string, cause error) *AppError {
	return &AppError{
		Code:    CodeExternalService,
		Message: fmt.Sprintf("%s service error", service),
		Cause:   cause,
	}
}
