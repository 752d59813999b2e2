package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrConflict
	ErrInternal
)

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func Conflict(message string, err error) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: message,
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(err error) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: "forbidden",
		Err:     err,
	}
}

// Pipeline error taxonomy. Duplicate submissions are an idempotent success
// signal, not a failure; the remaining errors decide between retry, dead
// letter and manual remediation.
var (
	// ErrDuplicateRawMessage signals that an identical payload has already
	// been ingested. Callers resolve it to the existing record.
	ErrDuplicateRawMessage = errors.New("raw message already ingested")

	// ErrIdentifierInvalid marks a missing or malformed LANR/BSNR. Routed to
	// the manual remediation queue, never retried.
	ErrIdentifierInvalid = errors.New("identifier missing or malformed")

	// ErrMappingAmbiguous means more than one candidate matched, or LANR and
	// BSNR point at different practices.
	ErrMappingAmbiguous = errors.New("identity mapping ambiguous")

	// ErrMappingNotFound means no doctor or patient candidate matched.
	ErrMappingNotFound = errors.New("identity mapping not found")

	// ErrAuditWriteFailed aborts the enclosing operation: an action without
	// an audit trail is not complete.
	ErrAuditWriteFailed = errors.New("audit write failed")

	// ErrRetryExhausted is returned once a transient failure has used up the
	// configured attempt budget.
	ErrRetryExhausted = errors.New("retry budget exhausted")
)

// ParseError describes a payload that could not be converted into a
// structured candidate. Structural malformation is permanent; only
// I/O-style failures are transient.
type ParseError struct {
	Format    string
	Reason    string
	Transient bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Format, e.Reason)
}

func NewParseError(format, reason string) *ParseError {
	return &ParseError{Format: format, Reason: reason}
}

func NewTransientParseError(format, reason string) *ParseError {
	return &ParseError{Format: format, Reason: reason, Transient: true}
}

// TransientError wraps an infrastructure failure that is expected to clear
// on its own (storage unavailable, broker down). Retried with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried rather than treated as
// a terminal outcome.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}
