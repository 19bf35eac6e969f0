package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the escrow core and the HTTP surface.
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeUnsupportedKind   = "UNSUPPORTED_KIND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeLedgerFailure     = "LEDGER_FAILURE"
	CodeInternal          = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewUnsupportedKind reports a currency kind no ledger factory is registered for.
func NewUnsupportedKind(kind string) error {
	return NewDomainError(CodeUnsupportedKind, fmt.Sprintf("unsupported ticket kind %q", kind),
		http.StatusBadRequest, map[string]any{"kind": kind})
}

// NewInvalidTransition reports an operation that the current ticket status does not allow.
func NewInvalidTransition(operation, status string) error {
	return NewDomainError(CodeInvalidTransition,
		fmt.Sprintf("%s not allowed in status %s", operation, status),
		http.StatusConflict, map[string]any{"operation": operation, "status": status})
}

// NewLedgerFailure wraps an error returned by a ledger collaborator.
func NewLedgerFailure(op string, err error) error {
	return &DomainError{
		Code:       CodeLedgerFailure,
		Message:    "ledger " + op + " failed",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether any DomainError in err's chain carries code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	for err != nil {
		if !errors.As(err, &domainErr) {
			return false
		}
		if domainErr.Code == code {
			return true
		}
		err = domainErr.Err
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
