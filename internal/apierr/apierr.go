package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable error code carried in API error bodies.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeAlreadyStarted     Code = "ALREADY_STARTED"
	CodeNoActiveDay        Code = "NO_ACTIVE_DAY"
	CodeDayNotActive       Code = "DAY_NOT_ACTIVE"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeNotFound           Code = "NOT_FOUND"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeNetwork            Code = "NETWORK_ERROR"
	CodeTimeout            Code = "TIMEOUT"
	CodeStorage            Code = "STORAGE_ERROR"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// Error is a classified failure. Err, when set, is the underlying cause and
// is never rendered to API callers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so errors.Is(err, apierr.DayNotActive)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ValidationError = &Error{Code: CodeValidation, Message: "validation failed"}
	AlreadyStarted  = &Error{Code: CodeAlreadyStarted, Message: "workday already started"}
	NoActiveDay     = &Error{Code: CodeNoActiveDay, Message: "no active workday"}
	DayNotActive    = &Error{Code: CodeDayNotActive, Message: "workday is not active"}
	InvalidToken    = &Error{Code: CodeInvalidToken, Message: "invalid token"}
)

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when none is present.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// HTTPStatus maps a code to the status the server responds with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAlreadyStarted, CodeNoActiveDay:
		return http.StatusConflict
	case CodeDayNotActive, CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthorized, CodeInvalidToken, CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus classifies a response that carried no recognizable code.
func FromStatus(status int) Code {
	switch status {
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// Transient reports whether the failure is expected to heal on its own, so a
// background loop should simply try again on its next cycle.
func Transient(err error) bool {
	switch CodeOf(err) {
	case CodeNetwork, CodeTimeout, CodeStorage, CodeInternal, CodeRateLimited:
		return true
	}
	return false
}
