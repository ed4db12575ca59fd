// Package domainerrors defines the engine's error taxonomy. Services wrap
// store and validation failures with a code; transports translate codes into
// HTTP statuses without inspecting messages. Conventionally imported as
// dErrors.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// CodeInvalidInput marks malformed input rejected synchronously and
	// never retried: unknown organ, bad UUID, missing coordinates.
	CodeInvalidInput Code = "invalid_input"
	// CodeBadRequest marks structurally valid but unacceptable requests,
	// such as a submission without consent.
	CodeBadRequest Code = "bad_request"
	CodeNotFound   Code = "not_found"
	// CodeConflict marks state-machine collisions: a second approval for a
	// donor who already has an approved match. Callers must re-fetch state.
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden marks authorization failures, e.g. a non-admin driving
	// an admin-only transition.
	CodeForbidden Code = "forbidden"
	CodeTimeout   Code = "timeout"
	// CodeUnavailable marks transient store failures that are retryable at
	// the call boundary.
	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal"
)

// Error carries a code alongside the message so callers can branch on the
// class of failure without string matching.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err or anything it wraps carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code onto the HTTP status the transport should emit.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
