// Package domainerrors carries coded domain errors across layer boundaries.
//
// Services and domain packages return these; the HTTP layer translates codes
// into status lines via ToHTTPStatus. Infrastructure facts (not found, wrong
// state) live in pkg/platform/sentinel and get wrapped into a coded error at
// the service boundary.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code classifies a domain error for callers and for HTTP translation.
type Code string

const (
	CodeInvalidInput Code = "invalid_input"
	CodeBadRequest   Code = "bad_request"
	CodeConflict     Code = "conflict"
	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeTimeout      Code = "timeout"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal_error"
)

// Error is a coded error with an optional cause and key/value details.
type Error struct {
	Code    Code
	Message string
	Details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a coded error around an underlying cause, preserving the chain
// for errors.Is / errors.As.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Add attaches a detail to a coded error. Non-coded errors pass through
// unchanged so call sites never need to pre-check the type.
func Add(err error, key, value string) error {
	var de *Error
	if !errors.As(err, &de) {
		return err
	}
	if de.Details == nil {
		de.Details = make(map[string]string)
	}
	de.Details[key] = value
	return err
}

// Load retrieves a detail previously attached with Add.
func Load(err error, key string) (string, bool) {
	var de *Error
	if !errors.As(err, &de) {
		return "", false
	}
	value, ok := de.Details[key]
	return value, ok
}

// ToHTTPStatus maps a domain code to the HTTP status the transport layer
// should respond with.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
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
