// Package apperr defines the status-tagged errors the portal core raises
// inside request handling. A transaction either commits or returns one of
// these; the HTTP layer maps them onto the JSON error envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status int    // HTTP status the boundary should answer with
	Code   string // short machine-readable tag, e.g. "attempt_expired"
	Msg    string
}

func (e *Error) Error() string { return e.Msg }

func Validation(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "validation", Msg: fmt.Sprintf(format, args...)}
}

func Forbidden(msg string) *Error {
	return &Error{Status: http.StatusForbidden, Code: "forbidden", Msg: msg}
}

func NotFound(what string) *Error {
	return &Error{Status: http.StatusNotFound, Code: "not_found", Msg: what + " not found"}
}

func Conflict(code, msg string) *Error {
	return &Error{Status: http.StatusConflict, Code: code, Msg: msg}
}

func TooLarge(msg string) *Error {
	return &Error{Status: http.StatusRequestEntityTooLarge, Code: "resource_limit", Msg: msg}
}

// Invariant marks malformed stored data. The boundary logs the detail with
// the request id and answers with a generic 500.
func Invariant(format string, args ...any) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: "invariant", Msg: fmt.Sprintf(format, args...)}
}

// Status extracts the HTTP status from err, defaulting to 500.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// CodeOf extracts the machine tag from err, defaulting to "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
