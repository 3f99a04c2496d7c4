// Package errors provides typed errors that carry an HTTP status for the API layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
	New    = errors.New
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

// Status builds a sentinel error for the given HTTP status code.
func Status(code int) *Error {
	return &Error{Kind: http.StatusText(code), code: code}
}

var (
	Invalid     *Error = Status(http.StatusBadRequest)
	NotFound    *Error = Status(http.StatusNotFound)
	Unavailable *Error = Status(http.StatusServiceUnavailable)
	Internal    *Error = Status(http.StatusInternalServerError)
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"fields,omitempty"`

	code  int
	cause error
}

var _ error = (*Error)(nil)

// Error implements error
func (e *Error) Error() string {
	str := e.Kind
	if e.Message != "" {
		str += ": " + e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

// Code returns the HTTP status carried by the error.
func (e *Error) Code() int {
	if e.code == 0 {
		return http.StatusInternalServerError
	}
	return e.code
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the cause set
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// WithField returns a copy of error with the field appended.
func (e *Error) WithField(kind, field, message string) *Error {
	err := *e
	err.Fields = append(append([]FieldError(nil), e.Fields...), FieldError{Kind: kind, Field: field, Message: message})
	return &err
}

// Is implements the needed interface for errors.Is.
// It checks kind equality so copies made by Explain still match their sentinel.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	return false
}

// StatusOf maps any error to the HTTP status the API should answer with.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *Error
	if As(err, &e) {
		return e.Code()
	}
	return http.StatusInternalServerError
}

// Brief returns the first line of err's message, cut to a length safe for a response body.
func Brief(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	const limit = 200
	if len(msg) > limit {
		msg = strings.ToValidUTF8(msg[:limit], "") + "..."
	}
	return msg
}
