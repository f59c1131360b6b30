// Package errors provides the structured error type shared by the viewer packages.
// Every failure a render pass can hit carries a Code so the controller can pick
// the message it shows without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	// CodeConfigurationIncomplete means the locator is missing a collection, record id or field.
	CodeConfigurationIncomplete Code = "CONFIGURATION_INCOMPLETE"

	// CodeNetwork covers transport failures and unexpected HTTP statuses.
	CodeNetwork Code = "NETWORK_ERROR"

	// CodeAuth means the record store rejected the ambient credentials (401/403).
	CodeAuth Code = "AUTH_ERROR"

	// CodeNotFound means the record or field does not exist (404).
	CodeNotFound Code = "NOT_FOUND"

	// CodeDecode means the payload is not a readable PDF.
	CodeDecode Code = "DECODE_ERROR"

	// CodeInvalidGeometry means a scale could not be derived from the page and container sizes.
	CodeInvalidGeometry Code = "INVALID_GEOMETRY"
)

// ViewerError is a failure with a code, an optional HTTP status and an optional cause.
type ViewerError struct {
	Code    Code
	Message string
	// Status is the HTTP status for fetch failures, zero otherwise.
	Status int
	Cause  error
}

// Error implements the error interface.
func (e *ViewerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ViewerError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ViewerError with the same code.
func (e *ViewerError) Is(target error) bool {
	if t, ok := target.(*ViewerError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrConfigurationIncomplete = &ViewerError{Code: CodeConfigurationIncomplete}
	ErrNetwork                 = &ViewerError{Code: CodeNetwork}
	ErrAuth                    = &ViewerError{Code: CodeAuth}
	ErrNotFound                = &ViewerError{Code: CodeNotFound}
	ErrDecode                  = &ViewerError{Code: CodeDecode}
	ErrInvalidGeometry         = &ViewerError{Code: CodeInvalidGeometry}
)

// New creates a ViewerError with the given code and message.
func New(code Code, format string, args ...any) *ViewerError {
	return &ViewerError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a ViewerError around cause.
func Wrap(code Code, cause error, format string, args ...any) *ViewerError {
	return &ViewerError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithStatus sets the HTTP status and returns the error for chaining.
func (e *ViewerError) WithStatus(status int) *ViewerError {
	e.Status = status
	return e
}

// CodeOf returns the code of the first ViewerError in err's chain, or "" if there is none.
func CodeOf(err error) Code {
	var ve *ViewerError
	if stderrors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or zero.
func StatusOf(err error) int {
	var ve *ViewerError
	if stderrors.As(err, &ve) {
		return ve.Status
	}
	return 0
}

// IsFetchFailure reports whether err came from retrieving the document bytes.
func IsFetchFailure(err error) bool {
	switch CodeOf(err) {
	case CodeNetwork, CodeAuth, CodeNotFound:
		return true
	}
	return false
}
