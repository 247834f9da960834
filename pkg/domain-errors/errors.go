// Package domainerrors carries coded errors across the service boundary.
//
// Stores report infrastructure facts through pkg/platform/sentinel; services
// translate those facts into one of the codes below so callers can branch on
// the error kind without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure reported to callers.
type Code string

const (
	// CodeNotFound: a referenced id is absent, or a collection query matched nothing.
	CodeNotFound Code = "not_found"
	// CodeInvalidPayload: the request breaks a business or validation rule.
	CodeInvalidPayload Code = "invalid_payload"
	// CodeUnauthorized: the supplied credential does not match the record.
	CodeUnauthorized Code = "unauthorized"
	// CodeAlreadyInit is reserved; no current operation returns it.
	CodeAlreadyInit Code = "already_init"
	// CodeInternal: a storage fault or broken internal expectation.
	CodeInternal Code = "internal_error"
	// CodeTimeout: the operation did not start or finish before its deadline.
	CodeTimeout Code = "timeout"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error with a human-readable message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in the chain, or CodeInternal for
// uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost coded error in the chain has code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for handler call sites.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}
