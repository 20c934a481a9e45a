// Package apperr defines the error codes surfaced to API and CLI callers.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure that callers may branch on.
type Code string

const (
	CodeNotConnected Code = "NOT_CONNECTED"
	CodeNoSources    Code = "NO_SOURCES"
	CodeInvalidRange Code = "INVALID_RANGE"
	CodeSyncFailed   Code = "SYNC_FAILED"
)

// Error is a coded error. Two *Error values match under errors.Is when their
// codes are equal, so the package-level sentinels can be used as targets.
type Error struct {
	Code    Code
	Message string
	Err     error
}

var (
	ErrNotConnected = &Error{Code: CodeNotConnected, Message: "calendar account not connected"}
	ErrNoSources    = &Error{Code: CodeNoSources, Message: "no calendar sources configured"}
	ErrInvalidRange = &Error{Code: CodeInvalidRange, Message: "invalid range"}
	ErrSyncFailed   = &Error{Code: CodeSyncFailed, Message: "sync failed"}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New builds a coded error with a custom message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap builds a coded error around cause.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
