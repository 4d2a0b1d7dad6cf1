// Package apperr carries the error codes shared by the room, session and
// ledger layers.
package apperr

import (
	"errors"
	"fmt"
)

const (
	CodeInvalidInput = "INVALID_INPUT"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeUnavailable  = "UNAVAILABLE"
	CodeInternal     = "INTERNAL"
)

// AppError is an error with a stable code and a message safe to show to clients.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches errors with the same code and message. A target without a
// message matches every error carrying its code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if e.Code != t.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Code-only values for errors.Is checks.
var (
	InvalidInput = &AppError{Code: CodeInvalidInput}
	Unauthorized = &AppError{Code: CodeUnauthorized}
	Forbidden    = &AppError{Code: CodeForbidden}
	NotFound     = &AppError{Code: CodeNotFound}
	Conflict     = &AppError{Code: CodeConflict}
	Unavailable  = &AppError{Code: CodeUnavailable}
)

// CodeOf returns the code of the first AppError in err's chain, or CodeInternal.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// PublicMessage returns a message suitable for a client. Errors outside the
// taxonomy are reported generically.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
