// Package api
// Author: momentics <momentics@gmail.com>
//
// Error kinds shared by the registry, the registrar and the scanner, plus the
// structured error type carried through watch-change results.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
	ErrNotFound          = fmt.Errorf("not found")
	ErrAlreadyExists     = fmt.Errorf("already exists")
	ErrBusy              = fmt.Errorf("resource busy")
	ErrBadHandle         = fmt.Errorf("bad handle")
	ErrAccessDenied      = fmt.Errorf("access denied")
	ErrPermissionDenied  = fmt.Errorf("permission denied")
	ErrResourceExhausted = fmt.Errorf("resource exhausted")
	ErrCancelled         = fmt.Errorf("operation cancelled")
	ErrNotSupported      = fmt.Errorf("operation not supported")
)

// ErrorCode represents specific error conditions in the library.
// Codes are reported inline in Kevent.Data for failed watch-change entries.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeNotFound
	ErrCodeAlreadyExists
	ErrCodeBusy
	ErrCodeBadHandle
	ErrCodeAccessDenied
	ErrCodePermissionDenied
	ErrCodeResourceExhausted
	ErrCodeCancelled
	ErrCodeNotSupported
	ErrCodeInternal
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeInvalidArgument:   ErrInvalidArgument,
	ErrCodeNotFound:          ErrNotFound,
	ErrCodeAlreadyExists:     ErrAlreadyExists,
	ErrCodeBusy:              ErrBusy,
	ErrCodeBadHandle:         ErrBadHandle,
	ErrCodeAccessDenied:      ErrAccessDenied,
	ErrCodePermissionDenied:  ErrPermissionDenied,
	ErrCodeResourceExhausted: ErrResourceExhausted,
	ErrCodeCancelled:         ErrCancelled,
	ErrCodeNotSupported:      ErrNotSupported,
}

// Sentinel returns the package-level error value for the code, or nil.
func (c ErrorCode) Sentinel() error {
	return codeSentinels[c]
}

func (c ErrorCode) String() string {
	if c == ErrCodeOK {
		return "ok"
	}
	if s := codeSentinels[c]; s != nil {
		return s.Error()
	}
	return "internal error"
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Is reports whether target is the sentinel error of e's code, so that
// errors.Is(err, ErrNotFound) works for structured errors too.
func (e *Error) Is(target error) bool {
	s := e.Code.Sentinel()
	return s != nil && s == target
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf maps any error to its ErrorCode. Unknown errors map to ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	for code, s := range codeSentinels {
		if errors.Is(err, s) {
			return code
		}
	}
	return ErrCodeInternal
}

// ErrorFromCode rebuilds an error from a code reported inline in a Kevent.
func ErrorFromCode(code ErrorCode) error {
	if code == ErrCodeOK {
		return nil
	}
	if s := code.Sentinel(); s != nil {
		return s
	}
	return NewError(code, "internal error")
}
