package schemas

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures surfaced to callers of the macro store, the
// interaction log and the correlation layer.
type ErrorCode string

const (
	// CodeValidation covers missing or malformed fields and unsatisfiable prune bounds.
	CodeValidation ErrorCode = "VALIDATION_ERROR"
	// CodeNotFound is returned when a macro id is unknown.
	CodeNotFound ErrorCode = "NOT_FOUND"
	// CodeTimeout means no matching response arrived before the call's deadline.
	CodeTimeout ErrorCode = "TIMEOUT"
	// CodeConnection covers transport failures and unparseable frames.
	CodeConnection ErrorCode = "CONNECTION_ERROR"
	// CodeRemote is reported when the far side answered with payload.error.
	CodeRemote ErrorCode = "REMOTE_ERROR"
)

// Error is the structured error type shared by every component.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by code, so errors.Is(err, ErrValidation) holds
// for every validation failure regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrValidation = &Error{Code: CodeValidation}
	ErrNotFound   = &Error{Code: CodeNotFound}
	ErrTimeout    = &Error{Code: CodeTimeout}
	ErrConnection = &Error{Code: CodeConnection}
	ErrRemote     = &Error{Code: CodeRemote}
)

func NewValidationError(format string, a ...interface{}) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, a...)}
}

func NewNotFoundError(format string, a ...interface{}) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, a...)}
}

func NewTimeoutError(format string, a ...interface{}) error {
	return &Error{Code: CodeTimeout, Message: fmt.Sprintf(format, a...)}
}

// NewConnectionError wraps the underlying transport failure, which may be nil.
func NewConnectionError(cause error, format string, a ...interface{}) error {
	return &Error{Code: CodeConnection, Message: fmt.Sprintf(format, a...), Err: cause}
}

// NewRemoteError keeps the far side's message verbatim.
func NewRemoteError(message string) error {
	return &Error{Code: CodeRemote, Message: message}
}

// CodeOf extracts the ErrorCode of err, or "" if err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
