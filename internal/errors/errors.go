// Package errors defines the error taxonomy shared by the bot's components.
// Callers import it as apperrors to keep the standard library name free.
package errors

import (
	"errors"
	"fmt"
)

// Standard error codes for the application.
const (
	CodeUnknown       = "UNKNOWN"
	CodeUser          = "USER"
	CodeResolution    = "RESOLUTION"
	CodeCommunication = "COMMUNICATION"
	CodeInternal      = "INTERNAL"
)

// ErrUnresolvable is returned when the user directory cannot confirm that a
// chat handle belongs to a registered user.
var ErrUnresolvable = errors.New("handle cannot be resolved")

// ErrMalformedResponse marks a collaborator answer that could not be
// decoded. Asking again yields the same answer.
var ErrMalformedResponse = errors.New("malformed response")

// ApplicationError is the interface that all our custom errors implement.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// Error represents a basic application error.
type Error struct {
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if it doesn't contain one.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// UserError carries a message that is safe to show to the user verbatim:
// invalid arguments, unknown commands, missing permissions.
type UserError struct {
	base Error
}

func (e *UserError) Error() string {
	return e.base.Error()
}

func (e *UserError) Code() string {
	return e.base.Code()
}

func (e *UserError) Unwrap() error {
	return e.base.Unwrap()
}

// Message returns the user-facing text without any wrapped cause.
func (e *UserError) Message() string {
	return e.base.message
}

func NewUserError(message string) error {
	return &UserError{
		base: Error{
			code:    CodeUser,
			message: message,
		},
	}
}

func NewUserErrorf(format string, args ...any) error {
	return NewUserError(fmt.Sprintf(format, args...))
}

// AsUserError reports whether err contains a UserError and returns it.
func AsUserError(err error) (*UserError, bool) {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr, true
	}
	return nil, false
}

// ResolutionError wraps ErrUnresolvable with the handle that failed.
type ResolutionError struct {
	base   Error
	Handle string
}

func (e *ResolutionError) Error() string {
	return e.base.Error()
}

func (e *ResolutionError) Code() string {
	return e.base.Code()
}

func (e *ResolutionError) Unwrap() error {
	return e.base.Unwrap()
}

func NewResolutionError(handle string) error {
	return &ResolutionError{
		base: Error{
			code:    CodeResolution,
			message: fmt.Sprintf("resolve %q", handle),
			err:     ErrUnresolvable,
		},
		Handle: handle,
	}
}

// CommunicationError is a failure to talk to an external collaborator
// (user directory, candidate source). The core never retries it.
type CommunicationError struct {
	base    Error
	Service string
}

func (e *CommunicationError) Error() string {
	return e.base.Error()
}

func (e *CommunicationError) Code() string {
	return e.base.Code()
}

func (e *CommunicationError) Unwrap() error {
	return e.base.Unwrap()
}

// Retryable reports whether a later attempt may succeed.
func (e *CommunicationError) Retryable() bool {
	return !errors.Is(e.base.err, ErrMalformedResponse)
}

func NewCommunicationError(service string, cause error) error {
	return &CommunicationError{
		base: Error{
			code:    CodeCommunication,
			message: fmt.Sprintf("communication with %s failed", service),
			err:     cause,
		},
		Service: service,
	}
}

// IsCommunication reports whether err contains a CommunicationError.
func IsCommunication(err error) bool {
	var commErr *CommunicationError
	return errors.As(err, &commErr)
}

// IsRetryable reports whether err contains a CommunicationError that a
// later attempt may fix.
func IsRetryable(err error) bool {
	var commErr *CommunicationError
	return errors.As(err, &commErr) && commErr.Retryable()
}

// InternalError marks an unexpected failure, typically a recovered panic.
type InternalError struct {
	base Error
}

func (e *InternalError) Error() string {
	return e.base.Error()
}

func (e *InternalError) Code() string {
	return e.base.Code()
}

func (e *InternalError) Unwrap() error {
	return e.base.Unwrap()
}

func NewInternalError(message string, cause error) error {
	return &InternalError{
		base: Error{
			code:    CodeInternal,
			message: message,
			err:     cause,
		},
	}
}
