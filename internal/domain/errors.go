package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the core operations
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindDuplicateAccount ErrorKind = "duplicate_account"
	KindValidation       ErrorKind = "validation_error"
	KindAuth             ErrorKind = "auth_error"
	KindExternalService  ErrorKind = "external_service_error"
	KindTimeout          ErrorKind = "timeout"
	KindInvalidState     ErrorKind = "invalid_state"
	KindInternal         ErrorKind = "internal_error"
)

// Error is a classified failure carrying a human readable message
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works for every not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrDuplicateAccount = &Error{Kind: KindDuplicateAccount}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrAuth             = &Error{Kind: KindAuth}
	ErrExternalService  = &Error{Kind: KindExternalService}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
)

// NewError creates a classified error
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// NotFoundf returns a not-found error
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validationf returns a validation error
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// InvalidStatef returns an invalid-state error
func InvalidStatef(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
