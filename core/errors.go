package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return fmt.Sprintf("%s: %s", err.Fields[0].Field, err.Fields[0].Error)
		}
		return "validation failed"
	}
	return err.Err.Error()
}

// NotFoundError reports an unknown tenant, appeal or document.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func (err NotFoundError) Error() string {
	return err.Resource + " not found"
}

// ConflictError reports a write attempted against a state that no longer holds.
type ConflictError struct {
	msg string
}

func NewConflictError(format string, args ...interface{}) error {
	return &ConflictError{msg: fmt.Sprintf(format, args...)}
}

func (err ConflictError) Error() string {
	return err.msg
}

// AuthorizationError reports a caller lacking the required capability.
type AuthorizationError struct {
	msg             string
	Unauthenticated bool
}

func NewAuthorizationError(msg string, unauthenticated bool) error {
	return &AuthorizationError{msg: msg, Unauthenticated: unauthenticated}
}

func (err AuthorizationError) Error() string {
	return err.msg
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
