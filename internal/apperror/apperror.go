// Package apperror defines the domain errors shared by the store, the
// service layer and the HTTP handlers.
//
// Lower layers return these (usually wrapped with fmt.Errorf and %w); only
// handler/response.go decides which HTTP status each one becomes.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("conflict")
	ErrAlreadyRegistered  = errors.New("already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AppError carries a sentinel (for errors.Is) plus a message that is safe to
// show to the end user.
type AppError struct {
	Err     error  // sentinel
	Message string // shown to the client
	Field   string // form field at fault, if any
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource string, id any) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %v", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, detail string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict: %s", resource, detail),
	}
}

// AlreadyRegistered is returned when the email or phone of a new user is
// already taken, whether caught by the pre-insert lookup or by a unique
// constraint.
func AlreadyRegistered() *AppError {
	return &AppError{
		Err:     ErrAlreadyRegistered,
		Message: "Email or phone already registered",
	}
}

// InvalidCredentials deliberately does not say whether the email or the
// password was wrong.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "Invalid username or password. Please try again.",
	}
}
