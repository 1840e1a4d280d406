package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Fields  []string  `json:"fields,omitempty"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so callers can test against
// the sentinels below with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrValidation
	ErrAlreadyAssigned
	ErrAlreadyCompleted
	ErrInvalidTransition
	ErrDeliveryFailure
	ErrResyncRequired
	ErrUnauthorized
	ErrInternal
	ErrForbidden
)

// Sentinels for errors.Is.
var (
	NotFoundErr       = &AppError{Code: ErrNotFound, Message: "not found"}
	ValidationErr     = &AppError{Code: ErrValidation, Message: "validation failed"}
	AlreadyAssigned   = &AppError{Code: ErrAlreadyAssigned, Message: "request already assigned"}
	AlreadyCompleted  = &AppError{Code: ErrAlreadyCompleted, Message: "request already completed"}
	InvalidTransition = &AppError{Code: ErrInvalidTransition, Message: "invalid status transition"}
	DeliveryFailure   = &AppError{Code: ErrDeliveryFailure, Message: "event delivery failed"}
	ResyncRequired    = &AppError{Code: ErrResyncRequired, Message: "resync window exceeded"}
	UnauthorizedErr   = &AppError{Code: ErrUnauthorized, Message: "unauthorized"}
	ForbiddenErr      = &AppError{Code: ErrForbidden, Message: "forbidden"}
	InternalErr       = &AppError{Code: ErrInternal, Message: "internal server error"}
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

// NewValidation reports the submitted fields that failed validation.
func NewValidation(fields ...string) *AppError {
	msg := "validation failed"
	if len(fields) > 0 {
		msg = fmt.Sprintf("validation failed: %s", strings.Join(fields, ", "))
	}
	return &AppError{
		Code:    ErrValidation,
		Message: msg,
		Fields:  fields,
	}
}

func NewAlreadyAssigned(id, nurseID string) *AppError {
	return &AppError{
		Code:    ErrAlreadyAssigned,
		Message: fmt.Sprintf("request %s already assigned to %s", id, nurseID),
	}
}

func NewAlreadyCompleted(id string) *AppError {
	return &AppError{
		Code:    ErrAlreadyCompleted,
		Message: fmt.Sprintf("request %s already completed", id),
	}
}

func NewInvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("cannot move request from %s to %s", from, to),
	}
}

func NewDeliveryFailure(sessionID string, err error) *AppError {
	return &AppError{
		Code:    ErrDeliveryFailure,
		Message: fmt.Sprintf("delivery to session %s failed", sessionID),
		Err:     err,
	}
}

func NewResyncRequired(since, oldest uint64) *AppError {
	return &AppError{
		Code:    ErrResyncRequired,
		Message: fmt.Sprintf("events after %d are no longer retained (oldest %d)", since, oldest),
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// Forbidden is for an authenticated caller whose role does not allow the
// operation.
func Forbidden(err error) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: "forbidden",
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
