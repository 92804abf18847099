// Package apperr holds the error kinds shared by the scheduling services.
// Domain packages declare their own sentinel errors wrapping one of these
// kinds, so callers can match either the specific error or the kind.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrConflict         = errors.New("conflict")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrUnavailable      = errors.New("unavailable")
	ErrNotFound         = errors.New("not found")
	ErrExpired          = errors.New("expired")
	ErrTooManyAttempts  = errors.New("too many attempts")
	ErrDeliveryFailed   = errors.New("delivery failed")
)

var kinds = []error{
	ErrValidation,
	ErrConflict,
	ErrCapacityExceeded,
	ErrUnavailable,
	ErrNotFound,
	ErrExpired,
	ErrTooManyAttempts,
	ErrDeliveryFailed,
}

// Error is a message tagged with a kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// New returns an error of the given kind.
func New(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Validationf returns a validation error with a formatted message.
func Validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind err belongs to, or nil for infrastructure errors.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
