package model

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("unauthorized")
	ErrNotPending     = errors.New("scheduled message is not pending")
	ErrMessageDeleted = errors.New("cannot edit deleted message")
)

// ValidationError is a rejected request. Reason is shown to the user as is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Invalid builds a ValidationError.
func Invalid(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
