package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both a nonexistent transfer and a bad access
	// token: callers must not be able to tell the two apart.
	ErrNotFound = errors.New("transfer not found")

	// ErrUnauthorized means the password gate rejected the request.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrExpired means the transfer's lifetime or download quota ran out.
	ErrExpired = errors.New("transfer expired")

	// ErrStorage wraps backing-store I/O failures; surfaced to callers as
	// a generic server failure.
	ErrStorage = errors.New("storage failure")
)

// ValidationError reports bad input at create time. No side effects have
// occurred when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
