// Package errs holds the error kinds shared by the service, repository and transport layers.
// Every specific error wraps exactly one kind so callers can branch with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
)

var (
	ErrTicketNotFound   = fmt.Errorf("ticket %w", ErrNotFound)
	ErrCustomerNotFound = fmt.Errorf("customer %w", ErrNotFound)

	ErrDeviceMismatch    = Validation("device not found or does not belong to customer")
	ErrAssigneeNotFound  = Validation("assignee is not a user of this organization")
	ErrUnknownStatus     = Validation("unknown ticket status")
	ErrIssueTooShort     = Validation("issue description must be at least 10 characters")
	ErrNoChanges         = Validation("no changes provided")
	ErrDuplicateCode     = fmt.Errorf("ticket code already taken: %w", ErrConflict)
	ErrMissingIdentity   = Validation("organization and user identity are required")
	ErrEmptyNote         = Validation("note content is required")
	ErrNegativeCost      = Validation("costs must not be negative")
	ErrInvalidPagination = Validation("page must be >= 1 and page size between 1 and 100")
)

// Validation wraps msg as a validation error.
func Validation(msg string) error {
	return &validationError{msg: msg}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Unwrap() error { return ErrValidation }

// Kind reports which of the three kinds err belongs to, or nil.
func Kind(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrValidation):
		return ErrValidation
	case errors.Is(err, ErrConflict):
		return ErrConflict
	}
	return nil
}
