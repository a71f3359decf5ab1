package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrCodeExhaustion   = errors.New("could not generate an unused voucher code")
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrVoucherNotFound  = errors.New("voucher not found")
	ErrNoneAvailable    = errors.New("no voucher available in campaign")
	ErrExternalRefTaken = errors.New("external campaign reference already in use")
	ErrNotAssignable    = errors.New("voucher cannot be assigned")
)

// ValidationError reports bad input. It matches ErrValidation with
// errors.Is, and ErrInvalidQuantity as well when Field is "quantity".
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	return target == ErrInvalidQuantity && e.Field == "quantity"
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PartialIssueError is returned when bulk issuance stops after some batches
// were committed. Committed vouchers are durable.
type PartialIssueError struct {
	Committed int
	Requested int
	Err       error
}

func (e *PartialIssueError) Error() string {
	return fmt.Sprintf("issued %d of %d vouchers: %v", e.Committed, e.Requested, e.Err)
}

func (e *PartialIssueError) Unwrap() error {
	return e.Err
}
