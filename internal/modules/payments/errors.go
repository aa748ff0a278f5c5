package payments

import "errors"

var (
	ErrNotFound            = errors.New("payment not found")
	ErrDuplicatePending    = errors.New("pending payment already exists for creator")
	ErrStatusConflict      = errors.New("payment status changed concurrently")
	ErrPaymentVoided       = errors.New("payment voided")
	ErrCredentialsNotFound = errors.New("gateway credentials not found")
	ErrUnknownProcessor    = errors.New("unknown order processor")
	ErrAmountMismatch      = errors.New("verified amount does not match order amount")
)
