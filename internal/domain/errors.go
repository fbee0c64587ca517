package domain

import (
	"errors"
	"fmt"
)

// Error is a ledger failure with a stable machine-readable code.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable}
}

var (
	ErrValidation            = newError("VALIDATION_ERROR", "invalid request", false)
	ErrInsufficientFunds     = newError("INSUFFICIENT_FUNDS", "insufficient funds", false)
	ErrWalletFrozen          = newError("WALLET_FROZEN", "wallet is frozen", false)
	ErrWalletLocked          = newError("WALLET_LOCKED", "wallet is locked", false)
	ErrUnauthorized          = newError("UNAUTHORIZED", "not authorized for this operation", false)
	ErrBelowMinimum          = newError("BELOW_MINIMUM", "amount is below the minimum", false)
	ErrAddressNotWhitelisted = newError("ADDRESS_NOT_WHITELISTED", "destination address is not whitelisted", false)
	ErrCooldownActive        = newError("COOLDOWN_ACTIVE", "withdrawals are not allowed right now", false)
	ErrNotFound              = newError("NOT_FOUND", "record not found", false)
	ErrInvalidState          = newError("INVALID_STATE", "record is not in a valid state for this operation", false)
	ErrConcurrencyConflict   = newError("CONCURRENCY_CONFLICT", "concurrent modification, retry", true)
	ErrDuplicate             = newError("DUPLICATE_REQUEST", "idempotency key was used for a different operation", false)
	ErrInProgress            = newError("IN_PROGRESS", "an operation with this idempotency key is in progress", true)
	ErrExternalService       = newError("EXTERNAL_SERVICE_ERROR", "external service unavailable", true)
	ErrFatalInfrastructure   = newError("FATAL_INFRASTRUCTURE", "storage unavailable", false)
)

// Errorf wraps a sentinel with a detail message, keeping errors.Is working.
func Errorf(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// AsError returns the ledger error carried by err, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsBusiness reports whether err is an expected, caller-facing failure rather than an infrastructure fault.
func IsBusiness(err error) bool {
	de, ok := AsError(err)
	if !ok {
		return false
	}
	return de != ErrFatalInfrastructure
}
