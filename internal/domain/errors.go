package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrVersionConflict = errors.New("optimistic lock conflict")

	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrPeriodOverlap    = errors.New("billing period overlaps an existing statement")

	// State conflicts. The operation returns the existing resource alongside these.
	ErrDuplicateEntry      = errors.New("duplicate entry")
	ErrPeriodAlreadyBilled = errors.New("period already billed")
	ErrAlreadyProvisioned  = errors.New("account already provisioned")

	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrAccountNotVerified     = errors.New("account not verified")
	ErrAccountInactive        = errors.New("account inactive")
	ErrWithdrawalInProgress   = errors.New("a withdrawal is already in progress")
	ErrWithdrawalAcknowledged = errors.New("withdrawal already acknowledged by payout rail")
	ErrWithdrawalTerminal     = errors.New("withdrawal already in terminal state")
	ErrEntryNotPending        = errors.New("entry is not pending")
	ErrPayoutRejected         = errors.New("payout rail rejected the withdrawal")

	ErrLedgerDrift = errors.New("ledger drift detected")
)

// IsStateConflict reports whether err is a conflict that callers treat as success.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrDuplicateEntry) ||
		errors.Is(err, ErrPeriodAlreadyBilled) ||
		errors.Is(err, ErrAlreadyProvisioned)
}
