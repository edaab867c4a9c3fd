package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Operator role required"}
	ErrInvalidSignature = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature is invalid"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidCurrency       = &AppError{http.StatusBadRequest, "INVALID_CURRENCY", "Invalid currency"}
	ErrInvalidAmount         = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Invalid amount"}
	ErrCurrencyMismatch      = &AppError{http.StatusUnprocessableEntity, "CURRENCY_MISMATCH", "Currency does not match the account"}
	ErrVersionConflict       = &AppError{http.StatusConflict, "VERSION_CONFLICT", "Resource was modified concurrently, please retry"}
	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}

	ErrInsufficientBalance    = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", "Available balance is below the requested amount"}
	ErrAccountNotVerified     = &AppError{http.StatusUnprocessableEntity, "ACCOUNT_NOT_VERIFIED", "Account is not verified"}
	ErrAccountInactive        = &AppError{http.StatusUnprocessableEntity, "ACCOUNT_INACTIVE", "Account is inactive"}
	ErrWithdrawalInProgress   = &AppError{http.StatusConflict, "WITHDRAWAL_IN_PROGRESS", "A withdrawal is already in progress"}
	ErrWithdrawalAcknowledged = &AppError{http.StatusConflict, "WITHDRAWAL_ACKNOWLEDGED", "Withdrawal was already accepted by the payout rail"}
	ErrWithdrawalTerminal     = &AppError{http.StatusConflict, "WITHDRAWAL_TERMINAL", "Withdrawal is already finished"}
	ErrEntryNotPending        = &AppError{http.StatusConflict, "ENTRY_NOT_PENDING", "Entry is not pending"}
	ErrPeriodOverlap          = &AppError{http.StatusConflict, "PERIOD_OVERLAP", "Billing period overlaps an existing statement"}
	ErrAlreadyExists          = &AppError{http.StatusConflict, "ALREADY_EXISTS", "Resource already exists"}
)
