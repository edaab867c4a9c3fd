package domain

import (
	"time"

	"github.com/google/uuid"
)

type WithdrawalStatus string

const (
	WithdrawalStatusRequested WithdrawalStatus = "requested"
	WithdrawalStatusSettled   WithdrawalStatus = "settled"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
	WithdrawalStatusCancelled WithdrawalStatus = "cancelled"
)

func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalStatusSettled || s == WithdrawalStatusRejected || s == WithdrawalStatusCancelled
}

// WithdrawalState is the per-account scheduler state. Idle and Eligible are
// derived from the balance; the others mirror the in-flight withdrawal.
type WithdrawalState string

const (
	WithdrawalStateIdle      WithdrawalState = "idle"
	WithdrawalStateEligible  WithdrawalState = "eligible"
	WithdrawalStateRequested WithdrawalState = "requested"
)

type Withdrawal struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	Amount         Money
	Status         WithdrawalStatus
	Automatic      bool
	ScheduleKey    *string
	EntryID        uuid.UUID
	RailReference  *string
	ReviewRequired bool
	SubmittingAt   *time.Time
	AcknowledgedAt *time.Time
	SettledAt      *time.Time
	RejectedAt     *time.Time
	CancelledAt    *time.Time
	FailureReason  *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
