package domain

import (
	"time"

	"github.com/google/uuid"
)

type AccountKind string

const (
	AccountKindIndividual AccountKind = "individual"
	AccountKindBusiness   AccountKind = "business"
)

func (k AccountKind) IsValid() bool {
	return k == AccountKindIndividual || k == AccountKindBusiness
}

type BillingCadence string

const (
	BillingCadenceWeekly  BillingCadence = "weekly"
	BillingCadenceMonthly BillingCadence = "monthly"
)

func (c BillingCadence) IsValid() bool {
	return c == BillingCadenceWeekly || c == BillingCadenceMonthly
}

// WithdrawalPolicy amounts are in the account currency's minor units.
// ScheduledDayOfMonth 0 means automatic withdrawals may run on any day.
type WithdrawalPolicy struct {
	MinimumAmount       int64
	Automatic           bool
	ThresholdAmount     int64
	ScheduledDayOfMonth int
}

type Account struct {
	ID             uuid.UUID
	OwnerID        string
	Kind           AccountKind
	Currency       Currency
	Verified       bool
	Active         bool
	CachedBalance  int64
	LastSequence   int64
	LastOccurredAt *time.Time
	Version        int64
	BillingCadence BillingCadence
	Policy         WithdrawalPolicy
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a *Account) Balance() Money {
	return NewMoney(a.CachedBalance, a.Currency)
}

// Available is the balance that may leave the account without breaching the minimum reserve.
func (a *Account) Available() Money {
	avail := a.CachedBalance - a.Policy.MinimumAmount
	if avail < 0 {
		avail = 0
	}
	return NewMoney(avail, a.Currency)
}
