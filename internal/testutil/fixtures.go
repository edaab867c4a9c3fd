package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// AccountOption tweaks a seeded account before it is inserted.
type AccountOption func(*domain.Account)

func Verified(a *domain.Account) { a.Verified = true }

func Business(a *domain.Account) { a.Kind = domain.AccountKindBusiness }

func Weekly(a *domain.Account) { a.BillingCadence = domain.BillingCadenceWeekly }

func WithMinimum(minor int64) AccountOption {
	return func(a *domain.Account) { a.Policy.MinimumAmount = minor }
}

func WithCurrency(c domain.Currency) AccountOption {
	return func(a *domain.Account) { a.Currency = c }
}

func WithCreatedAt(t time.Time) AccountOption {
	return func(a *domain.Account) {
		a.CreatedAt = t.UTC()
		a.UpdatedAt = t.UTC()
	}
}

func WithAutoWithdrawal(threshold int64, day int) AccountOption {
	return func(a *domain.Account) {
		a.Policy.Automatic = true
		a.Policy.ThresholdAmount = threshold
		a.Policy.ScheduledDayOfMonth = day
	}
}

// SeedAccount inserts an active, empty USD individual account with a zero minimum.
func SeedAccount(t *testing.T, db *sql.DB, opts ...AccountOption) *domain.Account {
	t.Helper()

	now := time.Now().UTC()
	a := &domain.Account{
		ID:             uuid.New(),
		OwnerID:        "owner-" + uuid.NewString()[:8],
		Kind:           domain.AccountKindIndividual,
		Currency:       domain.CurrencyUSD,
		Active:         true,
		Version:        1,
		BillingCadence: domain.BillingCadenceMonthly,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, opt := range opts {
		opt(a)
	}

	_, err := db.Exec(
		`INSERT INTO accounts (
			id, owner_id, account_kind, currency, verified, active, cached_balance, last_sequence,
			version, billing_cadence, min_withdrawal, auto_withdrawal, auto_threshold, auto_day_of_month,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.OwnerID, a.Kind, a.Currency, a.Verified, a.Active,
		a.Version, a.BillingCadence, a.Policy.MinimumAmount, a.Policy.Automatic,
		a.Policy.ThresholdAmount, a.Policy.ScheduledDayOfMonth, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func GetCachedBalance(t *testing.T, db *sql.DB, accountID uuid.UUID) int64 {
	t.Helper()

	var balance int64
	err := db.QueryRow(`SELECT cached_balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		t.Fatalf("get cached balance %s: %v", accountID, err)
	}
	return balance
}

// SumEntries is the replayed balance over every entry of the account.
func SumEntries(t *testing.T, db *sql.DB, accountID uuid.UUID) int64 {
	t.Helper()

	var sum int64
	err := db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM entries WHERE account_id = $1`, accountID).Scan(&sum)
	if err != nil {
		t.Fatalf("sum entries %s: %v", accountID, err)
	}
	return sum
}

func CountEntries(t *testing.T, db *sql.DB, accountID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM entries WHERE account_id = $1`, accountID).Scan(&count)
	if err != nil {
		t.Fatalf("count entries %s: %v", accountID, err)
	}
	return count
}

// CorruptCachedBalance overwrites the cached balance behind the ledger's back.
func CorruptCachedBalance(t *testing.T, db *sql.DB, accountID uuid.UUID, balance int64) {
	t.Helper()

	if _, err := db.Exec(`UPDATE accounts SET cached_balance = $1 WHERE id = $2`, balance, accountID); err != nil {
		t.Fatalf("corrupt cached balance %s: %v", accountID, err)
	}
}
