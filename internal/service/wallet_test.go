package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

func TestProvision(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	acct, err := f.wallet.Provision(ctx, "owner-1", domain.AccountKindIndividual, domain.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, acct.Active)
	assert.False(t, acct.Verified)
	assert.Equal(t, int64(1000), acct.Policy.MinimumAmount)
	assert.Equal(t, domain.BillingCadenceMonthly, acct.BillingCadence)
	assert.Equal(t, epoch, acct.CreatedAt)

	again, err := f.wallet.Provision(ctx, "owner-1", domain.AccountKindIndividual, domain.CurrencyEUR)
	require.ErrorIs(t, err, domain.ErrAlreadyProvisioned)
	require.NotNil(t, again)
	assert.Equal(t, acct.ID, again.ID)

	business, err := f.wallet.Provision(ctx, "owner-1", domain.AccountKindBusiness, domain.CurrencyUSD)
	require.NoError(t, err)
	assert.NotEqual(t, acct.ID, business.ID)

	list, err := f.wallet.ListAccounts(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestProvision_AfterDeactivation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.wallet.Provision(ctx, "owner-2", domain.AccountKindIndividual, domain.CurrencyUSD)
	require.NoError(t, err)
	deactivated, err := f.wallet.Deactivate(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.Active)

	second, err := f.wallet.Provision(ctx, "owner-2", domain.AccountKindIndividual, domain.CurrencyUSD)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestProvision_Invalid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		owner    string
		kind     domain.AccountKind
		currency domain.Currency
		wantErr  error
	}{
		{"empty owner", " ", domain.AccountKindIndividual, domain.CurrencyUSD, domain.ErrInvalidRequest},
		{"unknown kind", "o", domain.AccountKind("robot"), domain.CurrencyUSD, domain.ErrInvalidRequest},
		{"unknown currency", "o", domain.AccountKindIndividual, domain.Currency("XYZ"), domain.ErrInvalidCurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.wallet.Provision(ctx, tt.owner, tt.kind, tt.currency)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUpdatePolicy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	acct := f.provision(t, "owner-3")

	policy := domain.WithdrawalPolicy{MinimumAmount: 500, Automatic: true, ThresholdAmount: 20000, ScheduledDayOfMonth: 15}
	updated, err := f.wallet.UpdatePolicy(ctx, acct.ID, policy, domain.BillingCadenceWeekly)
	require.NoError(t, err)
	assert.Equal(t, policy, updated.Policy)
	assert.Equal(t, domain.BillingCadenceWeekly, updated.BillingCadence)

	_, err = f.wallet.UpdatePolicy(ctx, acct.ID, domain.WithdrawalPolicy{MinimumAmount: -1}, domain.BillingCadenceMonthly)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.wallet.UpdatePolicy(ctx, acct.ID, domain.WithdrawalPolicy{ScheduledDayOfMonth: 32}, domain.BillingCadenceMonthly)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = f.wallet.UpdatePolicy(ctx, acct.ID, policy, domain.BillingCadence("daily"))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = f.wallet.UpdatePolicy(ctx, uuid.New(), policy, domain.BillingCadenceMonthly)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetSummary(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	acct := f.provision(t, "owner-4")

	summary, err := f.wallet.GetSummary(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStateIdle, summary.WithdrawalState)
	assert.True(t, summary.Balance.IsZero())

	f.payable(t, acct, "evt-1", 10000)

	summary, err = f.wallet.GetSummary(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8500), summary.Balance.Amount)
	assert.Equal(t, int64(7500), summary.Available.Amount)
	assert.Equal(t, int64(10000), summary.TotalEarned.Amount)
	assert.Equal(t, int64(10000), summary.EarningsThisPeriod.Amount)
	assert.Equal(t, domain.WithdrawalStateEligible, summary.WithdrawalState)

	w, err := f.withdrawals.RequestWithdrawal(ctx, acct.ID, usdPtr(5000))
	require.NoError(t, err)

	summary, err = f.wallet.GetSummary(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3500), summary.Balance.Amount)
	assert.Equal(t, int64(5000), summary.PendingWithdrawals.Amount)
	assert.Zero(t, summary.TotalWithdrawn.Amount)
	assert.Equal(t, domain.WithdrawalStateRequested, summary.WithdrawalState)
	require.NotNil(t, summary.InFlight)
	assert.Equal(t, w.ID, summary.InFlight.ID)

	_, err = f.withdrawals.Settle(ctx, w.ID, "rail-ref")
	require.NoError(t, err)

	// The next billing period starts with no earnings.
	f.clock.Set(epoch.AddDate(0, 1, 0))
	summary, err = f.wallet.GetSummary(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), summary.TotalWithdrawn.Amount)
	assert.Zero(t, summary.PendingWithdrawals.Amount)
	assert.Equal(t, int64(10000), summary.TotalEarned.Amount)
	assert.Zero(t, summary.EarningsThisPeriod.Amount)
}
