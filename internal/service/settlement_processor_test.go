package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/testutil"
)

func (f *fixture) storeCallback(t *testing.T, withdrawalID uuid.UUID, outcome domain.SettlementOutcome, reason string) *domain.SettlementEvent {
	t.Helper()
	payload, err := json.Marshal(domain.PayoutCallback{
		EventID:       uuid.NewString(),
		WithdrawalID:  withdrawalID.String(),
		Status:        string(outcome),
		RailReference: "rail-settled-1",
		Reason:        reason,
	})
	require.NoError(t, err)

	event := &domain.SettlementEvent{
		ID:             uuid.New(),
		IdempotencyKey: uuid.NewString(),
		WithdrawalID:   withdrawalID,
		Outcome:        outcome,
		Payload:        payload,
		Status:         domain.SettlementEventStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, f.settlements.Create(context.Background(), event))
	return event
}

func (f *fixture) settlementStatus(t *testing.T, id uuid.UUID) domain.SettlementEventStatus {
	t.Helper()
	var status domain.SettlementEventStatus
	err := f.db.QueryRow(`SELECT status FROM settlement_events WHERE id = $1`, id).Scan(&status)
	require.NoError(t, err)
	return status
}

func (f *fixture) requestWithdrawal(t *testing.T, owner string, amount int64) (*domain.Account, *domain.Withdrawal) {
	t.Helper()
	acct := f.provision(t, owner)
	f.payable(t, acct, "evt-"+owner, 10000)
	w, err := f.withdrawals.RequestWithdrawal(context.Background(), acct.ID, usdPtr(amount))
	require.NoError(t, err)
	return acct, w
}

func TestSettlementProcessor_Settled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	acct, w := f.requestWithdrawal(t, "owner-s1", 5000)
	assert.Equal(t, 1, f.rail.count())

	event := f.storeCallback(t, w.ID, domain.SettlementOutcomeSettled, "")
	require.NoError(t, f.processor.processEvent(ctx, *event))

	updated, err := f.withdrawals.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusSettled, updated.Status)
	require.NotNil(t, updated.RailReference)
	assert.Equal(t, "rail-settled-1", *updated.RailReference)

	entry, err := f.engine.GetEntry(ctx, w.EntryID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusCompleted, entry.Status)
	assert.Equal(t, int64(3500), testutil.GetCachedBalance(t, f.db, acct.ID))
	assert.Equal(t, domain.SettlementEventStatusProcessed, f.settlementStatus(t, event.ID))

	// A late rejection for a settled withdrawal is recorded but changes nothing.
	late := f.storeCallback(t, w.ID, domain.SettlementOutcomeRejected, "too late")
	require.NoError(t, f.processor.processEvent(ctx, *late))
	assert.Equal(t, domain.SettlementEventStatusProcessed, f.settlementStatus(t, late.ID))
	assert.Equal(t, int64(3500), testutil.GetCachedBalance(t, f.db, acct.ID))
}

func TestSettlementProcessor_Rejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	acct, w := f.requestWithdrawal(t, "owner-s2", 5000)
	assert.Equal(t, int64(3500), testutil.GetCachedBalance(t, f.db, acct.ID))

	event := f.storeCallback(t, w.ID, domain.SettlementOutcomeRejected, "beneficiary_account_closed")
	require.NoError(t, f.processor.processEvent(ctx, *event))

	updated, err := f.withdrawals.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusRejected, updated.Status)
	require.NotNil(t, updated.FailureReason)
	assert.Equal(t, "beneficiary_account_closed", *updated.FailureReason)

	assert.Equal(t, int64(8500), testutil.GetCachedBalance(t, f.db, acct.ID))
	assert.Equal(t, int64(8500), testutil.SumEntries(t, f.db, acct.ID))
	assert.Equal(t, domain.SettlementEventStatusProcessed, f.settlementStatus(t, event.ID))

	// Replaying the same outcome is a no-op.
	replay := f.storeCallback(t, w.ID, domain.SettlementOutcomeRejected, "beneficiary_account_closed")
	require.NoError(t, f.processor.processEvent(ctx, *replay))
	assert.Equal(t, int64(8500), testutil.GetCachedBalance(t, f.db, acct.ID))
	assert.Equal(t, 5, testutil.CountEntries(t, f.db, acct.ID))
}

func TestSettlementProcessor_BadEvents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	unknown := f.storeCallback(t, uuid.New(), domain.SettlementOutcomeSettled, "")
	require.NoError(t, f.processor.processEvent(ctx, *unknown))
	assert.Equal(t, domain.SettlementEventStatusFailed, f.settlementStatus(t, unknown.ID))

	malformed := f.storeCallback(t, uuid.New(), domain.SettlementOutcomeSettled, "")
	malformed.Payload = json.RawMessage(`{not json`)
	require.NoError(t, f.processor.processEvent(ctx, *malformed))
	assert.Equal(t, domain.SettlementEventStatusFailed, f.settlementStatus(t, malformed.ID))
}

func TestSettlementProcessor_Poll(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, w := f.requestWithdrawal(t, "owner-s3", 2000)
	event := f.storeCallback(t, w.ID, domain.SettlementOutcomeSettled, "")

	f.processor.poll(ctx)

	assert.Equal(t, domain.SettlementEventStatusProcessed, f.settlementStatus(t, event.ID))
	updated, err := f.withdrawals.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusSettled, updated.Status)
}
