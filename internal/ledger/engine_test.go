package ledger_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
	"github.com/josh-kwaku/wallet-ledger/internal/testutil"
)

var epoch = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func setupEngine(t *testing.T, db *sql.DB) (*ledger.Engine, *ledger.ManualClock) {
	t.Helper()
	clock := ledger.NewManualClock(epoch)
	engine := ledger.NewEngine(
		db,
		repository.NewAccountRepository(db),
		repository.NewEntryRepository(db),
		ledger.NewContext(clock),
	)
	return engine, clock
}

func usd(minor int64) domain.Money { return domain.NewMoney(minor, domain.CurrencyUSD) }

func earning(accountID uuid.UUID, eventID string, minor int64) ledger.AppendRequest {
	return ledger.AppendRequest{
		AccountID:     accountID,
		Amount:        usd(minor),
		Kind:          domain.EntryKindEarning,
		SourceEventID: eventID,
		Details:       domain.EarningDetails{GrossAmount: minor},
	}
}

func TestAppend_ChainsBalances(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, clock := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)

	first, err := engine.Append(ctx, earning(acct.ID, "evt-1", 10000))
	require.NoError(t, err)
	clock.Advance(time.Minute)

	second, err := engine.Append(ctx, ledger.AppendRequest{
		AccountID:     acct.ID,
		Amount:        usd(-1200),
		Kind:          domain.EntryKindCommission,
		SourceEventID: "evt-1",
		Details:       domain.CommissionDetails{Rate: 1200, BaseAmount: 10000},
	})
	require.NoError(t, err)
	clock.Advance(time.Minute)

	third, err := engine.Append(ctx, ledger.AppendRequest{
		AccountID:     acct.ID,
		Amount:        usd(500),
		Kind:          domain.EntryKindBonus,
		SourceEventID: "bonus-1",
		Details:       domain.BonusDetails{Reason: "referral"},
		Annotations:   map[string]string{"campaign": "spring"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), first.BalanceAfter)
	assert.Equal(t, int64(8800), second.BalanceAfter)
	assert.Equal(t, int64(9300), third.BalanceAfter)
	assert.Equal(t, []int64{1, 2, 3}, []int64{first.Sequence, second.Sequence, third.Sequence})
	assert.Equal(t, domain.EntryStatusCompleted, third.Status)
	assert.NotNil(t, third.CompletedAt)

	assert.Equal(t, int64(9300), testutil.GetCachedBalance(t, db, acct.ID))
	assert.Equal(t, int64(9300), testutil.SumEntries(t, db, acct.ID))

	stored, err := engine.GetEntry(ctx, third.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BonusDetails{Reason: "referral"}, stored.Details)
	assert.Equal(t, "spring", stored.Annotations["campaign"])

	res, err := engine.Replay(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, res.Consistent())
	assert.Equal(t, 3, res.Entries)
}

func TestAppend_DuplicateReturnsExisting(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, _ := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)

	original, err := engine.Append(ctx, earning(acct.ID, "evt-dup", 2500))
	require.NoError(t, err)

	again, err := engine.Append(ctx, earning(acct.ID, "evt-dup", 2500))
	require.ErrorIs(t, err, domain.ErrDuplicateEntry)
	assert.True(t, domain.IsStateConflict(err))
	require.NotNil(t, again)
	assert.Equal(t, original.ID, again.ID)

	assert.Equal(t, 1, testutil.CountEntries(t, db, acct.ID))
	assert.Equal(t, int64(2500), testutil.GetCachedBalance(t, db, acct.ID))
}

func TestAppend_SameEventDifferentKind(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, _ := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)

	results, err := engine.AppendAll(ctx, acct.ID, []ledger.AppendRequest{
		earning(acct.ID, "evt-7", 10000),
		{Amount: usd(-1500), Kind: domain.EntryKindCommission, SourceEventID: "evt-7"},
		{Amount: usd(-300), Kind: domain.EntryKindTax, SourceEventID: "evt-7"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Duplicate)
	}
	assert.Equal(t, int64(8200), testutil.GetCachedBalance(t, db, acct.ID))

	replayed, err := engine.AppendAll(ctx, acct.ID, []ledger.AppendRequest{
		earning(acct.ID, "evt-7", 10000),
		{Amount: usd(-1500), Kind: domain.EntryKindCommission, SourceEventID: "evt-7"},
		{Amount: usd(-300), Kind: domain.EntryKindTax, SourceEventID: "evt-7"},
	})
	require.NoError(t, err)
	for i, r := range replayed {
		assert.True(t, r.Duplicate)
		assert.Equal(t, results[i].Entry.ID, r.Entry.ID)
	}
	assert.Equal(t, 3, testutil.CountEntries(t, db, acct.ID))
	assert.Equal(t, int64(8200), testutil.GetCachedBalance(t, db, acct.ID))
}

func TestAppend_Rejections(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, _ := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)
	inactive := testutil.SeedAccount(t, db)
	_, err := db.Exec(`UPDATE accounts SET active = false WHERE id = $1`, inactive.ID)
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     ledger.AppendRequest
		wantErr error
	}{
		{
			name:    "currency mismatch",
			req:     ledger.AppendRequest{AccountID: acct.ID, Amount: domain.NewMoney(100, domain.CurrencyEUR), Kind: domain.EntryKindEarning, SourceEventID: "e1"},
			wantErr: domain.ErrCurrencyMismatch,
		},
		{
			name:    "zero amount",
			req:     ledger.AppendRequest{AccountID: acct.ID, Amount: usd(0), Kind: domain.EntryKindBonus, SourceEventID: "e2"},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "positive commission",
			req:     ledger.AppendRequest{AccountID: acct.ID, Amount: usd(100), Kind: domain.EntryKindCommission, SourceEventID: "e3"},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "negative earning",
			req:     ledger.AppendRequest{AccountID: acct.ID, Amount: usd(-100), Kind: domain.EntryKindEarning, SourceEventID: "e4"},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "missing source event",
			req:     ledger.AppendRequest{AccountID: acct.ID, Amount: usd(100), Kind: domain.EntryKindEarning},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "mismatched details",
			req:     ledger.AppendRequest{AccountID: acct.ID, Amount: usd(100), Kind: domain.EntryKindEarning, SourceEventID: "e5", Details: domain.BonusDetails{}},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "inactive account",
			req:     ledger.AppendRequest{AccountID: inactive.ID, Amount: usd(100), Kind: domain.EntryKindEarning, SourceEventID: "e6"},
			wantErr: domain.ErrAccountInactive,
		},
		{
			name:    "unknown account",
			req:     ledger.AppendRequest{AccountID: uuid.New(), Amount: usd(100), Kind: domain.EntryKindEarning, SourceEventID: "e7"},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Append(ctx, tc.req)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}

	assert.Equal(t, 0, testutil.CountEntries(t, db, acct.ID))
	assert.Equal(t, int64(0), testutil.GetCachedBalance(t, db, acct.ID))
}

func TestAppend_EventTimeClampedToLedgerOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, clock := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)

	first, err := engine.Append(ctx, earning(acct.ID, "now", 1000))
	require.NoError(t, err)
	assert.True(t, first.OccurredAt.Equal(epoch))

	clock.Advance(time.Hour)
	backdated := earning(acct.ID, "late", 2000)
	backdated.OccurredAt = epoch.Add(-24 * time.Hour)
	late, err := engine.Append(ctx, backdated)
	require.NoError(t, err)
	assert.True(t, late.OccurredAt.Equal(epoch), "booked no earlier than the previous entry")
	assert.True(t, late.EventTime.Equal(epoch.Add(-24*time.Hour)), "raw event time is kept")

	future := earning(acct.ID, "future", 500)
	future.OccurredAt = clock.Now().Add(48 * time.Hour)
	ahead, err := engine.Append(ctx, future)
	require.NoError(t, err)
	assert.True(t, ahead.OccurredAt.Equal(clock.Now()), "booked no later than now")

	balance, err := engine.BalanceAsOf(ctx, acct.ID, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, testutil.GetCachedBalance(t, db, acct.ID), balance.Amount)
}

func TestBalanceAsOf(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, clock := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)

	_, err := engine.Append(ctx, earning(acct.ID, "a", 1000))
	require.NoError(t, err)
	t1 := clock.Advance(time.Hour)
	_, err = engine.Append(ctx, earning(acct.ID, "b", 2000))
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = engine.Append(ctx, earning(acct.ID, "c", 4000))
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want int64
	}{
		{name: "before any entry", at: epoch.Add(-time.Second), want: 0},
		{name: "at first entry", at: epoch, want: 1000},
		{name: "at second entry", at: t1, want: 3000},
		{name: "after all entries", at: clock.Now().Add(time.Minute), want: 7000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := engine.BalanceAsOf(ctx, acct.ID, tc.at)
			require.NoError(t, err)
			assert.Equal(t, usd(tc.want), got)
		})
	}
}

func TestMarkFailed_CompensatesDebit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, _ := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)

	_, err := engine.Append(ctx, earning(acct.ID, "evt", 10000))
	require.NoError(t, err)
	debit, err := engine.Append(ctx, ledger.AppendRequest{
		AccountID:     acct.ID,
		Amount:        usd(-4000),
		Kind:          domain.EntryKindWithdrawal,
		SourceEventID: "wd-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusPending, debit.Status)
	assert.Equal(t, int64(6000), testutil.GetCachedBalance(t, db, acct.ID))

	failed, adj, err := engine.MarkFailed(ctx, debit.ID, "rail rejected")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Equal(t, "rail rejected", *failed.FailureReason)

	require.NotNil(t, adj)
	assert.Equal(t, domain.EntryKindAdjustment, adj.Kind)
	assert.Equal(t, usd(4000), adj.Amount)
	assert.Equal(t, domain.CompensationEventID(debit.ID), adj.SourceEventID)
	details, ok := adj.Details.(domain.AdjustmentDetails)
	require.True(t, ok)
	assert.Equal(t, debit.ID, *details.CompensatesEntryID)

	assert.Equal(t, int64(10000), testutil.GetCachedBalance(t, db, acct.ID))

	// A second failure is a no-op that reports the same compensation.
	_, again, err := engine.MarkFailed(ctx, debit.ID, "rail rejected")
	require.NoError(t, err)
	assert.Equal(t, adj.ID, again.ID)
	assert.Equal(t, 3, testutil.CountEntries(t, db, acct.ID))

	_, err = engine.MarkCompleted(ctx, debit.ID)
	require.ErrorIs(t, err, domain.ErrEntryNotPending)

	res, err := engine.Replay(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, res.Consistent())
	assert.Equal(t, int64(10000), res.ReplayedBalance)
}

func TestMarkCompleted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, clock := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)

	_, err := engine.Append(ctx, earning(acct.ID, "evt", 5000))
	require.NoError(t, err)
	debit, err := engine.Append(ctx, ledger.AppendRequest{
		AccountID:     acct.ID,
		Amount:        usd(-5000),
		Kind:          domain.EntryKindWithdrawal,
		SourceEventID: "wd-1",
	})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	done, err := engine.MarkCompleted(ctx, debit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(clock.Now()))

	again, err := engine.MarkCompleted(ctx, debit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusCompleted, again.Status)

	_, _, err = engine.MarkFailed(ctx, debit.ID, "too late")
	require.ErrorIs(t, err, domain.ErrEntryNotPending)
	assert.Equal(t, int64(0), testutil.GetCachedBalance(t, db, acct.ID))
}

func TestWithin_RollsBackOnError(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, _ := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)

	boom := fmt.Errorf("boom")
	err := engine.Within(ctx, acct.ID, func(ctx context.Context, tx *ledger.Tx) error {
		if _, err := tx.Append(ctx, earning(acct.ID, "inside", 700)); err != nil {
			return err
		}
		assert.Equal(t, int64(700), tx.Account().CachedBalance)
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 0, testutil.CountEntries(t, db, acct.ID))
	assert.Equal(t, int64(0), testutil.GetCachedBalance(t, db, acct.ID))
}

func TestReplay_DetectsDrift(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, _ := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)

	_, err := engine.Append(ctx, earning(acct.ID, "evt", 3000))
	require.NoError(t, err)
	testutil.CorruptCachedBalance(t, db, acct.ID, 3500)

	res, err := engine.Replay(ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, res.Consistent())
	assert.Equal(t, int64(500), res.Drift())
	assert.Empty(t, res.ChainBreaks)
}

func TestReplay_DetectsChainBreak(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, _ := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)

	_, err := engine.Append(ctx, earning(acct.ID, "a", 1000))
	require.NoError(t, err)
	second, err := engine.Append(ctx, earning(acct.ID, "b", 1000))
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE entries SET balance_after = 9999 WHERE id = $1`, second.ID)
	require.NoError(t, err)

	res, err := engine.Replay(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, res.ChainBreaks, 1)
	assert.Equal(t, second.ID, res.ChainBreaks[0].EntryID)
	assert.Equal(t, int64(2000), res.ChainBreaks[0].Expected)
	assert.Equal(t, int64(9999), res.ChainBreaks[0].Actual)
	assert.Equal(t, int64(0), res.Drift())
}

func TestAppend_ConcurrentSameAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, _ := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := engine.Append(ctx, earning(acct.ID, fmt.Sprintf("evt-%d", idx), 100))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(workers*100), testutil.GetCachedBalance(t, db, acct.ID))
	res, err := engine.Replay(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, res.Consistent())
	assert.Equal(t, int64(workers), res.LastSequence)
}

func TestAppend_ConcurrentDuplicates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, _ := setupEngine(t, db)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db)

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Append(ctx, earning(acct.ID, "same-event", 1000))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var created, duplicates int
	for err := range results {
		if err == nil {
			created++
			continue
		}
		require.ErrorIs(t, err, domain.ErrDuplicateEntry)
		duplicates++
	}

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, duplicates)
	assert.Equal(t, int64(1000), testutil.GetCachedBalance(t, db, acct.ID))
}
