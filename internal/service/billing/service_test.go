package billing_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
	"github.com/josh-kwaku/wallet-ledger/internal/service/billing"
	"github.com/josh-kwaku/wallet-ledger/internal/testutil"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func setup(t *testing.T, now time.Time) (*sql.DB, *ledger.Engine, *ledger.ManualClock, *billing.Service) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	clock := ledger.NewManualClock(now)
	accounts := repository.NewAccountRepository(db)
	entries := repository.NewEntryRepository(db)
	engine := ledger.NewEngine(db, accounts, entries, ledger.NewContext(clock))
	svc := billing.NewService(engine, repository.NewStatementRepository(db), entries, accounts, db)
	return db, engine, clock, svc
}

func book(t *testing.T, engine *ledger.Engine, accountID uuid.UUID, kind domain.EntryKind, eventID string, minor int64) *domain.Entry {
	t.Helper()
	e, err := engine.Append(context.Background(), ledger.AppendRequest{
		AccountID:     accountID,
		Amount:        domain.NewMoney(minor, domain.CurrencyUSD),
		Kind:          kind,
		SourceEventID: eventID,
	})
	require.NoError(t, err)
	return e
}

func TestBill_StatementsAndStragglers(t *testing.T) {
	db, engine, clock, svc := setup(t, date(2025, 1, 20))
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db, testutil.WithCreatedAt(date(2025, 1, 15)))

	jan := book(t, engine, acct.ID, domain.EntryKindEarning, "jan", 10000)
	clock.Set(date(2025, 2, 10))
	feb := book(t, engine, acct.ID, domain.EntryKindEarning, "feb", 5000)
	fee := book(t, engine, acct.ID, domain.EntryKindServiceFee, "feb-fee", -500)
	clock.Set(date(2025, 2, 20))
	pending := book(t, engine, acct.ID, domain.EntryKindWithdrawal, "wd", -3000)

	clock.Set(date(2025, 3, 2))
	janStmt, err := svc.Bill(ctx, acct.ID, domain.Period{Start: date(2025, 1, 1), End: date(2025, 2, 1)})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{jan.ID}, janStmt.LineItems)
	assert.Equal(t, int64(10000), janStmt.GrossAmount)
	assert.Equal(t, int64(10000), janStmt.NetAmount)

	febStmt, err := svc.Bill(ctx, acct.ID, domain.Period{Start: date(2025, 2, 1), End: date(2025, 3, 1)})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{feb.ID, fee.ID}, febStmt.LineItems, "pending withdrawal is not billed yet")
	assert.Equal(t, int64(5000), febStmt.GrossAmount)
	assert.Equal(t, int64(4500), febStmt.NetAmount)
	assert.Equal(t, 2, febStmt.EntryCount)

	clock.Set(date(2025, 3, 5))
	_, err = engine.MarkCompleted(ctx, pending.ID)
	require.NoError(t, err)
	mar := book(t, engine, acct.ID, domain.EntryKindBonus, "mar", 700)

	clock.Set(date(2025, 4, 1))
	marStmt, err := svc.Bill(ctx, acct.ID, domain.Period{Start: date(2025, 3, 1), End: date(2025, 4, 1)})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{pending.ID, mar.ID}, marStmt.LineItems, "straggler lands in the next statement")
	assert.Equal(t, int64(700), marStmt.GrossAmount)
	assert.Equal(t, int64(-2300), marStmt.NetAmount)

	var unbilled int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM entries WHERE account_id = $1 AND billed_in_statement_id IS NULL AND status = 'completed'`,
		acct.ID,
	).Scan(&unbilled))
	assert.Equal(t, 0, unbilled)
}

func TestBill_RebillingClosedPeriodReturnsStatement(t *testing.T) {
	db, engine, clock, svc := setup(t, date(2025, 1, 20))
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db, testutil.WithCreatedAt(date(2025, 1, 2)))

	book(t, engine, acct.ID, domain.EntryKindEarning, "evt-1", 10000)
	book(t, engine, acct.ID, domain.EntryKindCommission, "evt-1", -1200)
	book(t, engine, acct.ID, domain.EntryKindTax, "evt-1", -300)

	clock.Set(date(2025, 2, 3))
	period := domain.Period{Start: date(2025, 1, 1), End: date(2025, 2, 1)}

	first, err := svc.Bill(ctx, acct.ID, period)
	require.NoError(t, err)
	assert.Equal(t, 3, first.EntryCount)
	assert.Equal(t, int64(8500), first.NetAmount)

	// A late entry for January must not be billed by re-running January.
	clock.Set(date(2025, 2, 4))
	book(t, engine, acct.ID, domain.EntryKindBonus, "late", 100)

	second, err := svc.Bill(ctx, acct.ID, period)
	require.ErrorIs(t, err, domain.ErrPeriodAlreadyBilled)
	assert.True(t, domain.IsStateConflict(err))
	require.NotNil(t, second)
	assert.Equal(t, first, second)

	var statements int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM statements WHERE account_id = $1`, acct.ID).Scan(&statements))
	assert.Equal(t, 1, statements)
}

func TestBill_InvalidWindows(t *testing.T) {
	db, engine, _, svc := setup(t, date(2025, 3, 2))
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db, testutil.WithCreatedAt(date(2025, 1, 2)))
	book(t, engine, acct.ID, domain.EntryKindEarning, "evt", 1000)

	_, err := svc.Bill(ctx, acct.ID, domain.Period{Start: date(2025, 2, 1), End: date(2025, 3, 1)})
	require.NoError(t, err)

	tests := []struct {
		name    string
		period  domain.Period
		wantErr error
	}{
		{name: "overlapping window", period: domain.Period{Start: date(2025, 2, 15), End: date(2025, 3, 1)}, wantErr: domain.ErrPeriodOverlap},
		{name: "enclosing window", period: domain.Period{Start: date(2025, 1, 1), End: date(2025, 3, 1)}, wantErr: domain.ErrPeriodOverlap},
		{name: "open window", period: domain.Period{Start: date(2025, 3, 1), End: date(2025, 4, 1)}, wantErr: domain.ErrInvalidRequest},
		{name: "empty window", period: domain.Period{Start: date(2025, 1, 1), End: date(2025, 1, 1)}, wantErr: domain.ErrInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Bill(ctx, acct.ID, tc.period)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestCatchUp_Weekly(t *testing.T) {
	db, engine, clock, svc := setup(t, date(2025, 1, 15))
	ctx := context.Background()
	acct := testutil.SeedAccount(t, db, testutil.Weekly, testutil.WithCreatedAt(date(2025, 1, 15)))
	book(t, engine, acct.ID, domain.EntryKindEarning, "evt", 1000)

	clock.Set(date(2025, 3, 10))
	n, err := svc.CatchUp(ctx, acct.ID, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	n, err = svc.CatchUp(ctx, acct.ID, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stmts, err := svc.ListStatements(ctx, acct.ID, date(2025, 1, 1), date(2025, 4, 1))
	require.NoError(t, err)
	require.Len(t, stmts, 8)
	assert.Equal(t, date(2025, 1, 13), stmts[0].Period.Start)
	assert.Equal(t, date(2025, 3, 10), stmts[7].Period.End)
	for i := 1; i < len(stmts); i++ {
		assert.Equal(t, stmts[i-1].Period.End, stmts[i].Period.Start, "windows are contiguous")
	}
	assert.Equal(t, 1, stmts[0].EntryCount)
	assert.Equal(t, 0, stmts[7].EntryCount)
}

func TestBillNext_NothingClosed(t *testing.T) {
	db, _, clock, svc := setup(t, date(2025, 3, 12))
	acct := testutil.SeedAccount(t, db, testutil.WithCreatedAt(date(2025, 3, 11)))

	stmt, err := svc.BillNext(context.Background(), acct.ID, clock.Now())
	require.NoError(t, err)
	assert.Nil(t, stmt)
}
