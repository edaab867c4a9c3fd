package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/testutil"
)

func TestAuditor_ConsistentLedger(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	acct := f.provision(t, "owner-a")
	f.payable(t, acct, "evt-1", 10000)

	found, err := f.auditor.AuditAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Empty(t, found)

	open, err := f.auditor.ListIncidents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestAuditor_BalanceDrift(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	acct := f.provision(t, "owner-b")
	f.payable(t, acct, "evt-1", 10000)

	stream, unsubscribe := f.broadcaster.Subscribe(4)
	defer unsubscribe()

	testutil.CorruptCachedBalance(t, f.db, acct.ID, 9000)

	found, err := f.auditor.AuditAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, found, 1)
	inc := found[0]
	assert.Equal(t, domain.IncidentKindBalanceDrift, inc.Kind)
	assert.Equal(t, int64(9000), inc.CachedBalance)
	assert.Equal(t, int64(8500), inc.ReplayedBalance)
	assert.Equal(t, int64(500), inc.Difference())

	select {
	case published := <-stream:
		assert.Equal(t, inc.ID, published.ID)
	case <-time.After(time.Second):
		t.Fatal("incident was not published")
	}

	// The auditor never heals the ledger.
	assert.Equal(t, int64(9000), testutil.GetCachedBalance(t, f.db, acct.ID))

	// A second pass sees the same drift but does not record or publish it again.
	again, err := f.auditor.AuditAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Empty(t, stream)

	open, err := f.auditor.ListIncidents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, inc.ID, open[0].ID)

	resolved, err := f.auditor.ResolveIncident(ctx, inc.ID, "operator-1")
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "operator-1", *resolved.ResolvedBy)

	_, err = f.auditor.ResolveIncident(ctx, inc.ID, "operator-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.auditor.ResolveIncident(ctx, inc.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestAuditor_ChainBreak(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	acct := f.provision(t, "owner-c")
	entries := f.payable(t, acct, "evt-1", 10000)

	_, err := f.db.Exec(`UPDATE entries SET balance_after = 9999 WHERE id = $1`, entries[1].ID)
	require.NoError(t, err)

	found, err := f.auditor.AuditAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, domain.IncidentKindChainBreak, found[0].Kind)
	assert.Equal(t, int64(9999), found[0].CachedBalance)
	assert.Equal(t, int64(8800), found[0].ReplayedBalance)
	assert.Contains(t, found[0].Detail, entries[1].ID.String())
}

func TestAuditor_RunAndSchedule(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	clean := f.provision(t, "owner-d")
	f.payable(t, clean, "evt-1", 10000)
	drifted := f.provision(t, "owner-e")
	f.payable(t, drifted, "evt-2", 5000)
	testutil.CorruptCachedBalance(t, f.db, drifted.ID, 1)

	due, err := f.auditor.due(ctx)
	require.NoError(t, err)
	assert.True(t, due)

	run, err := f.auditor.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, run.AccountsChecked)
	assert.Equal(t, 1, run.IncidentsFound)
	require.NotNil(t, run.FinishedAt)

	due, err = f.auditor.due(ctx)
	require.NoError(t, err)
	assert.False(t, due)

	f.clock.Advance(time.Hour)
	due, err = f.auditor.due(ctx)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestDetect(t *testing.T) {
	res := &ledger.ReplayResult{
		Currency:        domain.CurrencyUSD,
		CachedBalance:   100,
		ReplayedBalance: 100,
	}
	assert.Empty(t, detect(res, epoch))

	res.ChainBreaks = []ledger.ChainBreak{{Sequence: 2, Expected: 50, Actual: 60}}
	res.CachedBalance = 120
	found := detect(res, epoch)
	require.Len(t, found, 2)
	assert.Equal(t, domain.IncidentKindBalanceDrift, found[0].Kind)
	assert.Equal(t, domain.IncidentKindChainBreak, found[1].Kind)
	assert.Equal(t, epoch, found[1].DetectedAt)
}
