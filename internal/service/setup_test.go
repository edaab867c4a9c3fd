package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/commission"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/incident"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
	"github.com/josh-kwaku/wallet-ledger/internal/service/withdrawal"
	"github.com/josh-kwaku/wallet-ledger/internal/testutil"
)

var epoch = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// railStub is an httptest payout rail that accepts every payout.
type railStub struct {
	mu       sync.Mutex
	payloads []payoutPayload
	server   *httptest.Server
}

func newRailStub(t *testing.T) *railStub {
	t.Helper()
	stub := &railStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payoutPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		stub.mu.Lock()
		stub.payloads = append(stub.payloads, p)
		stub.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(payoutAccepted{RailReference: "rail-" + p.WithdrawalID[:8]})
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *railStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

type fixture struct {
	db          *sql.DB
	clock       *ledger.ManualClock
	engine      *ledger.Engine
	accounts    *repository.AccountRepository
	entries     *repository.EntryRepository
	incidents   *repository.IncidentRepository
	runs        *repository.AuditRunRepository
	settlements *repository.SettlementEventRepository
	rail        *railStub
	withdrawals *withdrawal.Service
	wallet      *WalletService
	earnings    *EarningsService
	broadcaster *incident.Broadcaster
	auditor     *Auditor
	processor   *SettlementProcessor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)

	f := &fixture{
		db:          db,
		clock:       ledger.NewManualClock(epoch),
		accounts:    repository.NewAccountRepository(db),
		entries:     repository.NewEntryRepository(db),
		incidents:   repository.NewIncidentRepository(db),
		runs:        repository.NewAuditRunRepository(db),
		settlements: repository.NewSettlementEventRepository(db),
		rail:        newRailStub(t),
		broadcaster: incident.NewBroadcaster(),
	}
	lc := ledger.NewContext(f.clock)
	f.engine = ledger.NewEngine(db, f.accounts, f.entries, lc)
	f.withdrawals = withdrawal.NewService(
		f.engine,
		repository.NewWithdrawalRepository(db),
		f.accounts,
		NewPayoutRailClient(f.rail.server.URL, "http://ledger.test/api/v1/webhooks/payout-rail"),
		withdrawal.Config{ReviewThreshold: 100_000, ResubmitAfter: time.Minute},
	)
	f.wallet = NewWalletService(f.accounts, f.entries, f.withdrawals, lc, 1000)
	f.earnings = NewEarningsService(f.engine, f.accounts, commission.NewCalculator(commission.Default()))
	f.auditor = NewAuditor(f.engine, f.accounts, f.incidents, f.runs, incident.Multi{f.broadcaster}, slog.Default(), time.Hour)
	f.processor = NewSettlementProcessor(f.settlements, f.withdrawals, slog.Default(), time.Second)
	return f
}

func usd(minor int64) domain.Money { return domain.NewMoney(minor, domain.CurrencyUSD) }

func usdPtr(minor int64) *domain.Money {
	m := usd(minor)
	return &m
}

// provision opens a verified provider account with a 10.00 reserve.
func (f *fixture) provision(t *testing.T, owner string) *domain.Account {
	t.Helper()
	ctx := context.Background()
	acct, err := f.wallet.Provision(ctx, owner, domain.AccountKindIndividual, domain.CurrencyUSD)
	require.NoError(t, err)
	acct, err = f.wallet.SetVerified(ctx, acct.ID, true)
	require.NoError(t, err)
	return acct
}

func (f *fixture) payable(t *testing.T, acct *domain.Account, eventID string, gross int64) []*domain.Entry {
	t.Helper()
	entries, err := f.earnings.RecordPayable(context.Background(), PayableRequest{
		AccountID: acct.ID,
		Event: commission.PayableEvent{
			EventID: eventID,
			Role:    "provider",
			Gross:   usd(gross),
		},
	})
	require.NoError(t, err)
	return entries
}
