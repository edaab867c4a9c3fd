package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

type accountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetInTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error)
	UpdateLedgerState(ctx context.Context, tx *sql.Tx, a *domain.Account, newVersion int64) error
}

type entryStore interface {
	Insert(ctx context.Context, tx *sql.Tx, e *domain.Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Entry, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Entry, error)
	FindByKey(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, sourceEventID string, kind domain.EntryKind) (*domain.Entry, error)
	Transition(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.EntryStatus, at time.Time, reason *string) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Entry, int, error)
	ForEachOrdered(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, fn func(*domain.Entry) error) error
	SumAsOf(ctx context.Context, accountID uuid.UUID, ts time.Time) (int64, error)
}

// Engine is the only writer of entries and cached balances.
type Engine struct {
	db       *sql.DB
	accounts accountStore
	entries  entryStore
	lc       *LedgerContext
	// maxRetries bounds how often a transaction is replayed after a transient failure.
	maxRetries uint64
}

func NewEngine(db *sql.DB, accounts accountStore, entries entryStore, lc *LedgerContext) *Engine {
	return &Engine{
		db:         db,
		accounts:   accounts,
		entries:    entries,
		lc:         lc,
		maxRetries: 3,
	}
}

func (e *Engine) Context() *LedgerContext { return e.lc }

type AppendRequest struct {
	// AccountID may be left empty inside Within; it defaults to the locked account.
	AccountID      uuid.UUID
	Amount         domain.Money
	Kind           domain.EntryKind
	SourceEventID  string
	OccurredAt     time.Time
	Details        domain.EntryDetails
	Annotations    map[string]string
	CommissionRate *domain.BasisPoints
	TaxRate        *domain.BasisPoints
}

func (r AppendRequest) validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("kind %q: %w", r.Kind, domain.ErrInvalidRequest)
	}
	if r.SourceEventID == "" {
		return fmt.Errorf("source event id required: %w", domain.ErrInvalidRequest)
	}
	if !r.Amount.Currency.IsValid() {
		return domain.ErrInvalidCurrency
	}
	if r.Amount.IsZero() {
		return domain.ErrInvalidAmount
	}
	switch r.Kind {
	case domain.EntryKindEarning, domain.EntryKindBonus, domain.EntryKindRefund:
		if r.Amount.IsNegative() {
			return fmt.Errorf("%s must be a credit: %w", r.Kind, domain.ErrInvalidAmount)
		}
	case domain.EntryKindWithdrawal, domain.EntryKindCommission, domain.EntryKindTax, domain.EntryKindServiceFee:
		if r.Amount.IsPositive() {
			return fmt.Errorf("%s must be a debit: %w", r.Kind, domain.ErrInvalidAmount)
		}
	}
	return nil
}

type AppendResult struct {
	Entry     *domain.Entry
	Duplicate bool
}

// Append writes one entry. When the (account, source event, kind) key already
// exists the stored entry is returned together with ErrDuplicateEntry.
func (e *Engine) Append(ctx context.Context, req AppendRequest) (*domain.Entry, error) {
	results, err := e.AppendAll(ctx, req.AccountID, []AppendRequest{req})
	if err != nil {
		return nil, fmt.Errorf("Append: %w", err)
	}
	if results[0].Duplicate {
		return results[0].Entry, fmt.Errorf("Append: %w", domain.ErrDuplicateEntry)
	}
	return results[0].Entry, nil
}

// AppendAll writes a batch of entries for one account in a single atomic unit.
func (e *Engine) AppendAll(ctx context.Context, accountID uuid.UUID, reqs []AppendRequest) ([]AppendResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("AppendAll: empty batch: %w", domain.ErrInvalidRequest)
	}

	var results []AppendResult
	err := e.Within(ctx, accountID, func(ctx context.Context, t *Tx) error {
		results = make([]AppendResult, 0, len(reqs))
		for _, req := range reqs {
			res, err := t.Append(ctx, req)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("AppendAll: %w", err)
	}
	return results, nil
}

// MarkCompleted moves a pending entry to Completed. Completing an already
// completed entry is a no-op.
func (e *Engine) MarkCompleted(ctx context.Context, entryID uuid.UUID) (*domain.Entry, error) {
	current, err := e.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("MarkCompleted: %w", err)
	}

	var completed *domain.Entry
	err = e.Within(ctx, current.AccountID, func(ctx context.Context, t *Tx) error {
		completed, err = t.MarkCompleted(ctx, entryID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("MarkCompleted: %w", err)
	}
	return completed, nil
}

// MarkFailed moves a pending entry to Failed and books the compensating
// Adjustment. It returns the failed entry and the adjustment.
func (e *Engine) MarkFailed(ctx context.Context, entryID uuid.UUID, reason string) (*domain.Entry, *domain.Entry, error) {
	current, err := e.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, nil, fmt.Errorf("MarkFailed: %w", err)
	}

	var failed, adjustment *domain.Entry
	err = e.Within(ctx, current.AccountID, func(ctx context.Context, t *Tx) error {
		failed, adjustment, err = t.MarkFailed(ctx, entryID, reason)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("MarkFailed: %w", err)
	}
	return failed, adjustment, nil
}

// BalanceAsOf replays the account's entries booked at or before ts.
func (e *Engine) BalanceAsOf(ctx context.Context, accountID uuid.UUID, ts time.Time) (domain.Money, error) {
	acct, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return domain.Money{}, fmt.Errorf("BalanceAsOf: %w", err)
	}
	sum, err := e.entries.SumAsOf(ctx, accountID, ts)
	if err != nil {
		return domain.Money{}, fmt.Errorf("BalanceAsOf: %w", err)
	}
	return domain.NewMoney(sum, acct.Currency), nil
}

func (e *Engine) GetEntry(ctx context.Context, entryID uuid.UUID) (*domain.Entry, error) {
	entry, err := e.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("GetEntry: %w", err)
	}
	return entry, nil
}

func (e *Engine) ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Entry, int, error) {
	entries, total, err := e.entries.ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEntries: %w", err)
	}
	return entries, total, nil
}

// Within runs fn while holding the account's serialization token and a
// database transaction with the account row locked. Writes made through the
// Tx commit together; transient database failures replay fn from scratch.
func (e *Engine) Within(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context, t *Tx) error) error {
	unlock, err := e.lc.Locks.Acquire(ctx, accountID)
	if err != nil {
		return fmt.Errorf("Within: acquire %s: %w", accountID, err)
	}
	defer unlock()
	ctx = logging.WithAttrs(ctx, "account_id", accountID)

	op := func() error {
		err := e.runOnce(ctx, accountID, fn)
		if err == nil {
			return nil
		}
		if repository.IsRetryable(err) || errors.Is(err, domain.ErrVersionConflict) {
			metrics.TxRetries.Inc()
			logging.FromContext(ctx).Warn("retrying ledger transaction", "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, e.maxRetries), ctx))
}

func (e *Engine) runOnce(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context, t *Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	acct, err := e.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return err
	}

	t := &Tx{
		tx:      tx,
		account: acct,
		engine:  e,
		now:     e.lc.Clock.Now().UTC().Truncate(time.Microsecond),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}

	if t.dirty {
		if err := e.accounts.UpdateLedgerState(ctx, tx, acct, acct.Version+1); err != nil {
			return err
		}
		acct.Version++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	t.record(ctx)
	return nil
}
