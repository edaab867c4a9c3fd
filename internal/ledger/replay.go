package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// ChainBreak is an entry whose stored balance_after does not follow from the
// entries before it.
type ChainBreak struct {
	EntryID  uuid.UUID
	Sequence int64
	Expected int64
	Actual   int64
}

type ReplayResult struct {
	AccountID       uuid.UUID
	Currency        domain.Currency
	CachedBalance   int64
	ReplayedBalance int64
	LastSequence    int64
	Entries         int
	ChainBreaks     []ChainBreak
}

func (r *ReplayResult) Drift() int64 { return r.CachedBalance - r.ReplayedBalance }

func (r *ReplayResult) Consistent() bool {
	return r.Drift() == 0 && len(r.ChainBreaks) == 0
}

// Replay recomputes the account's balance from its entries inside a single
// read-only snapshot, so the cached balance and the entries agree in time.
func (e *Engine) Replay(ctx context.Context, accountID uuid.UUID) (*ReplayResult, error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("Replay: begin tx: %w", err)
	}
	defer tx.Rollback()

	acct, err := e.accounts.GetInTx(ctx, tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("Replay: %w", err)
	}

	res := &ReplayResult{
		AccountID:     acct.ID,
		Currency:      acct.Currency,
		CachedBalance: acct.CachedBalance,
		LastSequence:  acct.LastSequence,
	}
	err = e.entries.ForEachOrdered(ctx, tx, accountID, func(entry *domain.Entry) error {
		res.ReplayedBalance += entry.Amount.Amount
		res.Entries++
		if entry.BalanceAfter != res.ReplayedBalance {
			res.ChainBreaks = append(res.ChainBreaks, ChainBreak{
				EntryID:  entry.ID,
				Sequence: entry.Sequence,
				Expected: res.ReplayedBalance,
				Actual:   entry.BalanceAfter,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Replay: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Replay: commit: %w", err)
	}
	return res, nil
}
