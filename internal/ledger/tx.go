package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
)

// Tx is one atomic unit of ledger work on a single locked account.
type Tx struct {
	tx      *sql.Tx
	account *domain.Account
	engine  *Engine
	now     time.Time
	dirty   bool

	appended    []*domain.Entry
	duplicates  []domain.EntryKind
	transitions []domain.EntryStatus
}

// SQL exposes the underlying transaction so callers can write their own rows atomically with the entries.
func (t *Tx) SQL() *sql.Tx { return t.tx }

// Account is a snapshot of the locked account including writes made so far.
func (t *Tx) Account() domain.Account { return *t.account }

func (t *Tx) Now() time.Time { return t.now }

func (t *Tx) Append(ctx context.Context, req AppendRequest) (AppendResult, error) {
	acct := t.account
	if req.AccountID == uuid.Nil {
		req.AccountID = acct.ID
	}
	if req.AccountID != acct.ID {
		return AppendResult{}, fmt.Errorf("Append: entry for %s inside unit for %s: %w", req.AccountID, acct.ID, domain.ErrInvalidRequest)
	}
	if err := req.validate(); err != nil {
		return AppendResult{}, fmt.Errorf("Append: %w", err)
	}

	existing, err := t.engine.entries.FindByKey(ctx, t.tx, acct.ID, req.SourceEventID, req.Kind)
	if err == nil {
		t.duplicates = append(t.duplicates, req.Kind)
		return AppendResult{Entry: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return AppendResult{}, fmt.Errorf("Append: %w", err)
	}

	if req.Amount.Currency != acct.Currency {
		return AppendResult{}, fmt.Errorf("Append: %s entry on %s account: %w", req.Amount.Currency, acct.Currency, domain.ErrCurrencyMismatch)
	}
	if !acct.Active && req.Kind != domain.EntryKindAdjustment {
		return AppendResult{}, fmt.Errorf("Append: %w", domain.ErrAccountInactive)
	}

	balance, err := acct.Balance().Add(req.Amount)
	if err != nil {
		return AppendResult{}, fmt.Errorf("Append: %w", err)
	}

	eventTime := req.OccurredAt.UTC()
	if eventTime.IsZero() {
		eventTime = t.now
	}
	occurredAt := t.bookingTime(eventTime)

	entry := &domain.Entry{
		ID:             uuid.New(),
		AccountID:      acct.ID,
		Sequence:       acct.LastSequence + 1,
		Amount:         req.Amount,
		Kind:           req.Kind,
		Status:         req.Kind.InitialStatus(),
		BalanceAfter:   balance.Amount,
		OccurredAt:     occurredAt,
		EventTime:      eventTime,
		CommissionRate: req.CommissionRate,
		TaxRate:        req.TaxRate,
		SourceEventID:  req.SourceEventID,
		Details:        req.Details,
		Annotations:    req.Annotations,
		CreatedAt:      t.now,
	}
	if entry.Status == domain.EntryStatusCompleted {
		completedAt := t.now
		entry.CompletedAt = &completedAt
	}

	if err := t.engine.entries.Insert(ctx, t.tx, entry); err != nil {
		return AppendResult{}, fmt.Errorf("Append: %w", err)
	}

	acct.CachedBalance = balance.Amount
	acct.LastSequence = entry.Sequence
	acct.LastOccurredAt = &occurredAt
	t.dirty = true
	t.appended = append(t.appended, entry)

	return AppendResult{Entry: entry}, nil
}

// bookingTime clamps the event time into [last booked time, now] so that
// ledger order and insertion order agree.
func (t *Tx) bookingTime(eventTime time.Time) time.Time {
	ts := eventTime.Truncate(time.Microsecond)
	if ts.After(t.now) {
		ts = t.now
	}
	if last := t.account.LastOccurredAt; last != nil && ts.Before(*last) {
		ts = *last
	}
	return ts
}

func (t *Tx) MarkCompleted(ctx context.Context, entryID uuid.UUID) (*domain.Entry, error) {
	entry, err := t.lockEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("MarkCompleted: %w", err)
	}

	switch entry.Status {
	case domain.EntryStatusCompleted:
		return entry, nil
	case domain.EntryStatusFailed:
		return nil, fmt.Errorf("MarkCompleted: entry %s failed: %w", entryID, domain.ErrEntryNotPending)
	}

	if err := t.engine.entries.Transition(ctx, t.tx, entryID, domain.EntryStatusCompleted, t.now, nil); err != nil {
		return nil, fmt.Errorf("MarkCompleted: %w", err)
	}
	completedAt := t.now
	entry.Status = domain.EntryStatusCompleted
	entry.CompletedAt = &completedAt
	t.transitions = append(t.transitions, domain.EntryStatusCompleted)
	return entry, nil
}

// MarkFailed fails a pending entry and appends an Adjustment that reverses its
// balance effect. Failing an already failed entry returns the earlier result.
func (t *Tx) MarkFailed(ctx context.Context, entryID uuid.UUID, reason string) (*domain.Entry, *domain.Entry, error) {
	entry, err := t.lockEntry(ctx, entryID)
	if err != nil {
		return nil, nil, fmt.Errorf("MarkFailed: %w", err)
	}

	switch entry.Status {
	case domain.EntryStatusFailed:
		adj, err := t.engine.entries.FindByKey(ctx, t.tx, entry.AccountID, domain.CompensationEventID(entry.ID), domain.EntryKindAdjustment)
		if err != nil {
			return nil, nil, fmt.Errorf("MarkFailed: compensation for %s: %w", entryID, err)
		}
		return entry, adj, nil
	case domain.EntryStatusCompleted:
		return nil, nil, fmt.Errorf("MarkFailed: entry %s completed: %w", entryID, domain.ErrEntryNotPending)
	}

	if err := t.engine.entries.Transition(ctx, t.tx, entryID, domain.EntryStatusFailed, t.now, &reason); err != nil {
		return nil, nil, fmt.Errorf("MarkFailed: %w", err)
	}
	failedAt := t.now
	entry.Status = domain.EntryStatusFailed
	entry.FailedAt = &failedAt
	entry.FailureReason = &reason
	t.transitions = append(t.transitions, domain.EntryStatusFailed)

	compensates := entry.ID
	res, err := t.Append(ctx, AppendRequest{
		Amount:        entry.Amount.Neg(),
		Kind:          domain.EntryKindAdjustment,
		SourceEventID: domain.CompensationEventID(entry.ID),
		OccurredAt:    t.now,
		Details: domain.AdjustmentDetails{
			CompensatesEntryID: &compensates,
			Reason:             reason,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("MarkFailed: compensate: %w", err)
	}
	return entry, res.Entry, nil
}

func (t *Tx) lockEntry(ctx context.Context, entryID uuid.UUID) (*domain.Entry, error) {
	entry, err := t.engine.entries.GetForUpdate(ctx, t.tx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.AccountID != t.account.ID {
		return nil, fmt.Errorf("entry %s belongs to %s: %w", entryID, entry.AccountID, domain.ErrInvalidRequest)
	}
	return entry, nil
}

func (t *Tx) record(ctx context.Context) {
	log := logging.FromContext(ctx)
	for _, e := range t.appended {
		metrics.EntriesAppended.WithLabelValues(string(e.Kind)).Inc()
		log.Debug("entry appended",
			"entry_id", e.ID,
			"kind", e.Kind,
			"amount", e.Amount.Amount,
			"balance_after", e.BalanceAfter,
			"sequence", e.Sequence,
		)
	}
	for _, k := range t.duplicates {
		metrics.DuplicateAppends.WithLabelValues(string(k)).Inc()
	}
	for _, s := range t.transitions {
		metrics.EntryTransitions.WithLabelValues(string(s)).Inc()
	}
}
