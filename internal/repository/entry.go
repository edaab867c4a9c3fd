package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const entryColumns = `id, account_id, insertion_sequence, amount, currency, kind, status,
	balance_after, occurred_at, event_time, completed_at, failed_at, failure_reason,
	commission_rate_bps, tax_rate_bps, source_event_id, details, annotations,
	billed_in_statement_id, created_at`

type EntryRepository struct {
	db *sql.DB
}

func NewEntryRepository(db *sql.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

func (r *EntryRepository) Insert(ctx context.Context, tx *sql.Tx, e *domain.Entry) error {
	details, err := domain.EncodeDetails(e.Kind, e.Details)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	annotations := []byte("{}")
	if len(e.Annotations) > 0 {
		annotations, err = json.Marshal(e.Annotations)
		if err != nil {
			return fmt.Errorf("Insert: annotations: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (
			id, account_id, insertion_sequence, amount, currency, kind, status,
			balance_after, occurred_at, event_time, completed_at, failed_at, failure_reason,
			commission_rate_bps, tax_rate_bps, source_event_id, details, annotations,
			billed_in_statement_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		e.ID, e.AccountID, e.Sequence, e.Amount.Amount, e.Amount.Currency, e.Kind, e.Status,
		e.BalanceAfter, e.OccurredAt, e.EventTime, nullTime(e.CompletedAt), nullTime(e.FailedAt), e.FailureReason,
		bpsArg(e.CommissionRate), bpsArg(e.TaxRate), e.SourceEventID, details, annotations,
		e.BilledInStatementID, e.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Insert: %w", domain.ErrDuplicateEntry)
		}
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

func (r *EntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	e, err := getEntry(ctx, r.db, `SELECT `+entryColumns+` FROM entries WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return e, nil
}

func (r *EntryRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Entry, error) {
	e, err := getEntry(ctx, tx, `SELECT `+entryColumns+` FROM entries WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return e, nil
}

// FindByKey looks up an entry by its idempotency key.
func (r *EntryRepository) FindByKey(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, sourceEventID string, kind domain.EntryKind) (*domain.Entry, error) {
	e, err := getEntry(ctx, tx,
		`SELECT `+entryColumns+` FROM entries
		WHERE account_id = $1 AND source_event_id = $2 AND kind = $3`,
		accountID, sourceEventID, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("FindByKey: %w", err)
	}
	return e, nil
}

// Transition moves a pending entry to a terminal status. It fails with
// ErrEntryNotPending when the entry has already left Pending.
func (r *EntryRepository) Transition(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.EntryStatus, at time.Time, reason *string) error {
	var completedAt, failedAt sql.NullTime
	switch status {
	case domain.EntryStatusCompleted:
		completedAt = sql.NullTime{Time: at, Valid: true}
	case domain.EntryStatusFailed:
		failedAt = sql.NullTime{Time: at, Valid: true}
	default:
		return fmt.Errorf("Transition: target status %q: %w", status, domain.ErrInvalidRequest)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE entries SET status = $1, completed_at = $2, failed_at = $3, failure_reason = $4
		WHERE id = $5 AND status = 'pending'`,
		status, completedAt, failedAt, reason, id,
	)
	if err != nil {
		return fmt.Errorf("Transition: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Transition: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Transition: %w", domain.ErrEntryNotPending)
	}
	return nil
}

func (r *EntryRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Entry, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE account_id = $1`, accountID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByAccount: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries
		WHERE account_id = $1 ORDER BY occurred_at DESC, insertion_sequence DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByAccount: %w", err)
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListByAccount: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListByAccount: rows: %w", err)
	}
	return entries, total, nil
}

// ForEachOrdered calls fn for every entry of the account in ledger order.
func (r *EntryRepository) ForEachOrdered(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, fn func(*domain.Entry) error) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries
		WHERE account_id = $1 ORDER BY occurred_at, insertion_sequence`, accountID,
	)
	if err != nil {
		return fmt.Errorf("ForEachOrdered: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("ForEachOrdered: scan: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ForEachOrdered: rows: %w", err)
	}
	return nil
}

// SumAsOf is the replayed balance: the sum of every entry booked at or before ts.
func (r *EntryRepository) SumAsOf(ctx context.Context, accountID uuid.UUID, ts time.Time) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM entries WHERE account_id = $1 AND occurred_at <= $2`,
		accountID, ts,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("SumAsOf: %w", err)
	}
	return sum, nil
}

type KindTotal struct {
	Kind   domain.EntryKind
	Status domain.EntryStatus
	Total  int64
	// Since is the part of Total booked at or after the since argument of Totals.
	Since int64
}

func (r *EntryRepository) Totals(ctx context.Context, accountID uuid.UUID, since time.Time) ([]KindTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT kind, status, COALESCE(SUM(amount), 0),
			COALESCE(SUM(amount) FILTER (WHERE occurred_at >= $2), 0)
		FROM entries WHERE account_id = $1
		GROUP BY kind, status`,
		accountID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("Totals: %w", err)
	}
	defer rows.Close()

	var totals []KindTotal
	for rows.Next() {
		var t KindTotal
		if err := rows.Scan(&t.Kind, &t.Status, &t.Total, &t.Since); err != nil {
			return nil, fmt.Errorf("Totals: scan: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Totals: rows: %w", err)
	}
	return totals, nil
}

type BilledEntry struct {
	ID     uuid.UUID
	Amount int64
}

// TagUnbilled stamps statementID on every completed, untagged entry booked before `before`
// and returns the tagged entries.
func (r *EntryRepository) TagUnbilled(ctx context.Context, tx *sql.Tx, accountID, statementID uuid.UUID, before time.Time) ([]BilledEntry, error) {
	rows, err := tx.QueryContext(ctx,
		`UPDATE entries SET billed_in_statement_id = $1
		WHERE account_id = $2 AND status = 'completed' AND billed_in_statement_id IS NULL
			AND occurred_at < $3
		RETURNING id, amount`,
		statementID, accountID, before,
	)
	if err != nil {
		return nil, fmt.Errorf("TagUnbilled: %w", err)
	}
	defer rows.Close()

	var billed []BilledEntry
	for rows.Next() {
		var b BilledEntry
		if err := rows.Scan(&b.ID, &b.Amount); err != nil {
			return nil, fmt.Errorf("TagUnbilled: scan: %w", err)
		}
		billed = append(billed, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("TagUnbilled: rows: %w", err)
	}
	return billed, nil
}

func (r *EntryRepository) ListIDsByStatement(ctx context.Context, statementID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM entries WHERE billed_in_statement_id = $1 ORDER BY occurred_at, insertion_sequence`,
		statementID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListIDsByStatement: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListIDsByStatement: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListIDsByStatement: rows: %w", err)
	}
	return ids, nil
}

func getEntry(ctx context.Context, q Querier, query string, args ...any) (*domain.Entry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func scanEntry(s scanner) (*domain.Entry, error) {
	var (
		e                     domain.Entry
		amount                int64
		currency              domain.Currency
		completedAt, failedAt sql.NullTime
		failureReason         sql.NullString
		commissionBps, taxBps sql.NullInt64
		details, annotations  []byte
		billedIn              uuid.NullUUID
	)
	err := s.Scan(
		&e.ID, &e.AccountID, &e.Sequence, &amount, &currency, &e.Kind, &e.Status,
		&e.BalanceAfter, &e.OccurredAt, &e.EventTime, &completedAt, &failedAt, &failureReason,
		&commissionBps, &taxBps, &e.SourceEventID, &details, &annotations,
		&billedIn, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Amount = domain.NewMoney(amount, currency)
	e.OccurredAt = e.OccurredAt.UTC()
	e.EventTime = e.EventTime.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.CompletedAt = timePtr(completedAt)
	e.FailedAt = timePtr(failedAt)
	e.FailureReason = stringPtr(failureReason)
	e.CommissionRate = bpsPtr(commissionBps)
	e.TaxRate = bpsPtr(taxBps)
	if billedIn.Valid {
		id := billedIn.UUID
		e.BilledInStatementID = &id
	}

	e.Details, err = domain.DecodeDetails(e.Kind, details)
	if err != nil {
		return nil, err
	}
	if len(annotations) > 0 {
		if err := json.Unmarshal(annotations, &e.Annotations); err != nil {
			return nil, fmt.Errorf("annotations: %w", err)
		}
	}
	if len(e.Annotations) == 0 {
		e.Annotations = nil
	}
	return &e, nil
}

func bpsArg(b *domain.BasisPoints) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*b), Valid: true}
}

func bpsPtr(n sql.NullInt64) *domain.BasisPoints {
	if !n.Valid {
		return nil
	}
	b := domain.BasisPoints(n.Int64)
	return &b
}
