package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const withdrawalColumns = `id, account_id, amount, currency, status, automatic, schedule_key,
	entry_id, rail_reference, review_required, submitting_at, acknowledged_at, settled_at, rejected_at,
	cancelled_at, failure_reason, created_at, updated_at`

const inFlightIndex = "withdrawals_one_in_flight"

const inFlightQuery = `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE account_id = $1 AND status = 'requested'`

type WithdrawalRepository struct {
	db *sql.DB
}

func NewWithdrawalRepository(db *sql.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, tx *sql.Tx, w *domain.Withdrawal) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO withdrawals (
			id, account_id, amount, currency, status, automatic, schedule_key,
			entry_id, review_required, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID, w.AccountID, w.Amount.Amount, w.Amount.Currency, w.Status, w.Automatic, w.ScheduleKey,
		w.EntryID, w.ReviewRequired, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := uniqueViolation(err); ok {
			if pqErr.Constraint == inFlightIndex {
				return fmt.Errorf("Create: %w", domain.ErrWithdrawalInProgress)
			}
			return fmt.Errorf("Create: %w", domain.ErrDuplicateEntry)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *WithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	w, err := getWithdrawal(ctx, r.db, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return w, nil
}

func (r *WithdrawalRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Withdrawal, error) {
	w, err := getWithdrawal(ctx, tx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return w, nil
}

// GetInFlight returns the account's requested withdrawal, or ErrNotFound.
func (r *WithdrawalRepository) GetInFlight(ctx context.Context, accountID uuid.UUID) (*domain.Withdrawal, error) {
	w, err := getWithdrawal(ctx, r.db, inFlightQuery, accountID)
	if err != nil {
		return nil, fmt.Errorf("GetInFlight: %w", err)
	}
	return w, nil
}

func (r *WithdrawalRepository) GetInFlightTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID) (*domain.Withdrawal, error) {
	w, err := getWithdrawal(ctx, tx, inFlightQuery, accountID)
	if err != nil {
		return nil, fmt.Errorf("GetInFlightTx: %w", err)
	}
	return w, nil
}

func (r *WithdrawalRepository) GetByScheduleKey(ctx context.Context, q Querier, key string) (*domain.Withdrawal, error) {
	w, err := getWithdrawal(ctx, q,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE schedule_key = $1`, key,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByScheduleKey: %w", err)
	}
	return w, nil
}

// ClaimSubmission marks a requested, unacknowledged withdrawal as being
// submitted to the payout rail. A mark older than staleBefore is taken over.
// ErrNotFound means there is nothing to submit: the withdrawal is finished,
// already acknowledged or being submitted elsewhere.
func (r *WithdrawalRepository) ClaimSubmission(ctx context.Context, id uuid.UUID, at, staleBefore time.Time) (*domain.Withdrawal, error) {
	w, err := getWithdrawal(ctx, r.db,
		`UPDATE withdrawals SET submitting_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'requested' AND acknowledged_at IS NULL
			AND (submitting_at IS NULL OR submitting_at < $3)
		RETURNING `+withdrawalColumns,
		at, id, staleBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimSubmission: %w", err)
	}
	return w, nil
}

// ReleaseSubmission clears the submission mark after a failed attempt.
func (r *WithdrawalRepository) ReleaseSubmission(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE withdrawals SET submitting_at = NULL WHERE id = $1 AND acknowledged_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("ReleaseSubmission: %w", err)
	}
	return nil
}

// Acknowledge records that the payout rail accepted the withdrawal.
func (r *WithdrawalRepository) Acknowledge(ctx context.Context, id uuid.UUID, railRef string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE withdrawals SET acknowledged_at = $1, rail_reference = $2, submitting_at = NULL, updated_at = $1
		WHERE id = $3 AND status = 'requested' AND acknowledged_at IS NULL`,
		at, railRef, id,
	)
	if err != nil {
		return fmt.Errorf("Acknowledge: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Acknowledge: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Acknowledge: %w", domain.ErrWithdrawalTerminal)
	}
	return nil
}

// Finish moves a requested withdrawal to a terminal status.
func (r *WithdrawalRepository) Finish(ctx context.Context, tx *sql.Tx, w *domain.Withdrawal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE withdrawals
		SET status = $1, rail_reference = $2, settled_at = $3, rejected_at = $4, cancelled_at = $5,
			failure_reason = $6, updated_at = $7
		WHERE id = $8 AND status = 'requested'`,
		w.Status, w.RailReference, nullTime(w.SettledAt), nullTime(w.RejectedAt), nullTime(w.CancelledAt),
		w.FailureReason, w.UpdatedAt, w.ID,
	)
	if err != nil {
		return fmt.Errorf("Finish: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Finish: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Finish: %w", domain.ErrWithdrawalTerminal)
	}
	return nil
}

// ListUnacknowledged returns requested withdrawals created before cutoff
// that the rail has not accepted yet and that no live submission holds.
func (r *WithdrawalRepository) ListUnacknowledged(ctx context.Context, cutoff time.Time, limit int) ([]domain.Withdrawal, error) {
	ws, err := r.list(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE status = 'requested' AND acknowledged_at IS NULL AND created_at < $1
			AND (submitting_at IS NULL OR submitting_at < $1)
		ORDER BY created_at LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListUnacknowledged: %w", err)
	}
	return ws, nil
}

func (r *WithdrawalRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Withdrawal, error) {
	ws, err := r.list(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: %w", err)
	}
	return ws, nil
}

func (r *WithdrawalRepository) list(ctx context.Context, query string, args ...any) ([]domain.Withdrawal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ws []domain.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		ws = append(ws, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return ws, nil
}

func getWithdrawal(ctx context.Context, q Querier, query string, args ...any) (*domain.Withdrawal, error) {
	w, err := scanWithdrawal(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return w, nil
}

func scanWithdrawal(s scanner) (*domain.Withdrawal, error) {
	var (
		w                                   domain.Withdrawal
		amount                              int64
		currency                            domain.Currency
		scheduleKey, railRef, reason        sql.NullString
		subAt, ackAt, settledAt, rejectedAt sql.NullTime
		cxlAt                               sql.NullTime
	)
	err := s.Scan(
		&w.ID, &w.AccountID, &amount, &currency, &w.Status, &w.Automatic, &scheduleKey,
		&w.EntryID, &railRef, &w.ReviewRequired, &subAt, &ackAt, &settledAt, &rejectedAt,
		&cxlAt, &reason, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Amount = domain.NewMoney(amount, currency)
	w.ScheduleKey = stringPtr(scheduleKey)
	w.RailReference = stringPtr(railRef)
	w.FailureReason = stringPtr(reason)
	w.SubmittingAt = timePtr(subAt)
	w.AcknowledgedAt = timePtr(ackAt)
	w.SettledAt = timePtr(settledAt)
	w.RejectedAt = timePtr(rejectedAt)
	w.CancelledAt = timePtr(cxlAt)
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return &w, nil
}
