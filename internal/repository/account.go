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

const accountColumns = `id, owner_id, account_kind, currency, verified, active,
	cached_balance, last_sequence, last_occurred_at, version, billing_cadence,
	min_withdrawal, auto_withdrawal, auto_threshold, auto_day_of_month,
	created_at, updated_at`

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (
			id, owner_id, account_kind, currency, verified, active,
			cached_balance, last_sequence, version, billing_cadence,
			min_withdrawal, auto_withdrawal, auto_threshold, auto_day_of_month,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		account.ID, account.OwnerID, account.Kind, account.Currency, account.Verified, account.Active,
		account.CachedBalance, account.LastSequence, account.Version, account.BillingCadence,
		account.Policy.MinimumAmount, account.Policy.Automatic, account.Policy.ThresholdAmount,
		account.Policy.ScheduledDayOfMonth,
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrAlreadyProvisioned)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	a, err := r.get(ctx, r.db, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return a, nil
}

// GetInTx reads the account inside tx without locking it.
func (r *AccountRepository) GetInTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error) {
	a, err := r.get(ctx, tx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("GetInTx: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error) {
	a, err := r.get(ctx, tx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) GetActiveByOwnerAndKind(ctx context.Context, ownerID string, kind domain.AccountKind) (*domain.Account, error) {
	a, err := r.get(ctx, r.db,
		`SELECT `+accountColumns+` FROM accounts
		WHERE owner_id = $1 AND account_kind = $2 AND active`,
		ownerID, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("GetActiveByOwnerAndKind: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	accounts, err := r.list(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY created_at`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByOwner: %w", err)
	}
	return accounts, nil
}

// ListPage returns up to limit accounts with id greater than after, in id order.
func (r *AccountRepository) ListPage(ctx context.Context, after uuid.UUID, limit int) ([]domain.Account, error) {
	accounts, err := r.list(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id > $1 ORDER BY id LIMIT $2`, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListPage: %w", err)
	}
	return accounts, nil
}

func (r *AccountRepository) ListAutoWithdrawalCandidates(ctx context.Context) ([]domain.Account, error) {
	accounts, err := r.list(ctx,
		`SELECT `+accountColumns+` FROM accounts
		WHERE auto_withdrawal AND active AND verified ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("ListAutoWithdrawalCandidates: %w", err)
	}
	return accounts, nil
}

// UpdateLedgerState writes the balance and ordering cursor after entries were appended.
// It fails with ErrVersionConflict unless the stored version is newVersion-1.
func (r *AccountRepository) UpdateLedgerState(ctx context.Context, tx *sql.Tx, a *domain.Account, newVersion int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts
		SET cached_balance = $1, last_sequence = $2, last_occurred_at = $3, version = $4, updated_at = now()
		WHERE id = $5 AND version = $6`,
		a.CachedBalance, a.LastSequence, nullTime(a.LastOccurredAt), newVersion, a.ID, newVersion-1,
	)
	if err != nil {
		return fmt.Errorf("UpdateLedgerState: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateLedgerState: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateLedgerState: %w", domain.ErrVersionConflict)
	}
	return nil
}

func (r *AccountRepository) SetVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	return r.exec(ctx, "SetVerified",
		`UPDATE accounts SET verified = $1, updated_at = now() WHERE id = $2`, verified, id)
}

func (r *AccountRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "Deactivate",
		`UPDATE accounts SET active = false, updated_at = now() WHERE id = $1`, id)
}

func (r *AccountRepository) UpdatePolicy(ctx context.Context, id uuid.UUID, policy domain.WithdrawalPolicy, cadence domain.BillingCadence) error {
	return r.exec(ctx, "UpdatePolicy",
		`UPDATE accounts
		SET min_withdrawal = $1, auto_withdrawal = $2, auto_threshold = $3, auto_day_of_month = $4,
			billing_cadence = $5, updated_at = now()
		WHERE id = $6`,
		policy.MinimumAmount, policy.Automatic, policy.ThresholdAmount, policy.ScheduledDayOfMonth,
		cadence, id,
	)
}

func (r *AccountRepository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func (r *AccountRepository) get(ctx context.Context, q Querier, query string, args ...any) (*domain.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return accounts, nil
}

func scanAccount(s scanner) (*domain.Account, error) {
	var (
		a              domain.Account
		lastOccurredAt sql.NullTime
	)
	err := s.Scan(
		&a.ID, &a.OwnerID, &a.Kind, &a.Currency, &a.Verified, &a.Active,
		&a.CachedBalance, &a.LastSequence, &lastOccurredAt, &a.Version, &a.BillingCadence,
		&a.Policy.MinimumAmount, &a.Policy.Automatic, &a.Policy.ThresholdAmount, &a.Policy.ScheduledDayOfMonth,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastOccurredAt.Valid {
		t := lastOccurredAt.Time.UTC()
		a.LastOccurredAt = &t
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
