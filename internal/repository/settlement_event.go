package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const settlementEventColumns = `id, idempotency_key, withdrawal_id, outcome, payload, status,
	attempts, last_attempt, created_at`

type SettlementEventRepository struct {
	db *sql.DB
}

func NewSettlementEventRepository(db *sql.DB) *SettlementEventRepository {
	return &SettlementEventRepository{db: db}
}

// Create stores a rail callback. A replayed callback fails with a unique violation.
func (r *SettlementEventRepository) Create(ctx context.Context, event *domain.SettlementEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settlement_events (
			id, idempotency_key, withdrawal_id, outcome, payload, status, attempts, last_attempt, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.IdempotencyKey, event.WithdrawalID, event.Outcome, []byte(event.Payload),
		event.Status, event.Attempts, nullTime(event.LastAttempt), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ClaimPending leases up to limit pending events whose previous attempt is older than lease.
// SKIP LOCKED keeps concurrent processors from claiming the same event.
func (r *SettlementEventRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]domain.SettlementEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE settlement_events SET attempts = attempts + 1, last_attempt = now()
		WHERE id IN (
			SELECT id FROM settlement_events
			WHERE status = $1 AND (last_attempt IS NULL OR last_attempt < now() - $2::interval)
			ORDER BY created_at LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+settlementEventColumns,
		domain.SettlementEventStatusPending, fmt.Sprintf("%d milliseconds", lease.Milliseconds()), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimPending: %w", err)
	}
	defer rows.Close()

	var events []domain.SettlementEvent
	for rows.Next() {
		e, err := scanSettlementEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimPending: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimPending: rows: %w", err)
	}
	return events, nil
}

func (r *SettlementEventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SettlementEventStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE settlement_events SET status = $1 WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

func scanSettlementEvent(s scanner) (*domain.SettlementEvent, error) {
	var (
		e           domain.SettlementEvent
		payload     []byte
		lastAttempt sql.NullTime
	)
	err := s.Scan(
		&e.ID, &e.IdempotencyKey, &e.WithdrawalID, &e.Outcome, &payload,
		&e.Status, &e.Attempts, &lastAttempt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	e.LastAttempt = timePtr(lastAttempt)
	return &e, nil
}
