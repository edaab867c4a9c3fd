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

const incidentColumns = `id, account_id, kind, currency, cached_balance, replayed_balance,
	detail, detected_at, resolved_at, resolved_by`

type IncidentRepository struct {
	db *sql.DB
}

func NewIncidentRepository(db *sql.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Record stores the incident unless an identical one is still open.
// It reports whether a new row was written.
func (r *IncidentRepository) Record(ctx context.Context, inc *domain.DriftIncident) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO drift_incidents (
			id, account_id, kind, currency, cached_balance, replayed_balance, detail, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, kind, cached_balance, replayed_balance) WHERE resolved_at IS NULL DO NOTHING`,
		inc.ID, inc.AccountID, inc.Kind, inc.Currency, inc.CachedBalance, inc.ReplayedBalance,
		inc.Detail, inc.DetectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("Record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Record: rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DriftIncident, error) {
	inc, err := scanIncident(r.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM drift_incidents WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return inc, nil
}

func (r *IncidentRepository) ListOpen(ctx context.Context, limit int) ([]domain.DriftIncident, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM drift_incidents
		WHERE resolved_at IS NULL ORDER BY detected_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListOpen: %w", err)
	}
	defer rows.Close()

	var incidents []domain.DriftIncident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("ListOpen: scan: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListOpen: rows: %w", err)
	}
	return incidents, nil
}

func (r *IncidentRepository) Resolve(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE drift_incidents SET resolved_at = $1, resolved_by = $2 WHERE id = $3 AND resolved_at IS NULL`,
		at, by, id,
	)
	if err != nil {
		return fmt.Errorf("Resolve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Resolve: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("Resolve: %w", domain.ErrNotFound)
	}
	return nil
}

func scanIncident(s scanner) (*domain.DriftIncident, error) {
	var (
		inc        domain.DriftIncident
		resolvedAt sql.NullTime
		resolvedBy sql.NullString
	)
	err := s.Scan(
		&inc.ID, &inc.AccountID, &inc.Kind, &inc.Currency, &inc.CachedBalance, &inc.ReplayedBalance,
		&inc.Detail, &inc.DetectedAt, &resolvedAt, &resolvedBy,
	)
	if err != nil {
		return nil, err
	}
	inc.DetectedAt = inc.DetectedAt.UTC()
	inc.ResolvedAt = timePtr(resolvedAt)
	inc.ResolvedBy = stringPtr(resolvedBy)
	return &inc, nil
}
