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

type AuditRunRepository struct {
	db *sql.DB
}

func NewAuditRunRepository(db *sql.DB) *AuditRunRepository {
	return &AuditRunRepository{db: db}
}

func (r *AuditRunRepository) Start(ctx context.Context, run *domain.AuditRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_runs (id, started_at) VALUES ($1, $2)`,
		run.ID, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("Start: %w", err)
	}
	return nil
}

func (r *AuditRunRepository) Finish(ctx context.Context, run *domain.AuditRun) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE audit_runs SET finished_at = $1, accounts_checked = $2, incidents_found = $3 WHERE id = $4`,
		nullTime(run.FinishedAt), run.AccountsChecked, run.IncidentsFound, run.ID,
	)
	if err != nil {
		return fmt.Errorf("Finish: %w", err)
	}
	return nil
}

// LastFinishedAt returns when the most recent completed audit ended, or ErrNotFound.
func (r *AuditRunRepository) LastFinishedAt(ctx context.Context) (time.Time, error) {
	var at time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT finished_at FROM audit_runs WHERE finished_at IS NOT NULL ORDER BY finished_at DESC LIMIT 1`,
	).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, fmt.Errorf("LastFinishedAt: %w", domain.ErrNotFound)
		}
		return time.Time{}, fmt.Errorf("LastFinishedAt: %w", err)
	}
	return at.UTC(), nil
}

func (r *AuditRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AuditRun, error) {
	var (
		run      domain.AuditRun
		finished sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, accounts_checked, incidents_found FROM audit_runs WHERE id = $1`, id,
	).Scan(&run.ID, &run.StartedAt, &finished, &run.AccountsChecked, &run.IncidentsFound)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	run.FinishedAt = timePtr(finished)
	return &run, nil
}
