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

const statementColumns = `id, account_id, cadence, period_start, period_end, currency,
	gross_amount, net_amount, entry_count, created_at`

type StatementRepository struct {
	db *sql.DB
}

func NewStatementRepository(db *sql.DB) *StatementRepository {
	return &StatementRepository{db: db}
}

// Insert fails with ErrPeriodAlreadyBilled when a statement for the same window exists.
func (r *StatementRepository) Insert(ctx context.Context, tx *sql.Tx, s *domain.Statement) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO statements (
			id, account_id, cadence, period_start, period_end, currency,
			gross_amount, net_amount, entry_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.AccountID, s.Cadence, s.Period.Start, s.Period.End, s.Currency,
		s.GrossAmount, s.NetAmount, s.EntryCount, s.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Insert: %w", domain.ErrPeriodAlreadyBilled)
		}
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

func (r *StatementRepository) UpdateTotals(ctx context.Context, tx *sql.Tx, s *domain.Statement) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE statements SET gross_amount = $1, net_amount = $2, entry_count = $3 WHERE id = $4`,
		s.GrossAmount, s.NetAmount, s.EntryCount, s.ID,
	)
	if err != nil {
		return fmt.Errorf("UpdateTotals: %w", err)
	}
	return nil
}

func (r *StatementRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Statement, error) {
	s, err := getStatement(ctx, r.db, `SELECT `+statementColumns+` FROM statements WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return s, nil
}

// GetLatest returns the statement with the latest period end, or ErrNotFound.
func (r *StatementRepository) GetLatest(ctx context.Context, q Querier, accountID uuid.UUID) (*domain.Statement, error) {
	s, err := getStatement(ctx, q,
		`SELECT `+statementColumns+` FROM statements
		WHERE account_id = $1 ORDER BY period_end DESC LIMIT 1`, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetLatest: %w", err)
	}
	return s, nil
}

// FindOverlapping returns the first statement whose window intersects p, or ErrNotFound.
func (r *StatementRepository) FindOverlapping(ctx context.Context, q Querier, accountID uuid.UUID, p domain.Period) (*domain.Statement, error) {
	s, err := getStatement(ctx, q,
		`SELECT `+statementColumns+` FROM statements
		WHERE account_id = $1 AND period_start < $3 AND $2 < period_end
		ORDER BY period_start LIMIT 1`,
		accountID, p.Start, p.End,
	)
	if err != nil {
		return nil, fmt.Errorf("FindOverlapping: %w", err)
	}
	return s, nil
}

// ListByAccount returns statements whose window lies within [from, to).
func (r *StatementRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]domain.Statement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+statementColumns+` FROM statements
		WHERE account_id = $1 AND period_start >= $2 AND period_end <= $3
		ORDER BY period_start`,
		accountID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: %w", err)
	}
	defer rows.Close()

	var statements []domain.Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByAccount: scan: %w", err)
		}
		statements = append(statements, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByAccount: rows: %w", err)
	}
	return statements, nil
}

func getStatement(ctx context.Context, q Querier, query string, args ...any) (*domain.Statement, error) {
	s, err := scanStatement(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func scanStatement(sc scanner) (*domain.Statement, error) {
	var s domain.Statement
	err := sc.Scan(
		&s.ID, &s.AccountID, &s.Cadence, &s.Period.Start, &s.Period.End, &s.Currency,
		&s.GrossAmount, &s.NetAmount, &s.EntryCount, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Period.Start = s.Period.Start.UTC()
	s.Period.End = s.Period.End.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}
