package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

// maxCatchUp bounds how many statements one CatchUp call emits per account.
const maxCatchUp = 520

type statementRepo interface {
	Insert(ctx context.Context, tx *sql.Tx, s *domain.Statement) error
	UpdateTotals(ctx context.Context, tx *sql.Tx, s *domain.Statement) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Statement, error)
	GetLatest(ctx context.Context, q repository.Querier, accountID uuid.UUID) (*domain.Statement, error)
	FindOverlapping(ctx context.Context, q repository.Querier, accountID uuid.UUID, p domain.Period) (*domain.Statement, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]domain.Statement, error)
}

type entryRepo interface {
	TagUnbilled(ctx context.Context, tx *sql.Tx, accountID, statementID uuid.UUID, before time.Time) ([]repository.BilledEntry, error)
	ListIDsByStatement(ctx context.Context, statementID uuid.UUID) ([]uuid.UUID, error)
}

type accountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	ListPage(ctx context.Context, after uuid.UUID, limit int) ([]domain.Account, error)
}

type Service struct {
	engine     *ledger.Engine
	statements statementRepo
	entries    entryRepo
	accounts   accountRepo
	db         *sql.DB
}

func NewService(engine *ledger.Engine, statements statementRepo, entries entryRepo, accounts accountRepo, db *sql.DB) *Service {
	return &Service{
		engine:     engine,
		statements: statements,
		entries:    entries,
		accounts:   accounts,
		db:         db,
	}
}

// Bill emits the statement for period. Every completed entry booked before the
// period end that no earlier statement billed becomes a line item. Billing the
// same window again returns the stored statement with ErrPeriodAlreadyBilled.
func (s *Service) Bill(ctx context.Context, accountID uuid.UUID, period domain.Period) (*domain.Statement, error) {
	if !period.End.After(period.Start) {
		return nil, fmt.Errorf("Bill: empty period: %w", domain.ErrInvalidRequest)
	}
	if period.End.After(s.engine.Context().Clock.Now()) {
		return nil, fmt.Errorf("Bill: period ending %s is still open: %w", period.End, domain.ErrInvalidRequest)
	}
	period = domain.Period{Start: period.Start.UTC(), End: period.End.UTC()}

	var (
		stmtID  uuid.UUID
		already bool
	)
	err := s.engine.Within(ctx, accountID, func(ctx context.Context, t *ledger.Tx) error {
		already = false
		acct := t.Account()

		existing, err := s.statements.FindOverlapping(ctx, t.SQL(), acct.ID, period)
		switch {
		case err == nil && existing.Period.Equal(period):
			stmtID, already = existing.ID, true
			return nil
		case err == nil:
			return fmt.Errorf("window %s..%s: %w", existing.Period.Start, existing.Period.End, domain.ErrPeriodOverlap)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		stmt := &domain.Statement{
			ID:        uuid.New(),
			AccountID: acct.ID,
			Cadence:   acct.BillingCadence,
			Period:    period,
			Currency:  acct.Currency,
			CreatedAt: t.Now(),
		}
		if err := s.statements.Insert(ctx, t.SQL(), stmt); err != nil {
			return err
		}

		billed, err := s.entries.TagUnbilled(ctx, t.SQL(), acct.ID, stmt.ID, period.End)
		if err != nil {
			return err
		}
		for _, b := range billed {
			if b.Amount > 0 {
				stmt.GrossAmount += b.Amount
			}
			stmt.NetAmount += b.Amount
		}
		stmt.EntryCount = len(billed)
		if err := s.statements.UpdateTotals(ctx, t.SQL(), stmt); err != nil {
			return err
		}
		stmtID = stmt.ID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Bill: %w", err)
	}

	stmt, err := s.GetStatement(ctx, stmtID)
	if err != nil {
		return nil, fmt.Errorf("Bill: %w", err)
	}
	if already {
		return stmt, fmt.Errorf("Bill: %w", domain.ErrPeriodAlreadyBilled)
	}

	metrics.StatementsEmitted.Inc()
	logging.FromContext(ctx).Info("statement emitted",
		"statement_id", stmt.ID,
		"account_id", stmt.AccountID,
		"period_start", stmt.Period.Start,
		"period_end", stmt.Period.End,
		"entry_count", stmt.EntryCount,
		"net_amount", stmt.NetAmount,
	)
	return stmt, nil
}

// BillNext bills the account's next period if it has closed by now. It
// returns nil when there is nothing to bill yet.
func (s *Service) BillNext(ctx context.Context, accountID uuid.UUID, now time.Time) (*domain.Statement, error) {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("BillNext: %w", err)
	}

	last, err := s.statements.GetLatest(ctx, s.db, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		last = nil
	} else if err != nil {
		return nil, fmt.Errorf("BillNext: %w", err)
	}

	period := NextPeriod(acct, last)
	if period.End.After(now) {
		return nil, nil
	}

	stmt, err := s.Bill(ctx, accountID, period)
	if err != nil && !errors.Is(err, domain.ErrPeriodAlreadyBilled) {
		return nil, fmt.Errorf("BillNext: %w", err)
	}
	return stmt, nil
}

// CatchUp bills every closed period the account has not been billed for.
func (s *Service) CatchUp(ctx context.Context, accountID uuid.UUID, now time.Time) (int, error) {
	emitted := 0
	for range maxCatchUp {
		stmt, err := s.BillNext(ctx, accountID, now)
		if err != nil {
			return emitted, fmt.Errorf("CatchUp: %w", err)
		}
		if stmt == nil {
			return emitted, nil
		}
		emitted++
	}
	return emitted, nil
}

func (s *Service) GetStatement(ctx context.Context, id uuid.UUID) (*domain.Statement, error) {
	stmt, err := s.statements.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetStatement: %w", err)
	}
	stmt.LineItems, err = s.entries.ListIDsByStatement(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetStatement: %w", err)
	}
	return stmt, nil
}

// ListStatements returns statements whose window lies within [from, to).
func (s *Service) ListStatements(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]domain.Statement, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("ListStatements: %w", domain.ErrInvalidRequest)
	}
	stmts, err := s.statements.ListByAccount(ctx, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ListStatements: %w", err)
	}
	return stmts, nil
}
