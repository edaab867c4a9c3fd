package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

type accountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetActiveByOwnerAndKind(ctx context.Context, ownerID string, kind domain.AccountKind) (*domain.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Account, error)
	ListPage(ctx context.Context, after uuid.UUID, limit int) ([]domain.Account, error)
	SetVerified(ctx context.Context, id uuid.UUID, verified bool) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	UpdatePolicy(ctx context.Context, id uuid.UUID, policy domain.WithdrawalPolicy, cadence domain.BillingCadence) error
}

type entryTotals interface {
	Totals(ctx context.Context, accountID uuid.UUID, since time.Time) ([]repository.KindTotal, error)
}

type incidentRepository interface {
	Record(ctx context.Context, inc *domain.DriftIncident) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DriftIncident, error)
	ListOpen(ctx context.Context, limit int) ([]domain.DriftIncident, error)
	Resolve(ctx context.Context, id uuid.UUID, by string, at time.Time) error
}

type auditRunRepository interface {
	Start(ctx context.Context, run *domain.AuditRun) error
	Finish(ctx context.Context, run *domain.AuditRun) error
	LastFinishedAt(ctx context.Context) (time.Time, error)
}

type settlementEventRepository interface {
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]domain.SettlementEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SettlementEventStatus) error
}

// inFlightReader is the part of the withdrawal service the wallet summary needs.
type inFlightReader interface {
	InFlight(ctx context.Context, accountID uuid.UUID) (*domain.Withdrawal, error)
}

type withdrawalFinisher interface {
	Settle(ctx context.Context, id uuid.UUID, railRef string) (*domain.Withdrawal, error)
	Reject(ctx context.Context, id uuid.UUID, reason string) (*domain.Withdrawal, error)
}
