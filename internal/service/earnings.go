package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/commission"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type EarningsService struct {
	engine   *ledger.Engine
	accounts accountRepository
	calc     *commission.Calculator
}

func NewEarningsService(engine *ledger.Engine, accounts accountRepository, calc *commission.Calculator) *EarningsService {
	return &EarningsService{engine: engine, accounts: accounts, calc: calc}
}

// PayableRequest identifies the credited account either directly or by its
// owner; the owner's account is the active one whose kind matches the role.
type PayableRequest struct {
	AccountID uuid.UUID
	OwnerID   string
	Event     commission.PayableEvent
}

// RecordPayable books the earning and its commission and tax deductions in
// one atomic unit. Replaying the same event returns the stored entries with
// ErrDuplicateEntry.
func (s *EarningsService) RecordPayable(ctx context.Context, req PayableRequest) ([]*domain.Entry, error) {
	log := logging.FromContext(ctx)

	rates, err := s.calc.Table().Lookup(req.Event.Role, req.Event.Category)
	if err != nil {
		return nil, fmt.Errorf("RecordPayable: %w", err)
	}
	account, err := s.resolveAccount(ctx, req, rates.AccountKind)
	if err != nil {
		return nil, fmt.Errorf("RecordPayable: %w", err)
	}

	reqs, err := s.calc.Entries(req.Event)
	if err != nil {
		return nil, fmt.Errorf("RecordPayable: %w", err)
	}

	results, err := s.engine.AppendAll(ctx, account.ID, reqs)
	if err != nil {
		return nil, fmt.Errorf("RecordPayable: %w", err)
	}

	entries := make([]*domain.Entry, 0, len(results))
	duplicates := 0
	for _, r := range results {
		entries = append(entries, r.Entry)
		if r.Duplicate {
			duplicates++
		}
	}
	if duplicates == len(results) {
		log.Info("payable event already recorded", "event_id", req.Event.EventID, "account_id", account.ID)
		return entries, fmt.Errorf("RecordPayable: %w", domain.ErrDuplicateEntry)
	}

	log.Info("payable event recorded",
		"event_id", req.Event.EventID,
		"account_id", account.ID,
		"role", req.Event.Role,
		"gross_amount", req.Event.Gross.Amount,
		"entries", len(entries)-duplicates,
	)
	return entries, nil
}

func (s *EarningsService) resolveAccount(ctx context.Context, req PayableRequest, kind domain.AccountKind) (*domain.Account, error) {
	if req.AccountID != uuid.Nil {
		account, err := s.accounts.GetByID(ctx, req.AccountID)
		if err != nil {
			return nil, err
		}
		if account.Kind != kind {
			return nil, fmt.Errorf("role %q pays %s accounts, got %s: %w", req.Event.Role, kind, account.Kind, domain.ErrInvalidRequest)
		}
		return account, nil
	}
	if req.OwnerID == "" {
		return nil, fmt.Errorf("account id or owner id required: %w", domain.ErrInvalidRequest)
	}
	account, err := s.accounts.GetActiveByOwnerAndKind(ctx, req.OwnerID, kind)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("no active %s account for owner %s: %w", kind, req.OwnerID, domain.ErrNotFound)
	}
	return account, err
}
