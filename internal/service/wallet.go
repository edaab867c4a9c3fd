package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/service/billing"
	"github.com/josh-kwaku/wallet-ledger/internal/service/withdrawal"
)

type WalletService struct {
	accounts       accountRepository
	entries        entryTotals
	withdrawals    inFlightReader
	clock          ledger.Clock
	defaultMinimum int64
}

func NewWalletService(
	accounts accountRepository,
	entries entryTotals,
	withdrawals inFlightReader,
	lc *ledger.LedgerContext,
	defaultMinimum int64,
) *WalletService {
	return &WalletService{
		accounts:       accounts,
		entries:        entries,
		withdrawals:    withdrawals,
		clock:          lc.Clock,
		defaultMinimum: defaultMinimum,
	}
}

// Provision opens an account for the owner. When an active account of the
// same kind exists it is returned together with ErrAlreadyProvisioned.
func (s *WalletService) Provision(ctx context.Context, ownerID string, kind domain.AccountKind, currency domain.Currency) (*domain.Account, error) {
	log := logging.FromContext(ctx)

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("Provision: owner id required: %w", domain.ErrInvalidRequest)
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("Provision: account kind %q: %w", kind, domain.ErrInvalidRequest)
	}
	if !currency.IsValid() {
		return nil, fmt.Errorf("Provision: %w", domain.ErrInvalidCurrency)
	}

	existing, err := s.accounts.GetActiveByOwnerAndKind(ctx, ownerID, kind)
	if err == nil {
		return existing, fmt.Errorf("Provision: %w", domain.ErrAlreadyProvisioned)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("Provision: check existing: %w", err)
	}

	now := s.clock.Now().UTC()
	account := &domain.Account{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Kind:           kind,
		Currency:       currency,
		Active:         true,
		Version:        1,
		BillingCadence: domain.BillingCadenceMonthly,
		Policy:         domain.WithdrawalPolicy{MinimumAmount: s.defaultMinimum},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, domain.ErrAlreadyProvisioned) {
			// Lost a race with a concurrent Provision for the same owner.
			existing, getErr := s.accounts.GetActiveByOwnerAndKind(ctx, ownerID, kind)
			if getErr != nil {
				return nil, fmt.Errorf("Provision: %w", getErr)
			}
			return existing, fmt.Errorf("Provision: %w", domain.ErrAlreadyProvisioned)
		}
		return nil, fmt.Errorf("Provision: %w", err)
	}

	log.Info("account provisioned",
		"account_id", account.ID,
		"owner_id", ownerID,
		"account_kind", kind,
		"currency", currency,
	)
	return account, nil
}

func (s *WalletService) SetVerified(ctx context.Context, accountID uuid.UUID, verified bool) (*domain.Account, error) {
	if err := s.accounts.SetVerified(ctx, accountID, verified); err != nil {
		return nil, fmt.Errorf("SetVerified: %w", err)
	}
	logging.FromContext(ctx).Info("account verification changed", "account_id", accountID, "verified", verified)
	return s.GetAccount(ctx, accountID)
}

// Deactivate stops new entries on the account. Compensations still post.
func (s *WalletService) Deactivate(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	if err := s.accounts.Deactivate(ctx, accountID); err != nil {
		return nil, fmt.Errorf("Deactivate: %w", err)
	}
	logging.FromContext(ctx).Info("account deactivated", "account_id", accountID)
	return s.GetAccount(ctx, accountID)
}

func (s *WalletService) UpdatePolicy(ctx context.Context, accountID uuid.UUID, policy domain.WithdrawalPolicy, cadence domain.BillingCadence) (*domain.Account, error) {
	if err := validatePolicy(policy, cadence); err != nil {
		return nil, fmt.Errorf("UpdatePolicy: %w", err)
	}
	if err := s.accounts.UpdatePolicy(ctx, accountID, policy, cadence); err != nil {
		return nil, fmt.Errorf("UpdatePolicy: %w", err)
	}
	logging.FromContext(ctx).Info("withdrawal policy updated",
		"account_id", accountID,
		"minimum_amount", policy.MinimumAmount,
		"automatic", policy.Automatic,
		"threshold_amount", policy.ThresholdAmount,
		"scheduled_day", policy.ScheduledDayOfMonth,
		"billing_cadence", cadence,
	)
	return s.GetAccount(ctx, accountID)
}

func validatePolicy(policy domain.WithdrawalPolicy, cadence domain.BillingCadence) error {
	if !cadence.IsValid() {
		return fmt.Errorf("billing cadence %q: %w", cadence, domain.ErrInvalidRequest)
	}
	if policy.MinimumAmount < 0 || policy.ThresholdAmount < 0 {
		return fmt.Errorf("policy amounts must not be negative: %w", domain.ErrInvalidAmount)
	}
	if policy.ScheduledDayOfMonth < 0 || policy.ScheduledDayOfMonth > 31 {
		return fmt.Errorf("scheduled day %d: %w", policy.ScheduledDayOfMonth, domain.ErrInvalidRequest)
	}
	return nil
}

func (s *WalletService) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return account, nil
}

func (s *WalletService) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	accounts, err := s.accounts.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	return accounts, nil
}

// AccountSummary is recomputed from the entry log on every read.
type AccountSummary struct {
	Account            *domain.Account
	Balance            domain.Money
	Available          domain.Money
	TotalEarned        domain.Money
	TotalWithdrawn     domain.Money
	EarningsThisPeriod domain.Money
	PendingWithdrawals domain.Money
	Period             domain.Period
	WithdrawalState    domain.WithdrawalState
	InFlight           *domain.Withdrawal
}

func (s *WalletService) GetSummary(ctx context.Context, accountID uuid.UUID) (*AccountSummary, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("GetSummary: %w", err)
	}

	now := s.clock.Now().UTC()
	start := billing.Floor(account.BillingCadence, now)
	period := domain.Period{Start: start, End: billing.Next(account.BillingCadence, start)}

	totals, err := s.entries.Totals(ctx, accountID, period.Start)
	if err != nil {
		return nil, fmt.Errorf("GetSummary: %w", err)
	}
	inFlight, err := s.withdrawals.InFlight(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("GetSummary: %w", err)
	}

	var earned, earnedThisPeriod, withdrawn, pending int64
	for _, t := range totals {
		switch {
		case isEarning(t.Kind) && t.Status == domain.EntryStatusCompleted:
			earned += t.Total
			earnedThisPeriod += t.Since
		case t.Kind == domain.EntryKindWithdrawal && t.Status == domain.EntryStatusCompleted:
			withdrawn -= t.Total
		case t.Kind == domain.EntryKindWithdrawal && t.Status == domain.EntryStatusPending:
			pending -= t.Total
		}
	}

	cur := account.Currency
	return &AccountSummary{
		Account:            account,
		Balance:            account.Balance(),
		Available:          account.Available(),
		TotalEarned:        domain.NewMoney(earned, cur),
		TotalWithdrawn:     domain.NewMoney(withdrawn, cur),
		EarningsThisPeriod: domain.NewMoney(earnedThisPeriod, cur),
		PendingWithdrawals: domain.NewMoney(pending, cur),
		Period:             period,
		WithdrawalState:    withdrawal.State(account, inFlight),
		InFlight:           inFlight,
	}, nil
}

func isEarning(kind domain.EntryKind) bool {
	return kind == domain.EntryKindEarning || kind == domain.EntryKindBonus
}
