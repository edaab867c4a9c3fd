package withdrawal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

// PayoutRequest is what the payout rail needs to move money off-platform.
// The rail deduplicates on WithdrawalID.
type PayoutRequest struct {
	WithdrawalID uuid.UUID
	AccountID    uuid.UUID
	Amount       int64
	Currency     domain.Currency
}

type payoutRail interface {
	Submit(ctx context.Context, req PayoutRequest) (string, error)
}

type withdrawalRepo interface {
	Create(ctx context.Context, tx *sql.Tx, w *domain.Withdrawal) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Withdrawal, error)
	GetInFlight(ctx context.Context, accountID uuid.UUID) (*domain.Withdrawal, error)
	GetInFlightTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID) (*domain.Withdrawal, error)
	GetByScheduleKey(ctx context.Context, q repository.Querier, key string) (*domain.Withdrawal, error)
	ClaimSubmission(ctx context.Context, id uuid.UUID, at, staleBefore time.Time) (*domain.Withdrawal, error)
	ReleaseSubmission(ctx context.Context, id uuid.UUID) error
	Acknowledge(ctx context.Context, id uuid.UUID, railRef string, at time.Time) error
	Finish(ctx context.Context, tx *sql.Tx, w *domain.Withdrawal) error
	ListUnacknowledged(ctx context.Context, cutoff time.Time, limit int) ([]domain.Withdrawal, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Withdrawal, error)
}

type accountRepo interface {
	ListAutoWithdrawalCandidates(ctx context.Context) ([]domain.Account, error)
}

type Config struct {
	// ReviewThreshold flags withdrawals above this many minor units for operator review.
	ReviewThreshold int64
	// ResubmitAfter is how long a request may stay unacknowledged before it
	// is sent to the rail again. It also bounds how long a submission mark
	// left by a crashed process blocks others.
	ResubmitAfter time.Duration
}

type Service struct {
	engine      *ledger.Engine
	withdrawals withdrawalRepo
	accounts    accountRepo
	rail        payoutRail
	cfg         Config
}

func NewService(
	engine *ledger.Engine,
	withdrawals withdrawalRepo,
	accounts accountRepo,
	rail payoutRail,
	cfg Config,
) *Service {
	return &Service{
		engine:      engine,
		withdrawals: withdrawals,
		accounts:    accounts,
		rail:        rail,
		cfg:         cfg,
	}
}

// State derives the scheduler state of an account from its balance and
// in-flight withdrawal. Automatic accounts are eligible only once the
// balance reaches their threshold.
func State(acct *domain.Account, inFlight *domain.Withdrawal) domain.WithdrawalState {
	if inFlight != nil && inFlight.Status == domain.WithdrawalStatusRequested {
		return domain.WithdrawalStateRequested
	}
	if !acct.Active || !acct.Verified || !acct.Available().IsPositive() {
		return domain.WithdrawalStateIdle
	}
	if acct.Policy.Automatic && acct.CachedBalance < acct.Policy.ThresholdAmount {
		return domain.WithdrawalStateIdle
	}
	return domain.WithdrawalStateEligible
}

// RequestWithdrawal debits the account with a pending Withdrawal entry and
// hands the payout to the rail. A nil amount withdraws everything above the
// account's minimum reserve.
func (s *Service) RequestWithdrawal(ctx context.Context, accountID uuid.UUID, amount *domain.Money) (*domain.Withdrawal, error) {
	w, _, err := s.request(ctx, accountID, amount, nil)
	if err != nil {
		return nil, fmt.Errorf("RequestWithdrawal: %w", err)
	}
	s.submit(ctx, w)
	return w, nil
}

// request creates the withdrawal. With a schedule key it returns the
// withdrawal already created for that key, reporting created=false.
func (s *Service) request(ctx context.Context, accountID uuid.UUID, amount *domain.Money, scheduleKey *string) (*domain.Withdrawal, bool, error) {
	var (
		w       *domain.Withdrawal
		created bool
	)
	err := s.engine.Within(ctx, accountID, func(ctx context.Context, t *ledger.Tx) error {
		w, created = nil, false
		acct := t.Account()
		automatic := scheduleKey != nil

		if automatic {
			existing, err := s.withdrawals.GetByScheduleKey(ctx, t.SQL(), *scheduleKey)
			if err == nil {
				w = existing
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}

		if !acct.Active {
			return domain.ErrAccountInactive
		}
		if !acct.Verified {
			return domain.ErrAccountNotVerified
		}

		if _, err := s.withdrawals.GetInFlightTx(ctx, t.SQL(), acct.ID); err == nil {
			return domain.ErrWithdrawalInProgress
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		available := acct.Available()
		debit := available
		if amount != nil {
			if !amount.IsPositive() {
				return domain.ErrInvalidAmount
			}
			if amount.Currency != acct.Currency {
				return domain.ErrCurrencyMismatch
			}
			debit = *amount
		}
		if automatic && acct.CachedBalance < acct.Policy.ThresholdAmount {
			return fmt.Errorf("balance below automatic threshold: %w", domain.ErrInsufficientBalance)
		}
		if !debit.IsPositive() || debit.Amount > available.Amount {
			return fmt.Errorf("requested %s, available %s: %w", debit, available, domain.ErrInsufficientBalance)
		}

		id := uuid.New()
		res, err := t.Append(ctx, ledger.AppendRequest{
			Amount:        debit.Neg(),
			Kind:          domain.EntryKindWithdrawal,
			SourceEventID: "withdrawal:" + id.String(),
			Details:       domain.WithdrawalDetails{WithdrawalID: id, Automatic: automatic},
		})
		if err != nil {
			return err
		}

		now := t.Now()
		w = &domain.Withdrawal{
			ID:             id,
			AccountID:      acct.ID,
			Amount:         debit,
			Status:         domain.WithdrawalStatusRequested,
			Automatic:      automatic,
			ScheduleKey:    scheduleKey,
			EntryID:        res.Entry.ID,
			ReviewRequired: s.cfg.ReviewThreshold > 0 && debit.Amount > s.cfg.ReviewThreshold,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.withdrawals.Create(ctx, t.SQL(), w); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		metrics.WithdrawalOutcomes.WithLabelValues(string(domain.WithdrawalStatusRequested), strconv.FormatBool(w.Automatic)).Inc()
		log := logging.FromContext(ctx)
		log.Info("withdrawal requested",
			"withdrawal_id", w.ID,
			"account_id", w.AccountID,
			"amount", w.Amount.Amount,
			"currency", w.Amount.Currency,
			"automatic", w.Automatic,
		)
		if w.ReviewRequired {
			log.Warn("withdrawal above review threshold", "withdrawal_id", w.ID, "amount", w.Amount.Amount)
		}
	}
	return w, created, nil
}

// submit sends the withdrawal to the rail and records the acknowledgement.
// No transaction or row lock is held while the rail is called. Failures are
// logged; the runner resubmits.
func (s *Service) submit(ctx context.Context, w *domain.Withdrawal) {
	if err := s.acknowledge(ctx, w.ID); err != nil {
		logging.FromContext(ctx).Warn("payout submission failed",
			"withdrawal_id", w.ID,
			"error", err,
		)
	}
	if refreshed, err := s.withdrawals.GetByID(ctx, w.ID); err == nil {
		*w = *refreshed
	}
}

// acknowledge claims the withdrawal for submission, calls the rail and
// records the outcome. A rail refusal rejects the withdrawal, which books
// the compensating credit.
func (s *Service) acknowledge(ctx context.Context, id uuid.UUID) error {
	log := logging.FromContext(ctx)
	now := s.engine.Context().Clock.Now()

	w, err := s.withdrawals.ClaimSubmission(ctx, id, now, now.Add(-s.cfg.ResubmitAfter))
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("acknowledge: %w", err)
	}

	ref, err := s.rail.Submit(ctx, PayoutRequest{
		WithdrawalID: w.ID,
		AccountID:    w.AccountID,
		Amount:       w.Amount.Amount,
		Currency:     w.Amount.Currency,
	})
	switch {
	case errors.Is(err, domain.ErrPayoutRejected):
		if _, rerr := s.Reject(ctx, w.ID, err.Error()); rerr != nil {
			return fmt.Errorf("acknowledge: reject after %v: %w", err, rerr)
		}
		return fmt.Errorf("acknowledge: %w", err)
	case err != nil:
		if rerr := s.withdrawals.ReleaseSubmission(context.WithoutCancel(ctx), w.ID); rerr != nil {
			log.Error("release payout submission", "withdrawal_id", w.ID, "error", rerr)
		}
		return fmt.Errorf("acknowledge: %w", err)
	}

	err = s.withdrawals.Acknowledge(ctx, w.ID, ref, s.engine.Context().Clock.Now())
	if errors.Is(err, domain.ErrWithdrawalTerminal) {
		// The rail's callback finished the withdrawal before the acknowledgement landed.
		log.Debug("withdrawal finished before acknowledgement", "withdrawal_id", w.ID, "rail_reference", ref)
		return nil
	}
	if err != nil {
		return fmt.Errorf("acknowledge: %w", err)
	}

	log.Info("withdrawal acknowledged by payout rail", "withdrawal_id", w.ID, "rail_reference", ref)
	return nil
}

// Settle completes the withdrawal and its entry. Settling twice is a no-op.
func (s *Service) Settle(ctx context.Context, id uuid.UUID, railRef string) (*domain.Withdrawal, error) {
	w, err := s.finish(ctx, id, domain.WithdrawalStatusSettled, func(ctx context.Context, t *ledger.Tx, w *domain.Withdrawal) error {
		if _, err := t.MarkCompleted(ctx, w.EntryID); err != nil {
			return err
		}
		now := t.Now()
		w.SettledAt = &now
		if railRef != "" {
			w.RailReference = &railRef
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}
	return w, nil
}

// Reject fails the withdrawal's entry, which books the compensating credit.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*domain.Withdrawal, error) {
	w, err := s.finish(ctx, id, domain.WithdrawalStatusRejected, func(ctx context.Context, t *ledger.Tx, w *domain.Withdrawal) error {
		if _, _, err := t.MarkFailed(ctx, w.EntryID, reason); err != nil {
			return err
		}
		now := t.Now()
		w.RejectedAt = &now
		w.FailureReason = &reason
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Reject: %w", err)
	}
	return w, nil
}

// Cancel withdraws a request the rail has not acknowledged yet.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	const reason = "cancelled by owner"
	w, err := s.finish(ctx, id, domain.WithdrawalStatusCancelled, func(ctx context.Context, t *ledger.Tx, w *domain.Withdrawal) error {
		if w.AcknowledgedAt != nil {
			return domain.ErrWithdrawalAcknowledged
		}
		if w.SubmittingAt != nil {
			return fmt.Errorf("submission in progress: %w", domain.ErrWithdrawalAcknowledged)
		}
		if _, _, err := t.MarkFailed(ctx, w.EntryID, reason); err != nil {
			return err
		}
		now := t.Now()
		w.CancelledAt = &now
		r := reason
		w.FailureReason = &r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Cancel: %w", err)
	}
	return w, nil
}

// finish moves a requested withdrawal to target inside the account's atomic
// unit. A withdrawal already in target is returned unchanged.
func (s *Service) finish(
	ctx context.Context,
	id uuid.UUID,
	target domain.WithdrawalStatus,
	apply func(ctx context.Context, t *ledger.Tx, w *domain.Withdrawal) error,
) (*domain.Withdrawal, error) {
	current, err := s.withdrawals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		w       *domain.Withdrawal
		changed bool
	)
	err = s.engine.Within(ctx, current.AccountID, func(ctx context.Context, t *ledger.Tx) error {
		changed = false
		locked, err := s.withdrawals.GetForUpdate(ctx, t.SQL(), id)
		if err != nil {
			return err
		}
		w = locked

		switch {
		case locked.Status == target:
			return nil
		case locked.Status.IsTerminal():
			return fmt.Errorf("withdrawal %s is %s: %w", id, locked.Status, domain.ErrWithdrawalTerminal)
		}

		if err := apply(ctx, t, locked); err != nil {
			return err
		}
		locked.Status = target
		locked.UpdatedAt = t.Now()
		if err := s.withdrawals.Finish(ctx, t.SQL(), locked); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.WithdrawalOutcomes.WithLabelValues(string(target), strconv.FormatBool(w.Automatic)).Inc()
		logging.FromContext(ctx).Info("withdrawal finished",
			"withdrawal_id", w.ID,
			"account_id", w.AccountID,
			"status", target,
		)
	}
	return w, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	w, err := s.withdrawals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return w, nil
}

func (s *Service) List(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Withdrawal, error) {
	ws, err := s.withdrawals.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return ws, nil
}

// InFlight returns the account's requested withdrawal, or nil.
func (s *Service) InFlight(ctx context.Context, accountID uuid.UUID) (*domain.Withdrawal, error) {
	w, err := s.withdrawals.GetInFlight(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("InFlight: %w", err)
	}
	return w, nil
}
