package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

// ScheduledDay is the day of now's month on which the policy pays out.
// Days past the end of the month fall on its last day; zero means today.
func ScheduledDay(policy domain.WithdrawalPolicy, now time.Time) int {
	if policy.ScheduledDayOfMonth <= 0 {
		return now.Day()
	}
	last := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	return min(policy.ScheduledDayOfMonth, last)
}

func Due(policy domain.WithdrawalPolicy, now time.Time) bool {
	return policy.Automatic && now.Day() == ScheduledDay(policy, now)
}

// ScheduleKey identifies the account's single automatic payout slot for
// now's month. Accounts without a fixed day share one slot per month, taken
// by the first day they are due.
func ScheduleKey(accountID uuid.UUID, policy domain.WithdrawalPolicy, now time.Time) string {
	month := now.UTC().Format("2006-01")
	if policy.ScheduledDayOfMonth <= 0 {
		return fmt.Sprintf("auto:%s:%s:any", accountID, month)
	}
	return fmt.Sprintf("auto:%s:%s:%d", accountID, month, ScheduledDay(policy, now))
}

// RunAutomatic requests the full available balance for every automatic
// account that is due on now's date and at or above its threshold. It
// returns the number of withdrawals created.
func (s *Service) RunAutomatic(ctx context.Context, now time.Time) (int, error) {
	log := logging.FromContext(ctx)
	now = now.UTC()

	accounts, err := s.accounts.ListAutoWithdrawalCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("RunAutomatic: %w", err)
	}

	created := 0
	for _, acct := range accounts {
		if !Due(acct.Policy, now) || acct.CachedBalance < acct.Policy.ThresholdAmount {
			continue
		}

		key := ScheduleKey(acct.ID, acct.Policy, now)
		w, isNew, err := s.request(ctx, acct.ID, nil, &key)
		switch {
		case err == nil && isNew:
			created++
			s.submit(ctx, w)
		case err == nil:
			log.Debug("automatic withdrawal already scheduled", "account_id", acct.ID, "schedule_key", key)
		case errors.Is(err, domain.ErrInsufficientBalance),
			errors.Is(err, domain.ErrWithdrawalInProgress),
			errors.Is(err, domain.ErrAccountNotVerified),
			errors.Is(err, domain.ErrAccountInactive):
			log.Debug("automatic withdrawal skipped", "account_id", acct.ID, "reason", err)
		default:
			log.Error("automatic withdrawal failed", "account_id", acct.ID, "error", err)
		}
	}
	return created, nil
}

// ResubmitUnacknowledged retries the rail for requests older than the
// configured grace period that were never acknowledged.
func (s *Service) ResubmitUnacknowledged(ctx context.Context, now time.Time) (int, error) {
	pending, err := s.withdrawals.ListUnacknowledged(ctx, now.Add(-s.cfg.ResubmitAfter), 50)
	if err != nil {
		return 0, fmt.Errorf("ResubmitUnacknowledged: %w", err)
	}

	acked := 0
	for i := range pending {
		w := &pending[i]
		if err := s.acknowledge(ctx, w.ID); err != nil {
			logging.FromContext(ctx).Warn("payout resubmission failed", "withdrawal_id", w.ID, "error", err)
			continue
		}
		acked++
	}
	return acked, nil
}
