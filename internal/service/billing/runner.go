package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

const pageSize = 100

// Runner brings every account's statements up to date on a fixed interval.
// Progress is read from the persisted statements, so restarts lose nothing.
type Runner struct {
	svc      *Service
	logger   *slog.Logger
	interval time.Duration
}

func NewRunner(svc *Service, logger *slog.Logger, interval time.Duration) *Runner {
	return &Runner{svc: svc, logger: logger, interval: interval}
}

func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("billing runner started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("billing runner stopped")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Runner) poll(ctx context.Context) {
	ctx, log := logging.StartRun(ctx, r.logger, "billing_runner")
	now := r.svc.engine.Context().Clock.Now()

	after := uuid.Nil
	total := 0
	for {
		accounts, err := r.svc.accounts.ListPage(ctx, after, pageSize)
		if err != nil {
			log.Error("failed to list accounts for billing", "error", err)
			return
		}
		for _, acct := range accounts {
			n, err := r.svc.CatchUp(ctx, acct.ID, now)
			if err != nil {
				log.Error("billing failed", "account_id", acct.ID, "error", err)
			}
			total += n
		}
		if len(accounts) < pageSize {
			break
		}
		after = accounts[len(accounts)-1].ID
	}

	if total > 0 {
		log.Info("billing pass complete", "statements", total)
	}
}
