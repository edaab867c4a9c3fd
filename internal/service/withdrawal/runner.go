package withdrawal

import (
	"context"
	"log/slog"
	"time"

	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

// Runner drives automatic payouts and rail resubmission on a fixed interval.
type Runner struct {
	svc      *Service
	logger   *slog.Logger
	interval time.Duration
}

func NewRunner(svc *Service, logger *slog.Logger, interval time.Duration) *Runner {
	return &Runner{svc: svc, logger: logger, interval: interval}
}

func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("withdrawal runner started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("withdrawal runner stopped")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Runner) poll(ctx context.Context) {
	ctx, log := logging.StartRun(ctx, r.logger, "withdrawal_runner")
	now := r.svc.engine.Context().Clock.Now()

	created, err := r.svc.RunAutomatic(ctx, now)
	if err != nil {
		log.Error("automatic withdrawals failed", "error", err)
	} else if created > 0 {
		log.Info("automatic withdrawals requested", "count", created)
	}

	if _, err := r.svc.ResubmitUnacknowledged(ctx, now); err != nil {
		log.Error("payout resubmission failed", "error", err)
	}
}
