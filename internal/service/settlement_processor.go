package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

const (
	settlementBatchSize = 10
	// maxSettlementAttempts bounds how often a callback that keeps failing is retried.
	maxSettlementAttempts = 5
)

// SettlementProcessor applies stored payout rail callbacks to withdrawals.
type SettlementProcessor struct {
	events      settlementEventRepository
	withdrawals withdrawalFinisher
	logger      *slog.Logger
	interval    time.Duration
	lease       time.Duration
}

func NewSettlementProcessor(
	events settlementEventRepository,
	withdrawals withdrawalFinisher,
	logger *slog.Logger,
	interval time.Duration,
) *SettlementProcessor {
	return &SettlementProcessor{
		events:      events,
		withdrawals: withdrawals,
		logger:      logger,
		interval:    interval,
		lease:       30 * time.Second,
	}
}

func (p *SettlementProcessor) Start(ctx context.Context) {
	p.logger.Info("settlement processor started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("settlement processor stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *SettlementProcessor) poll(ctx context.Context) {
	ctx, log := logging.StartRun(ctx, p.logger, "settlement_processor")

	events, err := p.events.ClaimPending(ctx, settlementBatchSize, p.lease)
	if err != nil {
		log.Error("failed to claim settlement events", "error", err)
		return
	}

	for _, event := range events {
		ectx := logging.WithAttrs(ctx, "settlement_event_id", event.ID, "withdrawal_id", event.WithdrawalID)
		if err := p.processEvent(ectx, event); err != nil {
			logging.FromContext(ectx).Error("failed to process settlement event",
				"attempts", event.Attempts,
				"error", err,
			)
		}
	}
}

func (p *SettlementProcessor) processEvent(ctx context.Context, event domain.SettlementEvent) error {
	log := logging.FromContext(ctx)

	var payload domain.PayoutCallback
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		log.Error("malformed settlement payload", "error", err)
		return p.events.UpdateStatus(ctx, event.ID, domain.SettlementEventStatusFailed)
	}

	var err error
	switch event.Outcome {
	case domain.SettlementOutcomeSettled:
		_, err = p.withdrawals.Settle(ctx, event.WithdrawalID, payload.RailReference)
	case domain.SettlementOutcomeRejected:
		reason := payload.Reason
		if reason == "" {
			reason = "rejected by payout rail"
		}
		_, err = p.withdrawals.Reject(ctx, event.WithdrawalID, reason)
	default:
		log.Error("unknown settlement outcome", "outcome", event.Outcome)
		return p.events.UpdateStatus(ctx, event.ID, domain.SettlementEventStatusFailed)
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrWithdrawalTerminal):
		log.Warn("withdrawal already finished with another outcome", "outcome", event.Outcome)
	case errors.Is(err, domain.ErrNotFound):
		log.Warn("withdrawal not found for settlement")
		return p.events.UpdateStatus(ctx, event.ID, domain.SettlementEventStatusFailed)
	default:
		if event.Attempts >= maxSettlementAttempts {
			log.Error("giving up on settlement event", "attempts", event.Attempts, "error", err)
			return p.events.UpdateStatus(ctx, event.ID, domain.SettlementEventStatusFailed)
		}
		return fmt.Errorf("processEvent: %w", err)
	}

	return p.events.UpdateStatus(ctx, event.ID, domain.SettlementEventStatusProcessed)
}
