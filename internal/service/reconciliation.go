package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/incident"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
)

const auditPageSize = 100

// Auditor replays every account and reports, never repairs, any disagreement
// between the cached balance and the entry log.
type Auditor struct {
	engine    *ledger.Engine
	accounts  accountRepository
	incidents incidentRepository
	runs      auditRunRepository
	publisher incident.Publisher
	clock     ledger.Clock
	logger    *slog.Logger
	interval  time.Duration
}

func NewAuditor(
	engine *ledger.Engine,
	accounts accountRepository,
	incidents incidentRepository,
	runs auditRunRepository,
	publisher incident.Publisher,
	logger *slog.Logger,
	interval time.Duration,
) *Auditor {
	return &Auditor{
		engine:    engine,
		accounts:  accounts,
		incidents: incidents,
		runs:      runs,
		publisher: publisher,
		clock:     engine.Context().Clock,
		logger:    logger,
		interval:  interval,
	}
}

func (a *Auditor) Start(ctx context.Context) {
	a.logger.Info("reconciliation auditor started", "interval", a.interval)

	tick := a.interval
	if tick > time.Minute {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("reconciliation auditor stopped")
			return
		case <-ticker.C:
			a.poll(ctx)
		}
	}
}

func (a *Auditor) poll(ctx context.Context) {
	ctx, log := logging.StartRun(ctx, a.logger, "auditor")

	due, err := a.due(ctx)
	if err != nil {
		log.Error("failed to check audit schedule", "error", err)
		return
	}
	if !due {
		return
	}
	if _, err := a.Run(ctx); err != nil {
		log.Error("audit run failed", "error", err)
	}
}

// due reports whether interval has passed since the last finished run.
func (a *Auditor) due(ctx context.Context) (bool, error) {
	last, err := a.runs.LastFinishedAt(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !a.clock.Now().Before(last.Add(a.interval)), nil
}

// Run audits every account once and records the run.
func (a *Auditor) Run(ctx context.Context) (*domain.AuditRun, error) {
	log := logging.FromContext(ctx)

	run := &domain.AuditRun{ID: uuid.New(), StartedAt: a.clock.Now().UTC()}
	if err := a.runs.Start(ctx, run); err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}

	after := uuid.Nil
	for {
		accounts, err := a.accounts.ListPage(ctx, after, auditPageSize)
		if err != nil {
			return nil, fmt.Errorf("Run: %w", err)
		}
		for _, acct := range accounts {
			found, err := a.AuditAccount(ctx, acct.ID)
			if err != nil {
				log.Error("failed to audit account", "account_id", acct.ID, "error", err)
				continue
			}
			run.AccountsChecked++
			run.IncidentsFound += len(found)
		}
		if len(accounts) < auditPageSize {
			break
		}
		after = accounts[len(accounts)-1].ID
	}

	finished := a.clock.Now().UTC()
	run.FinishedAt = &finished
	if err := a.runs.Finish(ctx, run); err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}

	log.Info("audit run finished",
		"audit_run_id", run.ID,
		"accounts_checked", run.AccountsChecked,
		"incidents_found", run.IncidentsFound,
		"duration_ms", finished.Sub(run.StartedAt).Milliseconds(),
	)
	return run, nil
}

// AuditAccount replays one account and returns the incidents it detected.
// Incidents already open for the same figures are not recorded or published again.
func (a *Auditor) AuditAccount(ctx context.Context, accountID uuid.UUID) ([]domain.DriftIncident, error) {
	log := logging.FromContext(ctx)

	res, err := a.engine.Replay(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("AuditAccount: %w", err)
	}
	metrics.AccountsAudited.Inc()

	found := detect(res, a.clock.Now().UTC())
	for i := range found {
		inc := &found[i]
		created, err := a.incidents.Record(ctx, inc)
		if err != nil {
			return nil, fmt.Errorf("AuditAccount: %w", err)
		}
		if !created {
			continue
		}

		metrics.DriftIncidents.WithLabelValues(string(inc.Kind)).Inc()
		log.Error("ledger drift detected",
			"incident_id", inc.ID,
			"account_id", inc.AccountID,
			"kind", inc.Kind,
			"cached_balance", inc.CachedBalance,
			"replayed_balance", inc.ReplayedBalance,
			"error", domain.ErrLedgerDrift,
		)
		if a.publisher != nil {
			if err := a.publisher.Publish(ctx, inc); err != nil {
				log.Warn("failed to publish incident", "incident_id", inc.ID, "error", err)
			}
		}
	}
	return found, nil
}

func detect(res *ledger.ReplayResult, now time.Time) []domain.DriftIncident {
	var found []domain.DriftIncident
	if drift := res.Drift(); drift != 0 {
		found = append(found, domain.DriftIncident{
			ID:              uuid.New(),
			AccountID:       res.AccountID,
			Kind:            domain.IncidentKindBalanceDrift,
			Currency:        res.Currency,
			CachedBalance:   res.CachedBalance,
			ReplayedBalance: res.ReplayedBalance,
			Detail:          fmt.Sprintf("cached balance differs from %d replayed entries by %d", res.Entries, drift),
			DetectedAt:      now,
		})
	}
	for _, b := range res.ChainBreaks {
		found = append(found, domain.DriftIncident{
			ID:              uuid.New(),
			AccountID:       res.AccountID,
			Kind:            domain.IncidentKindChainBreak,
			Currency:        res.Currency,
			CachedBalance:   b.Actual,
			ReplayedBalance: b.Expected,
			Detail:          fmt.Sprintf("entry %s at sequence %d records balance_after %d, expected %d", b.EntryID, b.Sequence, b.Actual, b.Expected),
			DetectedAt:      now,
		})
	}
	return found
}

func (a *Auditor) ListIncidents(ctx context.Context, limit int) ([]domain.DriftIncident, error) {
	incidents, err := a.incidents.ListOpen(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ListIncidents: %w", err)
	}
	return incidents, nil
}

// ResolveIncident closes an incident once an operator has dealt with it.
func (a *Auditor) ResolveIncident(ctx context.Context, id uuid.UUID, by string) (*domain.DriftIncident, error) {
	if by == "" {
		return nil, fmt.Errorf("ResolveIncident: resolver required: %w", domain.ErrInvalidRequest)
	}
	if err := a.incidents.Resolve(ctx, id, by, a.clock.Now().UTC()); err != nil {
		return nil, fmt.Errorf("ResolveIncident: %w", err)
	}
	inc, err := a.incidents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ResolveIncident: %w", err)
	}
	logging.FromContext(ctx).Info("incident resolved", "incident_id", id, "resolved_by", by)
	return inc, nil
}
