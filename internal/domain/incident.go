package domain

import (
	"time"

	"github.com/google/uuid"
)

type IncidentKind string

const (
	IncidentKindBalanceDrift IncidentKind = "balance_drift"
	IncidentKindChainBreak   IncidentKind = "chain_break"
)

// DriftIncident records a disagreement between an account's cached balance and its replayed ledger.
type DriftIncident struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	Kind            IncidentKind
	Currency        Currency
	CachedBalance   int64
	ReplayedBalance int64
	Detail          string
	DetectedAt      time.Time
	ResolvedAt      *time.Time
	ResolvedBy      *string
}

func (i *DriftIncident) Difference() int64 {
	return i.CachedBalance - i.ReplayedBalance
}

type AuditRun struct {
	ID              uuid.UUID
	StartedAt       time.Time
	FinishedAt      *time.Time
	AccountsChecked int
	IncidentsFound  int
}
