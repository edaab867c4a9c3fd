package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SettlementEventStatus string

const (
	SettlementEventStatusPending   SettlementEventStatus = "pending"
	SettlementEventStatusProcessed SettlementEventStatus = "processed"
	SettlementEventStatusFailed    SettlementEventStatus = "failed"
)

type SettlementOutcome string

const (
	SettlementOutcomeSettled  SettlementOutcome = "settled"
	SettlementOutcomeRejected SettlementOutcome = "rejected"
)

// SettlementEvent is a payout rail callback stored for asynchronous processing.
type SettlementEvent struct {
	ID             uuid.UUID
	IdempotencyKey string
	WithdrawalID   uuid.UUID
	Outcome        SettlementOutcome
	Payload        json.RawMessage
	Status         SettlementEventStatus
	Attempts       int
	LastAttempt    *time.Time
	CreatedAt      time.Time
}

// PayoutCallback is the body the payout rail posts when a payout finishes.
type PayoutCallback struct {
	EventID       string `json:"event_id"`
	WithdrawalID  string `json:"withdrawal_id"`
	Status        string `json:"status"`
	RailReference string `json:"rail_reference,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
