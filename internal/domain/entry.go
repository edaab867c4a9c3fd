package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EntryKind string

const (
	EntryKindEarning    EntryKind = "earning"
	EntryKindWithdrawal EntryKind = "withdrawal"
	EntryKindBonus      EntryKind = "bonus"
	EntryKindServiceFee EntryKind = "service_fee"
	EntryKindRefund     EntryKind = "refund"
	EntryKindCommission EntryKind = "commission"
	EntryKindAdjustment EntryKind = "adjustment"
	EntryKindTax        EntryKind = "tax"
)

func (k EntryKind) IsValid() bool {
	switch k {
	case EntryKindEarning, EntryKindWithdrawal, EntryKindBonus, EntryKindServiceFee,
		EntryKindRefund, EntryKindCommission, EntryKindAdjustment, EntryKindTax:
		return true
	default:
		return false
	}
}

// InitialStatus is the status an entry of this kind is booked with.
// Withdrawals wait for the payout rail; everything else is final on arrival.
func (k EntryKind) InitialStatus() EntryStatus {
	if k == EntryKindWithdrawal {
		return EntryStatusPending
	}
	return EntryStatusCompleted
}

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
)

// BasisPoints is a rate in hundredths of a percent; 1200 is 12%.
type BasisPoints int64

type Entry struct {
	ID                  uuid.UUID
	AccountID           uuid.UUID
	Sequence            int64
	Amount              Money
	Kind                EntryKind
	Status              EntryStatus
	BalanceAfter        int64
	OccurredAt          time.Time
	EventTime           time.Time
	CompletedAt         *time.Time
	FailedAt            *time.Time
	FailureReason       *string
	CommissionRate      *BasisPoints
	TaxRate             *BasisPoints
	SourceEventID       string
	Details             EntryDetails
	Annotations         map[string]string
	BilledInStatementID *uuid.UUID
	CreatedAt           time.Time
}

// EntryDetails is the kind-specific payload of an entry. The set of
// implementations is closed; see DecodeDetails.
type EntryDetails interface {
	EntryKind() EntryKind
}

type EarningDetails struct {
	Category    string `json:"category,omitempty"`
	GrossAmount int64  `json:"gross_amount"`
	Role        string `json:"role,omitempty"`
}

type CommissionDetails struct {
	Category   string      `json:"category,omitempty"`
	Rate       BasisPoints `json:"rate_bps"`
	BaseAmount int64       `json:"base_amount"`
}

type TaxDetails struct {
	Rate       BasisPoints `json:"rate_bps"`
	BaseAmount int64       `json:"base_amount"`
}

type WithdrawalDetails struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	Automatic    bool      `json:"automatic"`
}

type AdjustmentDetails struct {
	CompensatesEntryID *uuid.UUID `json:"compensates_entry_id,omitempty"`
	Reason             string     `json:"reason"`
}

type BonusDetails struct {
	Reason string `json:"reason"`
}

type ServiceFeeDetails struct {
	Description string `json:"description"`
}

type RefundDetails struct {
	OriginalEventID string `json:"original_event_id"`
}

func (EarningDetails) EntryKind() EntryKind    { return EntryKindEarning }
func (CommissionDetails) EntryKind() EntryKind { return EntryKindCommission }
func (TaxDetails) EntryKind() EntryKind        { return EntryKindTax }
func (WithdrawalDetails) EntryKind() EntryKind { return EntryKindWithdrawal }
func (AdjustmentDetails) EntryKind() EntryKind { return EntryKindAdjustment }
func (BonusDetails) EntryKind() EntryKind      { return EntryKindBonus }
func (ServiceFeeDetails) EntryKind() EntryKind { return EntryKindServiceFee }
func (RefundDetails) EntryKind() EntryKind     { return EntryKindRefund }

// EncodeDetails serializes details for storage. Nil details encode as an empty object.
func EncodeDetails(kind EntryKind, d EntryDetails) ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	if d.EntryKind() != kind {
		return nil, fmt.Errorf("EncodeDetails: %s details on %s entry: %w", d.EntryKind(), kind, ErrInvalidRequest)
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("EncodeDetails: %w", err)
	}
	return b, nil
}

func DecodeDetails(kind EntryKind, raw []byte) (EntryDetails, error) {
	var (
		d   EntryDetails
		err error
	)
	switch kind {
	case EntryKindEarning:
		var v EarningDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case EntryKindCommission:
		var v CommissionDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case EntryKindTax:
		var v TaxDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case EntryKindWithdrawal:
		var v WithdrawalDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case EntryKindAdjustment:
		var v AdjustmentDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case EntryKindBonus:
		var v BonusDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case EntryKindServiceFee:
		var v ServiceFeeDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case EntryKindRefund:
		var v RefundDetails
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("DecodeDetails: unknown kind %q: %w", kind, ErrInvalidRequest)
	}
	if err != nil {
		return nil, fmt.Errorf("DecodeDetails: %s: %w", kind, err)
	}
	return d, nil
}

// CompensationEventID is the source event id of the adjustment that reverses entryID.
func CompensationEventID(entryID uuid.UUID) string {
	return "compensation:" + entryID.String()
}
