package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/service"
)

// moneyDTO renders amounts as fixed two-decimal strings so clients never see floats.
type moneyDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func toMoneyDTO(m domain.Money) moneyDTO {
	return moneyDTO{Amount: m.Decimal().StringFixed(2), Currency: string(m.Currency)}
}

type policyDTO struct {
	MinimumAmount       string `json:"minimum_amount"`
	Automatic           bool   `json:"automatic"`
	ThresholdAmount     string `json:"threshold_amount"`
	ScheduledDayOfMonth int    `json:"scheduled_day_of_month"`
}

type accountDTO struct {
	ID             uuid.UUID `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Kind           string    `json:"kind"`
	Currency       string    `json:"currency"`
	Balance        moneyDTO  `json:"balance"`
	Verified       bool      `json:"verified"`
	Active         bool      `json:"active"`
	BillingCadence string    `json:"billing_cadence"`
	Policy         policyDTO `json:"withdrawal_policy"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toAccountDTO(a *domain.Account) accountDTO {
	return accountDTO{
		ID:             a.ID,
		OwnerID:        a.OwnerID,
		Kind:           string(a.Kind),
		Currency:       string(a.Currency),
		Balance:        toMoneyDTO(a.Balance()),
		Verified:       a.Verified,
		Active:         a.Active,
		BillingCadence: string(a.BillingCadence),
		Policy: policyDTO{
			MinimumAmount:       domain.NewMoney(a.Policy.MinimumAmount, a.Currency).Decimal().StringFixed(2),
			Automatic:           a.Policy.Automatic,
			ThresholdAmount:     domain.NewMoney(a.Policy.ThresholdAmount, a.Currency).Decimal().StringFixed(2),
			ScheduledDayOfMonth: a.Policy.ScheduledDayOfMonth,
		},
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type periodDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type summaryDTO struct {
	Account            accountDTO     `json:"account"`
	Balance            moneyDTO       `json:"balance"`
	Available          moneyDTO       `json:"available"`
	TotalEarned        moneyDTO       `json:"total_earned"`
	TotalWithdrawn     moneyDTO       `json:"total_withdrawn"`
	EarningsThisPeriod moneyDTO       `json:"earnings_this_period"`
	PendingWithdrawals moneyDTO       `json:"pending_withdrawals"`
	Period             periodDTO      `json:"period"`
	WithdrawalState    string         `json:"withdrawal_state"`
	InFlight           *withdrawalDTO `json:"in_flight_withdrawal"`
}

func toSummaryDTO(s *service.AccountSummary) summaryDTO {
	dto := summaryDTO{
		Account:            toAccountDTO(s.Account),
		Balance:            toMoneyDTO(s.Balance),
		Available:          toMoneyDTO(s.Available),
		TotalEarned:        toMoneyDTO(s.TotalEarned),
		TotalWithdrawn:     toMoneyDTO(s.TotalWithdrawn),
		EarningsThisPeriod: toMoneyDTO(s.EarningsThisPeriod),
		PendingWithdrawals: toMoneyDTO(s.PendingWithdrawals),
		Period:             periodDTO{Start: s.Period.Start, End: s.Period.End},
		WithdrawalState:    string(s.WithdrawalState),
	}
	if s.InFlight != nil {
		w := toWithdrawalDTO(s.InFlight)
		dto.InFlight = &w
	}
	return dto
}

type entryDTO struct {
	ID             uuid.UUID           `json:"id"`
	AccountID      uuid.UUID           `json:"account_id"`
	Sequence       int64               `json:"sequence"`
	Kind           string              `json:"kind"`
	Status         string              `json:"status"`
	Amount         moneyDTO            `json:"amount"`
	BalanceAfter   moneyDTO            `json:"balance_after"`
	SourceEventID  string              `json:"source_event_id"`
	CommissionRate *domain.BasisPoints `json:"commission_rate_bps,omitempty"`
	TaxRate        *domain.BasisPoints `json:"tax_rate_bps,omitempty"`
	Details        domain.EntryDetails `json:"details,omitempty"`
	Annotations    map[string]string   `json:"annotations,omitempty"`
	StatementID    *uuid.UUID          `json:"statement_id,omitempty"`
	FailureReason  *string             `json:"failure_reason,omitempty"`
	OccurredAt     time.Time           `json:"occurred_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	FailedAt       *time.Time          `json:"failed_at,omitempty"`
}

func toEntryDTO(e *domain.Entry) entryDTO {
	return entryDTO{
		ID:             e.ID,
		AccountID:      e.AccountID,
		Sequence:       e.Sequence,
		Kind:           string(e.Kind),
		Status:         string(e.Status),
		Amount:         toMoneyDTO(e.Amount),
		BalanceAfter:   toMoneyDTO(domain.NewMoney(e.BalanceAfter, e.Amount.Currency)),
		SourceEventID:  e.SourceEventID,
		CommissionRate: e.CommissionRate,
		TaxRate:        e.TaxRate,
		Details:        e.Details,
		Annotations:    e.Annotations,
		StatementID:    e.BilledInStatementID,
		FailureReason:  e.FailureReason,
		OccurredAt:     e.OccurredAt,
		CompletedAt:    e.CompletedAt,
		FailedAt:       e.FailedAt,
	}
}

type withdrawalDTO struct {
	ID             uuid.UUID  `json:"id"`
	AccountID      uuid.UUID  `json:"account_id"`
	Amount         moneyDTO   `json:"amount"`
	Status         string     `json:"status"`
	Automatic      bool       `json:"automatic"`
	EntryID        uuid.UUID  `json:"entry_id"`
	RailReference  *string    `json:"rail_reference,omitempty"`
	ReviewRequired bool       `json:"review_required"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	SettledAt      *time.Time `json:"settled_at,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toWithdrawalDTO(w *domain.Withdrawal) withdrawalDTO {
	return withdrawalDTO{
		ID:             w.ID,
		AccountID:      w.AccountID,
		Amount:         toMoneyDTO(w.Amount),
		Status:         string(w.Status),
		Automatic:      w.Automatic,
		EntryID:        w.EntryID,
		RailReference:  w.RailReference,
		ReviewRequired: w.ReviewRequired,
		FailureReason:  w.FailureReason,
		AcknowledgedAt: w.AcknowledgedAt,
		SettledAt:      w.SettledAt,
		RejectedAt:     w.RejectedAt,
		CancelledAt:    w.CancelledAt,
		CreatedAt:      w.CreatedAt,
	}
}

type statementDTO struct {
	ID         uuid.UUID   `json:"id"`
	AccountID  uuid.UUID   `json:"account_id"`
	Cadence    string      `json:"cadence"`
	Period     periodDTO   `json:"period"`
	Gross      moneyDTO    `json:"gross"`
	Net        moneyDTO    `json:"net"`
	EntryCount int         `json:"entry_count"`
	LineItems  []uuid.UUID `json:"line_items,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func toStatementDTO(s *domain.Statement) statementDTO {
	return statementDTO{
		ID:         s.ID,
		AccountID:  s.AccountID,
		Cadence:    string(s.Cadence),
		Period:     periodDTO{Start: s.Period.Start, End: s.Period.End},
		Gross:      toMoneyDTO(domain.NewMoney(s.GrossAmount, s.Currency)),
		Net:        toMoneyDTO(domain.NewMoney(s.NetAmount, s.Currency)),
		EntryCount: s.EntryCount,
		LineItems:  s.LineItems,
		CreatedAt:  s.CreatedAt,
	}
}

type incidentDTO struct {
	ID              uuid.UUID  `json:"id"`
	AccountID       uuid.UUID  `json:"account_id"`
	Kind            string     `json:"kind"`
	CachedBalance   moneyDTO   `json:"cached_balance"`
	ReplayedBalance moneyDTO   `json:"replayed_balance"`
	Difference      moneyDTO   `json:"difference"`
	Detail          string     `json:"detail,omitempty"`
	DetectedAt      time.Time  `json:"detected_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      *string    `json:"resolved_by,omitempty"`
}

func toIncidentDTO(i *domain.DriftIncident) incidentDTO {
	return incidentDTO{
		ID:              i.ID,
		AccountID:       i.AccountID,
		Kind:            string(i.Kind),
		CachedBalance:   toMoneyDTO(domain.NewMoney(i.CachedBalance, i.Currency)),
		ReplayedBalance: toMoneyDTO(domain.NewMoney(i.ReplayedBalance, i.Currency)),
		Difference:      toMoneyDTO(domain.NewMoney(i.Difference(), i.Currency)),
		Detail:          i.Detail,
		DetectedAt:      i.DetectedAt,
		ResolvedAt:      i.ResolvedAt,
		ResolvedBy:      i.ResolvedBy,
	}
}
