package commission

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
)

// PayableEvent is a completed delivery or service that earns the account money.
type PayableEvent struct {
	EventID    string
	Role       string
	Category   string
	Gross      domain.Money
	OccurredAt time.Time
}

type Calculator struct {
	table *Table
}

func NewCalculator(table *Table) *Calculator {
	return &Calculator{table: table}
}

func (c *Calculator) Table() *Table { return c.table }

// Entries splits a payable event into its Earning entry and, for non-zero
// rates, negative Commission and Tax entries on the gross amount.
func (c *Calculator) Entries(ev PayableEvent) ([]ledger.AppendRequest, error) {
	if ev.EventID == "" {
		return nil, fmt.Errorf("Entries: event id required: %w", domain.ErrInvalidRequest)
	}
	if !ev.Gross.IsPositive() {
		return nil, fmt.Errorf("Entries: %w", domain.ErrInvalidAmount)
	}
	rates, err := c.table.Lookup(ev.Role, ev.Category)
	if err != nil {
		return nil, fmt.Errorf("Entries: %w", err)
	}

	gross := ev.Gross.Amount
	reqs := []ledger.AppendRequest{{
		Amount:        ev.Gross,
		Kind:          domain.EntryKindEarning,
		SourceEventID: ev.EventID,
		OccurredAt:    ev.OccurredAt,
		Details: domain.EarningDetails{
			Category:    ev.Category,
			GrossAmount: gross,
			Role:        ev.Role,
		},
	}}

	if fee := Apply(gross, rates.Commission); fee > 0 {
		rate := rates.Commission
		reqs = append(reqs, ledger.AppendRequest{
			Amount:         domain.NewMoney(-fee, ev.Gross.Currency),
			Kind:           domain.EntryKindCommission,
			SourceEventID:  ev.EventID,
			OccurredAt:     ev.OccurredAt,
			CommissionRate: &rate,
			Details: domain.CommissionDetails{
				Category:   ev.Category,
				Rate:       rate,
				BaseAmount: gross,
			},
		})
	}

	if tax := Apply(gross, rates.Tax); tax > 0 {
		rate := rates.Tax
		reqs = append(reqs, ledger.AppendRequest{
			Amount:        domain.NewMoney(-tax, ev.Gross.Currency),
			Kind:          domain.EntryKindTax,
			SourceEventID: ev.EventID,
			OccurredAt:    ev.OccurredAt,
			TaxRate:       &rate,
			Details: domain.TaxDetails{
				Rate:       rate,
				BaseAmount: gross,
			},
		})
	}

	return reqs, nil
}

// Apply returns minor * bps / 10000, rounded half-to-even to whole minor units.
func Apply(minor int64, bps domain.BasisPoints) int64 {
	if bps == 0 || minor == 0 {
		return 0
	}
	return decimal.NewFromInt(minor).
		Mul(decimal.NewFromInt(int64(bps))).
		Div(decimal.NewFromInt(int64(maxBasisPoints))).
		RoundBank(0).
		IntPart()
}
