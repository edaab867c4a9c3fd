package domain

import (
	"time"

	"github.com/google/uuid"
)

// Period is a half-open interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) Overlaps(o Period) bool {
	return p.Start.Before(o.End) && o.Start.Before(p.End)
}

func (p Period) Equal(o Period) bool {
	return p.Start.Equal(o.Start) && p.End.Equal(o.End)
}

type Statement struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Cadence     BillingCadence
	Period      Period
	Currency    Currency
	GrossAmount int64
	NetAmount   int64
	EntryCount  int
	LineItems   []uuid.UUID
	CreatedAt   time.Time
}
