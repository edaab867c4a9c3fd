package billing

import (
	"time"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// Floor returns the cadence boundary at or before t: Monday 00:00 UTC for
// weekly billing, the first of the month 00:00 UTC for monthly.
func Floor(cadence domain.BillingCadence, t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if cadence == domain.BillingCadenceWeekly {
		sinceMonday := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -sinceMonday)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Next returns the first cadence boundary strictly after t.
func Next(cadence domain.BillingCadence, t time.Time) time.Time {
	floor := Floor(cadence, t)
	if cadence == domain.BillingCadenceWeekly {
		return floor.AddDate(0, 0, 7)
	}
	return floor.AddDate(0, 1, 0)
}

// NextPeriod is the window the account's next statement covers. The first
// window starts at the boundary containing the account's creation; later ones
// start where the previous statement ended.
func NextPeriod(acct *domain.Account, last *domain.Statement) domain.Period {
	start := Floor(acct.BillingCadence, acct.CreatedAt)
	if last != nil {
		start = last.Period.End
	}
	return domain.Period{Start: start, End: Next(acct.BillingCadence, start)}
}
