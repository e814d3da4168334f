package billing

import "time"

// =============================================================================
// BILLING CYCLE - when a lease's monthly invoice fires
// =============================================================================

// Cycle describes a lease's monthly billing schedule. BillingDay is kept in
// 1..28 so every month has the day.
type Cycle struct {
	BillingDay int
	Start      time.Time
	End        *time.Time // inclusive; nil means open-ended
}

// CycleFor returns the cycle of a lease.
func CycleFor(l Lease) Cycle {
	return Cycle{BillingDay: l.BillingDay, Start: l.StartDate, End: l.EndDate}
}

// IssueDates returns every issue date d with after < d <= through that falls
// inside [Start, End]. after == nil means nothing has been billed yet.
func (c Cycle) IssueDates(after *time.Time, through time.Time) []time.Time {
	if c.BillingDay < 1 || c.BillingDay > 28 {
		return nil
	}

	start := DateOnly(c.Start)
	limit := DateOnly(through)
	if c.End != nil && DateOnly(*c.End).Before(limit) {
		limit = DateOnly(*c.End)
	}

	var dates []time.Time
	d := time.Date(start.Year(), start.Month(), c.BillingDay, 0, 0, 0, 0, time.UTC)
	if d.Before(start) {
		d = d.AddDate(0, 1, 0)
	}
	for !d.After(limit) {
		if after == nil || d.After(DateOnly(*after)) {
			dates = append(dates, d)
		}
		d = d.AddDate(0, 1, 0)
	}
	return dates
}

// DueDate is the issue date plus the configured grace days.
func DueDate(issue time.Time, dueDays int) time.Time {
	return DateOnly(issue).AddDate(0, 0, dueDays)
}
