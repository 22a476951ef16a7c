package invoices

import (
	"time"

	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
)

// DateOf truncates t to its calendar date in loc, expressed as UTC midnight so
// dates compare without timezone drift.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Clock yields "today" in the business timezone.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock builds a clock for loc; a nil now defaults to time.Now.
func NewClock(loc *time.Location, now func() time.Time) Clock {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return Clock{loc: loc, now: now}
}

// Now returns the current instant.
func (c Clock) Now() time.Time {
	if c.now == nil {
		return time.Now().UTC()
	}
	return c.now().UTC()
}

// Today returns the current calendar date.
func (c Clock) Today() time.Time {
	return DateOf(c.Now(), c.loc)
}

func dueDate(inv models.Invoice) time.Time {
	y, m, d := inv.DueDate.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsOverdue is derived: an open invoice whose due date has passed.
func IsOverdue(inv models.Invoice, today time.Time) bool {
	if inv.Status.IsTerminal() {
		return false
	}
	return today.After(dueDate(inv))
}

// EffectiveStatus is the display status; transition logic uses the stored one.
func EffectiveStatus(inv models.Invoice, today time.Time) enums.InvoiceStatus {
	if IsOverdue(inv, today) {
		return enums.InvoiceStatusOverdue
	}
	return inv.Status
}
