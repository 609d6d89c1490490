// Package calendar implements simulated time: integer-day arithmetic from a
// configured start date and the working-day predicate of spec.md §4.1.
package calendar

import "time"

// Calendar converts between absolute dates and integer day offsets from a
// fixed start date. All simulation time arithmetic goes through here so
// that no float or wall-clock value ever enters a Visit record (spec.md §3
// invariant: "no float time values are stored").
type Calendar struct {
	start time.Time
}

// New returns a Calendar anchored at start, normalized to midnight UTC.
func New(start time.Time) *Calendar {
	y, m, d := start.Date()
	return &Calendar{start: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Start returns the anchor date.
func (c *Calendar) Start() time.Time { return c.start }

// DateAt returns the absolute date for a given day offset.
func (c *Calendar) DateAt(dayOffset int) time.Time {
	return c.start.AddDate(0, 0, dayOffset)
}

// DayOffset returns the integer day count between the anchor and d, per
// spec.md §3: "time_days for a visit equals (visit.date - simulation.start_date)
// in integer days".
func (c *Calendar) DayOffset(d time.Time) int {
	y, m, dd := d.Date()
	norm := time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
	return int(norm.Sub(c.start).Hours() / 24)
}

// IsWorkingDay excludes Saturday/Sunday.
func IsWorkingDay(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// NextWorkingDay rounds d forward to the next working day, returning d
// itself when it is already a working day. This is the "only locally
// recovered condition" of spec.md §7.
func NextWorkingDay(d time.Time) time.Time {
	for !IsWorkingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// AddWorkingDays returns the date offset days from d, rounded forward to
// the next working day if the computed due-date falls on a weekend
// (spec.md §4.1).
func AddWorkingDays(d time.Time, offset int) time.Time {
	return NextWorkingDay(d.AddDate(0, 0, offset))
}

// DurationDays converts a configured duration in years into an integer day
// count, per spec.md §4.1 ("duration in years, converted to an integer day
// count"). A Gregorian year is treated as 365.25 days, truncated.
func DurationDays(years float64) int {
	return int(years * 365.25)
}

// FortnightTicks returns how many complete 14-day ticks have elapsed
// between two day offsets, used by the Disease/Vision models to advance
// all intervening fortnightly ticks (spec.md §4.9 step 1).
func FortnightTicks(fromDay, toDay int) int {
	if toDay <= fromDay {
		return 0
	}
	return (toDay - fromDay) / 14
}
