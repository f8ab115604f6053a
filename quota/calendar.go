/*
calendar.go - The single day-boundary rule

PURPOSE:
  Maps timestamps to calendar-day keys. Every component that compares
  "today" must go through the same Calendar value; computing dates
  locally (or mixing local time with UTC between the read and write
  paths) is the bug class this file exists to eliminate.

DAY BOUNDARY:
  The boundary is a fixed UTC offset in whole hours. Offset 0 means days
  roll over at UTC midnight; offset 8 rolls over at midnight UTC+8,
  which is what the original product used. The offset is part of process
  configuration and never changes at runtime.

SEE ALSO:
  - engine.go: computes the DayKey once per operation and reuses it
  - streak.go: walks DayKeys backwards one day at a time
*/
package quota

import (
	"fmt"
	"time"
)

// DayKey is a calendar-day identifier in YYYY-MM-DD form, produced by a
// single fixed boundary rule. Lexical order equals chronological order.
type DayKey string

// Calendar resolves timestamps to DayKeys using a fixed boundary offset.
// The zero value uses UTC midnight.
type Calendar struct {
	offset time.Duration
}

// NewCalendar returns a Calendar whose days roll over at midnight in the
// fixed zone UTC+offsetHours.
func NewCalendar(offsetHours int) Calendar {
	return Calendar{offset: time.Duration(offsetHours) * time.Hour}
}

// DayKeyOf maps an instant to its calendar day. Pure and total.
func (c Calendar) DayKeyOf(at time.Time) DayKey {
	return DayKey(at.UTC().Add(c.offset).Format("2006-01-02"))
}

// Today is shorthand for DayKeyOf(time.Now()). Operations that take an
// explicit "now" should prefer DayKeyOf so tests control the clock.
func (c Calendar) Today() DayKey {
	return c.DayKeyOf(time.Now())
}

// =============================================================================
// DAYKEY ARITHMETIC
// =============================================================================

// Prev returns the calendar day before d.
func (d DayKey) Prev() DayKey { return d.AddDays(-1) }

// Next returns the calendar day after d.
func (d DayKey) Next() DayKey { return d.AddDays(1) }

// AddDays returns d shifted by n calendar days.
func (d DayKey) AddDays(n int) DayKey {
	t, err := d.Time()
	if err != nil {
		return d
	}
	return DayKey(t.AddDate(0, 0, n).Format("2006-01-02"))
}

// Time parses the key back to midnight UTC of that day.
func (d DayKey) Time() (time.Time, error) {
	t, err := time.Parse("2006-01-02", string(d))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day key %q: %w", d, err)
	}
	return t, nil
}

// Valid reports whether d parses as a day key.
func (d DayKey) Valid() bool {
	_, err := d.Time()
	return err == nil
}

func (d DayKey) String() string { return string(d) }
