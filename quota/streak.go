/*
streak.go - Consecutive-day streak derivation

PURPOSE:
  Counts consecutive calendar days, ending today, on which the subject
  recorded at least one pick. A day with an entry but zero picks (for
  example, only reward completions) breaks the chain the same way a
  missing day does.

BOUNDARY DISCIPLINE:
  Uses the same Calendar as every other component. An off-by-one here
  almost always means some call site computed "today" with a different
  boundary rule.
*/
package quota

import (
	"context"
	"time"
)

// streakPageSize bounds each ListEntriesDescending query. The walk
// re-queries for older pages, so arbitrarily long streaks still resolve.
const streakPageSize = 64

// StreakCalculator derives streaks from ledger history.
type StreakCalculator struct {
	Store    Store
	Calendar Calendar
}

// Streak returns the current streak length for the subject as of now.
// Zero if today has no entry with at least one pick.
func (sc *StreakCalculator) Streak(ctx context.Context, subject Subject, now time.Time) (int, error) {
	expect := sc.Calendar.DayKeyOf(now)

	streak := 0
	fetched := 0
	for {
		window := fetched + streakPageSize
		entries, err := sc.Store.ListEntriesDescending(ctx, subject, window)
		if err != nil {
			return 0, err
		}
		skip := fetched
		if skip > len(entries) {
			skip = len(entries)
		}
		page := entries[skip:]
		if len(page) == 0 {
			return streak, nil
		}

		for _, entry := range page {
			if entry.Day != expect || entry.PickCount < 1 {
				return streak, nil
			}
			streak++
			expect = expect.Prev()
		}

		fetched = len(entries)
		if len(entries) < window {
			// Store has no older entries.
			return streak, nil
		}
	}
}
