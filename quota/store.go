/*
store.go - Persistence contract for ledger entries and lifetime totals

PURPOSE:
  Defines the interface between the engine and the database. The engine
  is stateless between calls; everything durable lives behind Store.

THE ATOMIC PRIMITIVE:
  Beyond plain reads, implementations must provide conditional
  increments that check the limit and write in a single indivisible
  step. "Read the count, compare, then write" from the caller's side is
  forbidden - it is the race that lets two concurrent picks both
  succeed past the allowance. In SQL the primitive is one guarded
  UPDATE (the WHERE clause carries the comparison); in memory it is one
  critical section.

LINKED EFFECTS:
  An accepted pick increments the subject's lifetime counter in the
  same atomic step, so the counter and the sum over entries can never
  diverge. An accepted reward raises the entry's allowance in the same
  step that bumps the reward count.

FAILURE MAPPING:
  Implementations classify driver failures into quota.ErrStoreUnavailable
  (transient, caller retries with backoff) or quota.ErrConstraintViolation
  (treated as already-at-limit). Nothing else escapes.

IMPLEMENTATIONS:
  - quota/store (memory.go): In-memory, for tests and development
  - store/sqlite:            Production SQLite
  - store/postgres:          Production PostgreSQL
*/
package quota

import "context"

// IncrementOutcome is the result of one conditional increment.
type IncrementOutcome struct {
	// Accepted is false when the limit check rejected the increment.
	Accepted bool

	// Replayed is true when an idempotency token matched the entry's
	// last applied token; the increment was not applied again and Entry
	// reflects the original application.
	Replayed bool

	// Entry is the row after the operation (or as found, if rejected).
	Entry Entry

	// Lifetime is the subject's lifetime total after the operation.
	// Only populated by IncrementPick.
	Lifetime int
}

// Store is the persistence contract. All mutation goes through the two
// conditional increments; entries are never overwritten.
type Store interface {
	// Ensure lazily materializes the entry for (subject, day) with
	// allowance = baseAllowance and zero counts. No-op if the entry
	// exists. Returns the current row either way.
	Ensure(ctx context.Context, subject Subject, day DayKey, baseAllowance int) (Entry, error)

	// IncrementPick adds one pick iff pickCount < allowance, and in the
	// same atomic step adds one to the subject's lifetime counter and
	// records token as the entry's last applied token. If token is
	// non-empty and equals the entry's last applied token the call is a
	// replay: nothing is counted and the original result is returned.
	//
	// The allowance compared against is the row's own, so a concurrent
	// reward grant is always observed consistently.
	IncrementPick(ctx context.Context, subject Subject, day DayKey, token string) (IncrementOutcome, error)

	// IncrementReward adds one reward completion iff rewardCount < cap
	// and allowance < ceiling, raising allowance by bonus (clamped to
	// ceiling) in the same atomic step. Policy values are passed in so
	// the grant reflects the policy at grant time.
	IncrementReward(ctx context.Context, subject Subject, day DayKey, bonus, cap, ceiling int) (IncrementOutcome, error)

	// Entry returns the row for (subject, day), with ok=false if the
	// subject has not interacted that day.
	Entry(ctx context.Context, subject Subject, day DayKey) (Entry, bool, error)

	// LifetimeTotal returns the subject's maintained lifetime counter.
	LifetimeTotal(ctx context.Context, subject Subject) (int, error)

	// ListEntriesDescending returns up to maxDays of the subject's
	// entries, most recent day first.
	ListEntriesDescending(ctx context.Context, subject Subject, maxDays int) ([]Entry, error)
}
