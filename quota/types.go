/*
Package quota implements the daily quota and reward ledger engine.

PURPOSE:
  A subject (end user) may perform a rate-limited "pick" action a bounded
  number of times per calendar day, may raise that day's bound by
  completing a separately capped reward action, and accumulates a
  lifetime total of successful picks. This package contains the engine
  that decides, records, and aggregates those actions.

KEY CONCEPTS IN THIS FILE (types.go):
  - Subject:  Opaque, externally supplied user identifier
  - DayKey:   Calendar-day identifier produced by a single boundary rule
  - Entry:    The per-(subject, day) ledger row
  - DailyState / PickResult / RewardResult: Snapshots returned by the engine

DESIGN PRINCIPLES:
  1. One boundary rule: every DayKey comes from the same Calendar
  2. Keyed rows, not events: an Entry is mutated only through the Store's
     two atomic conditional increments, never overwritten
  3. Server truth: callers propagate returned snapshots instead of
     keeping their own counters

SEE ALSO:
  - calendar.go: DayKey production and arithmetic
  - store.go:    Persistence contract
  - engine.go:   The operations exposed to callers
*/
package quota

// =============================================================================
// IDENTIFIERS
// =============================================================================

// Subject identifies the user a quota is tracked against. The engine
// never creates or deletes subjects, only references them.
type Subject string

// Valid reports whether the subject is usable. The engine performs no
// state change for an invalid subject.
func (s Subject) Valid() bool { return s != "" }

// =============================================================================
// ENTRY - The per-(subject, day) ledger row
// =============================================================================

// Entry is one logical record per (subject, calendar day). It is created
// lazily on first interaction and never deleted; once the day passes it
// becomes immutable history.
//
// INVARIANTS (hold after every operation):
//   - 0 <= PickCount <= Allowance <= the policy's absolute ceiling
//   - 0 <= RewardCount <= the policy's reward cap
//
// Allowance reflects the policy values in effect when the entry was
// created and when each reward was granted. A later policy change does
// not retroactively recompute it.
type Entry struct {
	Subject     Subject
	Day         DayKey
	PickCount   int
	RewardCount int
	Allowance   int

	// LastToken is the most recent idempotency token applied to this
	// entry's pick counter; LastTokenCount is the pick count that token
	// produced. Together they let a retried pick replay its original
	// result instead of double counting.
	LastToken      string
	LastTokenCount int
}

// Exhausted reports whether the entry has no picks remaining.
func (e Entry) Exhausted() bool { return e.PickCount >= e.Allowance }

// =============================================================================
// ENGINE RESULT SNAPSHOTS
// =============================================================================

// DailyState is the read-only view of a subject's current day.
type DailyState struct {
	Subject     Subject `json:"subject"`
	Day         DayKey  `json:"day"`
	PickCount   int     `json:"pick_count"`
	RewardCount int     `json:"reward_count"`
	Allowance   int     `json:"allowance"`
	Remaining   int     `json:"remaining"`
}

// PickResult reports the outcome of an accepted pick.
type PickResult struct {
	Subject   Subject `json:"subject"`
	Day       DayKey  `json:"day"`
	PickCount int     `json:"pick_count"`
	Allowance int     `json:"allowance"`
	Lifetime  int     `json:"lifetime"`

	// Replayed is true when an idempotency token matched a previously
	// applied pick: the result is the original one, nothing was counted
	// again.
	Replayed bool `json:"replayed,omitempty"`
}

// RewardResult reports the outcome of an accepted reward completion.
type RewardResult struct {
	Subject     Subject `json:"subject"`
	Day         DayKey  `json:"day"`
	RewardCount int     `json:"reward_count"`
	Allowance   int     `json:"allowance"`
}
