/*
engine.go - The quota engine operations

PURPOSE:
  Composes Calendar + Store + Policy into the operations callers use:
  check, pick, reward, state, lifetime, streak. The engine holds no
  durable state of its own and needs no locks; serialization of
  concurrent increments is the Store's contract.

DAY-BOUNDARY DISCIPLINE:
  Every operation computes its DayKey exactly once, at entry, and
  reuses it for every store call. Recomputing "today" mid-operation can
  split one logical action across two days around midnight.

RETRIES:
  Mutating calls retry ErrStoreUnavailable with bounded exponential
  backoff. This is safe: a conditional increment re-evaluates the same
  not-yet-applied state, and a pick retried with its idempotency token
  replays the original result if the first attempt did land.

SEE ALSO:
  - store.go:  The atomic primitives the engine leans on
  - streak.go: Consecutive-day derivation
*/
package quota

import (
	"context"
	"errors"
	"time"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 50 * time.Millisecond
	maxRetryBackoff      = time.Second
)

// Engine enforces the daily quota invariants. Safe for concurrent use;
// all shared mutable state lives behind Store.
type Engine struct {
	Store    Store
	Policy   Policy
	Calendar Calendar

	// RetryAttempts and RetryBackoff bound the retry loop for transient
	// store failures on mutating calls.
	RetryAttempts int
	RetryBackoff  time.Duration

	streaks *StreakCalculator
}

// NewEngine validates the policy and wires an engine.
func NewEngine(store Store, policy Policy, cal Calendar) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		Store:         store,
		Policy:        policy,
		Calendar:      cal,
		RetryAttempts: defaultRetryAttempts,
		RetryBackoff:  defaultRetryBackoff,
		streaks:       &StreakCalculator{Store: store, Calendar: cal},
	}, nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// CanPerformPick reports whether a pick would currently be accepted.
// Idempotent read; lazily materializes today's entry so the answer and
// a subsequent RecordPick see the same row.
func (e *Engine) CanPerformPick(ctx context.Context, subject Subject, now time.Time) (bool, error) {
	if !subject.Valid() {
		return false, ErrInvalidSubject
	}
	day := e.Calendar.DayKeyOf(now)

	entry, err := e.ensure(ctx, subject, day)
	if err != nil {
		return false, err
	}
	return entry.PickCount < entry.Allowance, nil
}

// RecordPick records one pick for the subject's current day. token is an
// optional caller-supplied idempotency token; a repeated token for the
// same day replays the original result instead of counting twice.
//
// At most one of N simultaneous calls beyond the remaining allowance
// succeeds; the rest fail with ErrQuotaExceeded.
func (e *Engine) RecordPick(ctx context.Context, subject Subject, now time.Time, token string) (PickResult, error) {
	if !subject.Valid() {
		return PickResult{}, ErrInvalidSubject
	}
	day := e.Calendar.DayKeyOf(now)

	if _, err := e.ensure(ctx, subject, day); err != nil {
		return PickResult{}, err
	}

	out, err := e.retry(ctx, func() (IncrementOutcome, error) {
		return e.Store.IncrementPick(ctx, subject, day, token)
	})
	if err != nil {
		if errors.Is(err, ErrConstraintViolation) {
			// The store's own integrity rules said "already applied /
			// at limit"; report it as the quota outcome it is.
			return PickResult{}, e.quotaExceeded(ctx, subject, day)
		}
		return PickResult{}, err
	}
	if !out.Accepted {
		return PickResult{}, &QuotaExceededError{
			Subject:   subject,
			Day:       day,
			PickCount: out.Entry.PickCount,
			Allowance: out.Entry.Allowance,
		}
	}

	res := PickResult{
		Subject:   subject,
		Day:       day,
		PickCount: out.Entry.PickCount,
		Allowance: out.Entry.Allowance,
		Lifetime:  out.Lifetime,
		Replayed:  out.Replayed,
	}
	if out.Replayed {
		res.PickCount = out.Entry.LastTokenCount
	}
	return res, nil
}

// RecordRewardCompletion records one completed reward action and raises
// the day's allowance by the policy bonus, clamped to the ceiling.
func (e *Engine) RecordRewardCompletion(ctx context.Context, subject Subject, now time.Time) (RewardResult, error) {
	if !subject.Valid() {
		return RewardResult{}, ErrInvalidSubject
	}
	day := e.Calendar.DayKeyOf(now)

	if _, err := e.ensure(ctx, subject, day); err != nil {
		return RewardResult{}, err
	}

	out, err := e.retry(ctx, func() (IncrementOutcome, error) {
		return e.Store.IncrementReward(ctx, subject, day,
			e.Policy.RewardBonus, e.Policy.RewardCap, e.Policy.AbsoluteCeiling)
	})
	if err != nil {
		if errors.Is(err, ErrConstraintViolation) {
			return RewardResult{}, e.rewardRejected(ctx, subject, day)
		}
		return RewardResult{}, err
	}
	if !out.Accepted {
		if out.Entry.RewardCount >= e.Policy.RewardCap {
			return RewardResult{}, &RewardCapError{
				Subject:     subject,
				Day:         day,
				RewardCount: out.Entry.RewardCount,
				Cap:         e.Policy.RewardCap,
			}
		}
		return RewardResult{}, ErrAllowanceCeilingReached
	}

	return RewardResult{
		Subject:     subject,
		Day:         day,
		RewardCount: out.Entry.RewardCount,
		Allowance:   out.Entry.Allowance,
	}, nil
}

// DailyState returns the subject's current-day counters. Pure read: a
// subject who has not interacted today gets the synthetic fresh state
// without materializing a row.
func (e *Engine) DailyState(ctx context.Context, subject Subject, now time.Time) (DailyState, error) {
	if !subject.Valid() {
		return DailyState{}, ErrInvalidSubject
	}
	day := e.Calendar.DayKeyOf(now)

	entry, ok, err := e.Store.Entry(ctx, subject, day)
	if err != nil {
		return DailyState{}, err
	}
	if !ok {
		entry = Entry{Subject: subject, Day: day, Allowance: e.Policy.BaseAllowance}
	}
	return DailyState{
		Subject:     subject,
		Day:         day,
		PickCount:   entry.PickCount,
		RewardCount: entry.RewardCount,
		Allowance:   entry.Allowance,
		Remaining:   entry.Allowance - entry.PickCount,
	}, nil
}

// LifetimeTotal returns the subject's lifetime pick count. The counter
// is maintained in the same atomic step as each accepted pick, so it
// always equals the sum of PickCount over the subject's entries.
func (e *Engine) LifetimeTotal(ctx context.Context, subject Subject) (int, error) {
	if !subject.Valid() {
		return 0, ErrInvalidSubject
	}
	return e.Store.LifetimeTotal(ctx, subject)
}

// Streak returns the count of consecutive days, ending today, with at
// least one recorded pick.
func (e *Engine) Streak(ctx context.Context, subject Subject, now time.Time) (int, error) {
	if !subject.Valid() {
		return 0, ErrInvalidSubject
	}
	return e.streaks.Streak(ctx, subject, now)
}

// History returns up to maxDays of the subject's ledger entries, most
// recent first.
func (e *Engine) History(ctx context.Context, subject Subject, maxDays int) ([]Entry, error) {
	if !subject.Valid() {
		return nil, ErrInvalidSubject
	}
	return e.Store.ListEntriesDescending(ctx, subject, maxDays)
}

// =============================================================================
// INTERNALS
// =============================================================================

func (e *Engine) ensure(ctx context.Context, subject Subject, day DayKey) (Entry, error) {
	var entry Entry
	_, err := e.retry(ctx, func() (IncrementOutcome, error) {
		var err error
		entry, err = e.Store.Ensure(ctx, subject, day, e.Policy.BaseAllowance)
		return IncrementOutcome{}, err
	})
	return entry, err
}

func (e *Engine) quotaExceeded(ctx context.Context, subject Subject, day DayKey) error {
	entry, _, err := e.Store.Entry(ctx, subject, day)
	if err != nil {
		return ErrQuotaExceeded
	}
	return &QuotaExceededError{
		Subject:   subject,
		Day:       day,
		PickCount: entry.PickCount,
		Allowance: entry.Allowance,
	}
}

func (e *Engine) rewardRejected(ctx context.Context, subject Subject, day DayKey) error {
	entry, _, err := e.Store.Entry(ctx, subject, day)
	if err != nil || entry.RewardCount >= e.Policy.RewardCap {
		return &RewardCapError{
			Subject:     subject,
			Day:         day,
			RewardCount: entry.RewardCount,
			Cap:         e.Policy.RewardCap,
		}
	}
	return ErrAllowanceCeilingReached
}

// retry runs op, retrying transient store failures with bounded
// exponential backoff. Business rejections and hard errors return
// immediately.
func (e *Engine) retry(ctx context.Context, op func() (IncrementOutcome, error)) (IncrementOutcome, error) {
	attempts := e.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	backoff := e.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return IncrementOutcome{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
		}

		out, err := op()
		if err == nil || !IsRetryable(err) {
			return out, err
		}
		lastErr = err
	}
	return IncrementOutcome{}, lastErr
}
