/*
errors.go - Centralized error types for the quota engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store implementations and the API layer classify through the helpers
  at the bottom rather than matching individual sentinels.

ERROR CATEGORIES:
  1. Business outcomes - Expected rejections (quota, caps). Reported to
     the caller, never logged as system errors.
  2. Input errors - Invalid subject, malformed day.
  3. Store errors - Transient unavailability and constraint violations.

USAGE:
    res, err := engine.RecordPick(ctx, subject, now, token)
    if errors.Is(err, quota.ErrQuotaExceeded) {
        // expected; show "come back tomorrow"
    }
*/
package quota

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidSubject is returned when no valid subject identifier was
	// supplied. The call performs no state change and is not retried.
	ErrInvalidSubject = errors.New("invalid subject")

	// ErrQuotaExceeded is returned when a pick would move the entry past
	// its allowance. Expected business outcome. It deliberately does not
	// distinguish "I filled the quota" from "a concurrent call filled it".
	ErrQuotaExceeded = errors.New("daily pick quota exceeded")

	// ErrRewardCapReached is returned when the day's reward-completion
	// cap is already met.
	ErrRewardCapReached = errors.New("daily reward cap reached")

	// ErrAllowanceCeilingReached is returned when a reward bonus cannot
	// be granted because the allowance is already at the absolute
	// ceiling. Policy validation makes this unreachable for entries
	// created under the running policy, but the store guards it rather
	// than silently over-granting.
	ErrAllowanceCeilingReached = errors.New("allowance ceiling reached")

	// ErrStoreUnavailable is returned for transient persistence
	// failures. Safe to retry: conditional increments re-evaluate the
	// same state, and a pick retried with its token replays the original
	// result.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConstraintViolation is returned when the store's own integrity
	// rules rejected a write. Callers treat it as "already at limit",
	// not as a hard failure.
	ErrConstraintViolation = errors.New("store constraint violation")

	// ErrInvalidPolicy is returned when policy validation fails at load
	// time. Fatal at startup.
	ErrInvalidPolicy = errors.New("invalid quota policy")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// QuotaExceededError reports the state that caused a pick rejection.
type QuotaExceededError struct {
	Subject   Subject
	Day       DayKey
	PickCount int
	Allowance int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("pick quota exceeded for %s on %s: %d of %d used",
		e.Subject, e.Day, e.PickCount, e.Allowance)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// RewardCapError reports the state that caused a reward rejection.
type RewardCapError struct {
	Subject     Subject
	Day         DayKey
	RewardCount int
	Cap         int
}

func (e *RewardCapError) Error() string {
	return fmt.Sprintf("reward cap reached for %s on %s: %d of %d used",
		e.Subject, e.Day, e.RewardCount, e.Cap)
}

func (e *RewardCapError) Unwrap() error { return ErrRewardCapReached }

// StoreError wraps a driver-level failure as transient.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return ErrStoreUnavailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the call might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsLimit returns true for expected at-limit business outcomes.
func IsLimit(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrRewardCapReached) ||
		errors.Is(err, ErrAllowanceCeilingReached) ||
		errors.Is(err, ErrConstraintViolation)
}

// IsClientError returns true if the error is due to caller input or an
// expected business outcome rather than a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSubject) || IsLimit(err)
}
