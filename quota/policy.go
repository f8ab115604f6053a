/*
policy.go - Static quota configuration

PURPOSE:
  The four values that govern a day's quota. Loaded once at process
  start, validated, and passed into the engine's constructor. Never
  mutated afterwards; the original product's habit of raising a global
  pick limit in place is exactly what this type replaces.

SEMANTICS:
  A fresh entry starts with Allowance = BaseAllowance. Each accepted
  reward completion (at most RewardCap per day) raises the entry's
  allowance by RewardBonus, clamped to AbsoluteCeiling. Entries keep the
  allowance they were granted; a later policy change does not rewrite
  history.
*/
package quota

import "fmt"

// Policy holds the process-wide quota configuration. Construct with
// NewPolicy (or validate an assembled literal with Validate) before
// handing it to the engine.
type Policy struct {
	// BaseAllowance is the number of picks a fresh day starts with.
	BaseAllowance int

	// RewardCap is the maximum reward completions per day.
	RewardCap int

	// RewardBonus is the allowance granted per reward completion.
	RewardBonus int

	// AbsoluteCeiling is the hard upper bound on any day's allowance.
	AbsoluteCeiling int
}

// DefaultPolicy mirrors the original product: 10 picks per day, up to 5
// rewarded unlocks of 1 extra pick each, never more than 15.
func DefaultPolicy() Policy {
	return Policy{
		BaseAllowance:   10,
		RewardCap:       5,
		RewardBonus:     1,
		AbsoluteCeiling: 15,
	}
}

// NewPolicy builds and validates a policy.
func NewPolicy(base, cap, bonus, ceiling int) (Policy, error) {
	p := Policy{
		BaseAllowance:   base,
		RewardCap:       cap,
		RewardBonus:     bonus,
		AbsoluteCeiling: ceiling,
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks the policy at load time. A violation is fatal: an
// engine must never start with a policy that can over-grant.
func (p Policy) Validate() error {
	if p.BaseAllowance < 0 || p.RewardCap < 0 || p.RewardBonus < 0 || p.AbsoluteCeiling < 0 {
		return fmt.Errorf("%w: all values must be non-negative (%+v)", ErrInvalidPolicy, p)
	}
	if max := p.BaseAllowance + p.RewardCap*p.RewardBonus; max > p.AbsoluteCeiling {
		return fmt.Errorf("%w: base %d + cap %d x bonus %d = %d exceeds ceiling %d",
			ErrInvalidPolicy, p.BaseAllowance, p.RewardCap, p.RewardBonus, max, p.AbsoluteCeiling)
	}
	return nil
}
