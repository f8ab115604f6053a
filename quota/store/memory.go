// Package store provides the in-memory quota.Store implementation,
// used by tests, local development, and quotactl's default mode.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/orchard/quota-engine/quota"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements quota.Store with maps behind one mutex. The mutex is
// the atomicity guarantee: every conditional increment checks and writes
// inside a single critical section, so two concurrent picks can never
// both pass the same limit.
type Memory struct {
	mu       sync.RWMutex
	entries  map[entryKey]*quota.Entry
	lifetime map[quota.Subject]int
}

type entryKey struct {
	Subject quota.Subject
	Day     quota.DayKey
}

func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[entryKey]*quota.Entry),
		lifetime: make(map[quota.Subject]int),
	}
}

var _ quota.Store = (*Memory)(nil)

// Ensure materializes the entry if absent.
func (m *Memory) Ensure(_ context.Context, subject quota.Subject, day quota.DayKey, baseAllowance int) (quota.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return *m.ensureLocked(subject, day, baseAllowance), nil
}

func (m *Memory) ensureLocked(subject quota.Subject, day quota.DayKey, baseAllowance int) *quota.Entry {
	k := entryKey{Subject: subject, Day: day}
	if e, ok := m.entries[k]; ok {
		return e
	}
	e := &quota.Entry{Subject: subject, Day: day, Allowance: baseAllowance}
	m.entries[k] = e
	return e
}

// IncrementPick applies one pick iff pickCount < allowance, bumping the
// lifetime counter in the same critical section.
func (m *Memory) IncrementPick(_ context.Context, subject quota.Subject, day quota.DayKey, token string) (quota.IncrementOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryKey{Subject: subject, Day: day}]
	if !ok {
		return quota.IncrementOutcome{}, quota.ErrConstraintViolation
	}

	if token != "" && token == e.LastToken {
		return quota.IncrementOutcome{
			Accepted: true,
			Replayed: true,
			Entry:    *e,
			Lifetime: m.lifetime[subject],
		}, nil
	}

	if e.PickCount >= e.Allowance {
		return quota.IncrementOutcome{Accepted: false, Entry: *e, Lifetime: m.lifetime[subject]}, nil
	}

	e.PickCount++
	e.LastToken = token
	e.LastTokenCount = e.PickCount
	m.lifetime[subject]++

	return quota.IncrementOutcome{Accepted: true, Entry: *e, Lifetime: m.lifetime[subject]}, nil
}

// IncrementReward applies one reward completion iff rewardCount < cap
// and allowance < ceiling, raising the allowance clamped to ceiling.
func (m *Memory) IncrementReward(_ context.Context, subject quota.Subject, day quota.DayKey, bonus, cap, ceiling int) (quota.IncrementOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryKey{Subject: subject, Day: day}]
	if !ok {
		return quota.IncrementOutcome{}, quota.ErrConstraintViolation
	}

	if e.RewardCount >= cap || e.Allowance >= ceiling {
		return quota.IncrementOutcome{Accepted: false, Entry: *e}, nil
	}

	e.RewardCount++
	e.Allowance += bonus
	if e.Allowance > ceiling {
		e.Allowance = ceiling
	}

	return quota.IncrementOutcome{Accepted: true, Entry: *e}, nil
}

func (m *Memory) Entry(_ context.Context, subject quota.Subject, day quota.DayKey) (quota.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[entryKey{Subject: subject, Day: day}]
	if !ok {
		return quota.Entry{}, false, nil
	}
	return *e, true, nil
}

func (m *Memory) LifetimeTotal(_ context.Context, subject quota.Subject) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lifetime[subject], nil
}

func (m *Memory) ListEntriesDescending(_ context.Context, subject quota.Subject, maxDays int) ([]quota.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []quota.Entry
	for k, e := range m.entries {
		if k.Subject == subject {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Day > result[j].Day })

	if maxDays > 0 && len(result) > maxDays {
		result = result[:maxDays]
	}
	return result, nil
}
