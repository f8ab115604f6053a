package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchard/quota-engine/quota"
	"github.com/orchard/quota-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

const day = quota.DayKey("2026-03-10")

// =============================================================================
// ENSURE
// =============================================================================

func TestStore_Ensure_MaterializesOnce(t *testing.T) {
	// GIVEN: No entry for (subject, day)
	// WHEN: Ensuring twice with different base allowances
	// THEN: The first call creates the row; the second is a no-op that
	//       keeps the original allowance

	store := newTestStore(t)
	ctx := context.Background()

	e1, err := store.Ensure(ctx, "subj-1", day, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, e1.Allowance)
	assert.Equal(t, 0, e1.PickCount)

	e2, err := store.Ensure(ctx, "subj-1", day, 99)
	require.NoError(t, err)
	assert.Equal(t, 5, e2.Allowance)
}

// =============================================================================
// CONDITIONAL PICK INCREMENT
// =============================================================================

func TestStore_IncrementPick_StopsAtAllowance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Ensure(ctx, "subj-1", day, 2)
	require.NoError(t, err)

	out, err := store.IncrementPick(ctx, "subj-1", day, "")
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, 1, out.Entry.PickCount)
	assert.Equal(t, 1, out.Lifetime)

	out, err = store.IncrementPick(ctx, "subj-1", day, "")
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, 2, out.Entry.PickCount)

	out, err = store.IncrementPick(ctx, "subj-1", day, "")
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, 2, out.Entry.PickCount)
	assert.Equal(t, 2, out.Lifetime)
}

func TestStore_IncrementPick_TokenReplay(t *testing.T) {
	// GIVEN: A pick applied with token T
	// WHEN: Repeating token T
	// THEN: No second increment; the original count comes back

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Ensure(ctx, "subj-1", day, 5)
	require.NoError(t, err)

	first, err := store.IncrementPick(ctx, "subj-1", day, "tok-1")
	require.NoError(t, err)
	assert.True(t, first.Accepted)
	assert.False(t, first.Replayed)

	replay, err := store.IncrementPick(ctx, "subj-1", day, "tok-1")
	require.NoError(t, err)
	assert.True(t, replay.Accepted)
	assert.True(t, replay.Replayed)
	assert.Equal(t, 1, replay.Entry.PickCount)
	assert.Equal(t, 1, replay.Entry.LastTokenCount)
	assert.Equal(t, 1, replay.Lifetime)
}

func TestStore_IncrementPick_LifetimeLinked(t *testing.T) {
	// The lifetime counter moves iff the pick was accepted.

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Ensure(ctx, "subj-1", day, 1)
	require.NoError(t, err)

	_, err = store.IncrementPick(ctx, "subj-1", day, "")
	require.NoError(t, err)

	out, err := store.IncrementPick(ctx, "subj-1", day, "")
	require.NoError(t, err)
	assert.False(t, out.Accepted)

	total, err := store.LifetimeTotal(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

// =============================================================================
// CONDITIONAL REWARD INCREMENT
// =============================================================================

func TestStore_IncrementReward_CapAndCeiling(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Ensure(ctx, "subj-1", day, 5)
	require.NoError(t, err)

	// cap 2, bonus 3, ceiling 10: 5 -> 8 -> clamped to 10
	out, err := store.IncrementReward(ctx, "subj-1", day, 3, 2, 10)
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, 8, out.Entry.Allowance)

	out, err = store.IncrementReward(ctx, "subj-1", day, 3, 2, 10)
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, 10, out.Entry.Allowance, "bonus past the ceiling is clamped")

	// Cap reached.
	out, err = store.IncrementReward(ctx, "subj-1", day, 3, 2, 10)
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, 2, out.Entry.RewardCount)
}

func TestStore_IncrementReward_AtCeilingRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Ensure(ctx, "subj-1", day, 10)
	require.NoError(t, err)

	out, err := store.IncrementReward(ctx, "subj-1", day, 1, 5, 10)
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, 0, out.Entry.RewardCount)
	assert.Equal(t, 10, out.Entry.Allowance)
}

// =============================================================================
// READS
// =============================================================================

func TestStore_Entry_AbsentReportsNotOK(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Entry(context.Background(), "subj-1", day)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_LifetimeTotal_UnknownSubjectIsZero(t *testing.T) {
	store := newTestStore(t)

	total, err := store.LifetimeTotal(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestStore_ListEntriesDescending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	days := []quota.DayKey{"2026-03-08", "2026-03-10", "2026-03-09"}
	for _, d := range days {
		_, err := store.Ensure(ctx, "subj-1", d, 5)
		require.NoError(t, err)
		_, err = store.IncrementPick(ctx, "subj-1", d, "")
		require.NoError(t, err)
	}
	// Another subject's entries must not leak in.
	_, err := store.Ensure(ctx, "subj-2", "2026-03-10", 5)
	require.NoError(t, err)

	entries, err := store.ListEntriesDescending(ctx, "subj-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, quota.DayKey("2026-03-10"), entries[0].Day)
	assert.Equal(t, quota.DayKey("2026-03-09"), entries[1].Day)
	assert.Equal(t, quota.DayKey("2026-03-08"), entries[2].Day)

	limited, err := store.ListEntriesDescending(ctx, "subj-1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, quota.DayKey("2026-03-10"), limited[0].Day)
}

// =============================================================================
// CONCURRENCY THROUGH THE ENGINE
// =============================================================================

func TestStore_ConcurrentPicks_GuardedUpdateHolds(t *testing.T) {
	// GIVEN: An sqlite-backed engine with 5 picks available
	// WHEN: 20 goroutines pick concurrently
	// THEN: Exactly 5 are accepted; counter and entry agree

	store := newTestStore(t)
	policy, err := quota.NewPolicy(5, 3, 1, 10)
	require.NoError(t, err)
	engine, err := quota.NewEngine(store, policy, quota.NewCalendar(0))
	require.NoError(t, err)
	engine.RetryBackoff = time.Millisecond

	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.RecordPick(ctx, "subj-1", now, "")
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !quota.IsLimit(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)

	entry, ok, err := store.Entry(ctx, "subj-1", engine.Calendar.DayKeyOf(now))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, entry.PickCount)

	total, err := store.LifetimeTotal(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}
