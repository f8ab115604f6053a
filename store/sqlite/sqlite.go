/*
Package sqlite provides a SQLite-backed implementation of quota.Store.

PURPOSE:
  Production persistence for the quota engine on a single node. The
  same SQL shapes carry to PostgreSQL (see store/postgres) with only
  placeholder and conflict-clause differences.

THE CONDITIONAL INCREMENT:
  The quota invariant is enforced by guarded single-statement UPDATEs:

    UPDATE ledger_entries SET pick_count = pick_count + 1, ...
    WHERE subject = ? AND day = ? AND pick_count < allowance

  The WHERE clause carries the limit comparison, so check-and-write is
  one indivisible statement. RowsAffected == 0 means "rejected at
  limit". The comparison is against the row's own allowance column, so
  a concurrent reward grant is observed consistently.

LINKED LIFETIME COUNTER:
  An accepted pick updates lifetime_counters inside the same SQL
  transaction. There is no code path that writes one side without the
  other, which is what keeps the counter equal to the sum over entries.

CONCURRENCY:
  Uses sync.Mutex around writes for SQLite's single-writer constraint,
  and WAL mode so readers don't block. The guarded UPDATE remains the
  correctness mechanism; the mutex only serializes the writer.

SEE ALSO:
  - quota/store.go:        Contract and failure mapping
  - quota/store/memory.go: In-memory implementation for tests
  - store/postgres:        PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/orchard/quota-engine/quota"
)

// Store implements quota.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the database at dbPath and migrates the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- One row per (subject, day). Mutated only by the two guarded
	-- UPDATEs below; never overwritten, never deleted.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		subject          TEXT NOT NULL,
		day              TEXT NOT NULL,
		pick_count       INTEGER NOT NULL DEFAULT 0,
		reward_count     INTEGER NOT NULL DEFAULT 0,
		allowance        INTEGER NOT NULL,
		last_token       TEXT NOT NULL DEFAULT '',
		last_token_count INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		PRIMARY KEY (subject, day),
		CHECK (pick_count >= 0),
		CHECK (reward_count >= 0),
		CHECK (pick_count <= allowance)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_subject_day
		ON ledger_entries(subject, day DESC);

	-- Maintained in the same transaction as each accepted pick.
	CREATE TABLE IF NOT EXISTS lifetime_counters (
		subject TEXT PRIMARY KEY,
		total   INTEGER NOT NULL DEFAULT 0 CHECK (total >= 0)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

var _ quota.Store = (*Store)(nil)

// =============================================================================
// QUOTA STORE (quota.Store interface)
// =============================================================================

// Ensure lazily materializes the entry for (subject, day).
func (s *Store) Ensure(ctx context.Context, subject quota.Subject, day quota.DayKey, baseAllowance int) (quota.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (subject, day, allowance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(subject, day) DO NOTHING
	`, subject, day, baseAllowance, now, now)
	if err != nil {
		return quota.Entry{}, classify("ensure", err)
	}

	entry, ok, err := s.getEntry(ctx, s.db, subject, day)
	if err != nil {
		return quota.Entry{}, err
	}
	if !ok {
		return quota.Entry{}, &quota.StoreError{Op: "ensure", Err: sql.ErrNoRows}
	}
	return entry, nil
}

// IncrementPick applies one pick iff pick_count < allowance, bumping
// the lifetime counter in the same SQL transaction.
func (s *Store) IncrementPick(ctx context.Context, subject quota.Subject, day quota.DayKey, token string) (quota.IncrementOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return quota.IncrementOutcome{}, classify("begin", err)
	}
	defer tx.Rollback()

	// Replay check: a repeated token for this day is a no-op that
	// returns the originally applied result.
	if token != "" {
		var lastToken string
		err := tx.QueryRowContext(ctx,
			`SELECT last_token FROM ledger_entries WHERE subject = ? AND day = ?`,
			subject, day,
		).Scan(&lastToken)
		if err == sql.ErrNoRows {
			return quota.IncrementOutcome{}, quota.ErrConstraintViolation
		}
		if err != nil {
			return quota.IncrementOutcome{}, classify("pick", err)
		}
		if lastToken == token {
			entry, _, err := s.getEntry(ctx, tx, subject, day)
			if err != nil {
				return quota.IncrementOutcome{}, err
			}
			total, err := s.lifetime(ctx, tx, subject)
			if err != nil {
				return quota.IncrementOutcome{}, err
			}
			if err := tx.Commit(); err != nil {
				return quota.IncrementOutcome{}, classify("commit", err)
			}
			return quota.IncrementOutcome{Accepted: true, Replayed: true, Entry: entry, Lifetime: total}, nil
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET pick_count = pick_count + 1,
		    last_token = ?,
		    last_token_count = pick_count + 1,
		    updated_at = ?
		WHERE subject = ? AND day = ? AND pick_count < allowance
	`, token, time.Now().UTC().Format(time.RFC3339), subject, day)
	if err != nil {
		return quota.IncrementOutcome{}, classify("pick", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return quota.IncrementOutcome{}, classify("pick", err)
	}

	accepted := affected == 1
	if accepted {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lifetime_counters (subject, total) VALUES (?, 1)
			ON CONFLICT(subject) DO UPDATE SET total = total + 1
		`, subject); err != nil {
			return quota.IncrementOutcome{}, classify("lifetime", err)
		}
	}

	entry, ok, err := s.getEntry(ctx, tx, subject, day)
	if err != nil {
		return quota.IncrementOutcome{}, err
	}
	if !ok {
		return quota.IncrementOutcome{}, quota.ErrConstraintViolation
	}
	total, err := s.lifetime(ctx, tx, subject)
	if err != nil {
		return quota.IncrementOutcome{}, err
	}

	if err := tx.Commit(); err != nil {
		return quota.IncrementOutcome{}, classify("commit", err)
	}
	return quota.IncrementOutcome{Accepted: accepted, Entry: entry, Lifetime: total}, nil
}

// IncrementReward applies one reward completion iff reward_count < cap
// and allowance < ceiling, raising the allowance clamped to ceiling in
// the same statement.
func (s *Store) IncrementReward(ctx context.Context, subject quota.Subject, day quota.DayKey, bonus, cap, ceiling int) (quota.IncrementOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET reward_count = reward_count + 1,
		    allowance = MIN(allowance + ?, ?),
		    updated_at = ?
		WHERE subject = ? AND day = ? AND reward_count < ? AND allowance < ?
	`, bonus, ceiling, time.Now().UTC().Format(time.RFC3339), subject, day, cap, ceiling)
	if err != nil {
		return quota.IncrementOutcome{}, classify("reward", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return quota.IncrementOutcome{}, classify("reward", err)
	}

	entry, ok, err := s.getEntry(ctx, s.db, subject, day)
	if err != nil {
		return quota.IncrementOutcome{}, err
	}
	if !ok {
		return quota.IncrementOutcome{}, quota.ErrConstraintViolation
	}
	return quota.IncrementOutcome{Accepted: affected == 1, Entry: entry}, nil
}

// Entry returns the row for (subject, day).
func (s *Store) Entry(ctx context.Context, subject quota.Subject, day quota.DayKey) (quota.Entry, bool, error) {
	return s.getEntry(ctx, s.db, subject, day)
}

// LifetimeTotal returns the subject's maintained lifetime counter.
func (s *Store) LifetimeTotal(ctx context.Context, subject quota.Subject) (int, error) {
	return s.lifetime(ctx, s.db, subject)
}

// ListEntriesDescending returns up to maxDays entries, most recent first.
func (s *Store) ListEntriesDescending(ctx context.Context, subject quota.Subject, maxDays int) ([]quota.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, day, pick_count, reward_count, allowance, last_token, last_token_count
		FROM ledger_entries
		WHERE subject = ?
		ORDER BY day DESC
		LIMIT ?
	`, subject, maxDays)
	if err != nil {
		return nil, classify("list", err)
	}
	defer rows.Close()

	var entries []quota.Entry
	for rows.Next() {
		var e quota.Entry
		if err := rows.Scan(&e.Subject, &e.Day, &e.PickCount, &e.RewardCount,
			&e.Allowance, &e.LastToken, &e.LastTokenCount); err != nil {
			return nil, classify("list", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list", err)
	}
	return entries, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// querier covers both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getEntry(ctx context.Context, q querier, subject quota.Subject, day quota.DayKey) (quota.Entry, bool, error) {
	var e quota.Entry
	err := q.QueryRowContext(ctx, `
		SELECT subject, day, pick_count, reward_count, allowance, last_token, last_token_count
		FROM ledger_entries
		WHERE subject = ? AND day = ?
	`, subject, day).Scan(&e.Subject, &e.Day, &e.PickCount, &e.RewardCount,
		&e.Allowance, &e.LastToken, &e.LastTokenCount)
	if err == sql.ErrNoRows {
		return quota.Entry{}, false, nil
	}
	if err != nil {
		return quota.Entry{}, false, classify("get entry", err)
	}
	return e, true, nil
}

func (s *Store) lifetime(ctx context.Context, q querier, subject quota.Subject) (int, error) {
	var total int
	err := q.QueryRowContext(ctx,
		`SELECT total FROM lifetime_counters WHERE subject = ?`, subject,
	).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, classify("lifetime", err)
	}
	return total, nil
}

// classify maps driver errors onto the store contract: integrity
// violations become ErrConstraintViolation (treated as at-limit by the
// engine), everything else is transient.
func classify(op string, err error) error {
	if isConstraintError(err) {
		return fmt.Errorf("%s: %w", op, quota.ErrConstraintViolation)
	}
	return &quota.StoreError{Op: op, Err: err}
}

func isConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "CHECK constraint failed")
}
