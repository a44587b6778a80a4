package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists limiter state in a local SQLite database, so quota
// accounting survives process restarts on a single host.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS limiter_state (
	key          TEXT PRIMARY KEY,
	level        REAL NOT NULL DEFAULT 0,
	refilled_at  INTEGER NOT NULL DEFAULT 0,
	window_start INTEGER NOT NULL DEFAULT 0,
	used         INTEGER NOT NULL DEFAULT 0,
	prev_used    INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL DEFAULT 0
)`

// NewSQLiteStore opens (creating if needed) the limiter state database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open limiter database %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create limiter_state table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Fetch implements Store.
func (s *SQLiteStore) Fetch(ctx context.Context, key string) (State, bool, error) {
	var st State
	row := s.db.QueryRowContext(ctx,
		`SELECT level, refilled_at, window_start, used, prev_used FROM limiter_state WHERE key = ?`, key)
	err := row.Scan(&st.Level, &st.RefilledAt, &st.WindowStart, &st.Used, &st.PrevUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to fetch limiter state for %s: %w", key, err)
	}
	return st, true, nil
}

// Save implements Store. The ttl is ignored: local state is cheap to keep and
// stale rows are harmless (the policy math re-derives current budget).
func (s *SQLiteStore) Save(ctx context.Context, key string, st State, _ time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO limiter_state (key, level, refilled_at, window_start, used, prev_used, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			level = excluded.level,
			refilled_at = excluded.refilled_at,
			window_start = excluded.window_start,
			used = excluded.used,
			prev_used = excluded.prev_used,
			updated_at = excluded.updated_at`,
		key, st.Level, st.RefilledAt, st.WindowStart, st.Used, st.PrevUsed, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save limiter state for %s: %w", key, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close limiter database: %w", err)
	}
	return nil
}
