// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sjkd23/runboard/lib/sqlitepool"
)

// ErrNotFound is returned when a requested run, headcount, or reaction
// row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned by InsertReaction when the unique reaction
// index rejects the row. The ledger handles this by re-reading and
// updating instead.
var ErrDuplicate = errors.New("store: duplicate row")

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. Required.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// Logger receives operational messages. nil discards them.
	Logger *slog.Logger
}

// Store manages SQLite storage for runs, headcounts, and reactions.
// Safe for concurrent use; writes go through IMMEDIATE transactions on
// pooled connections.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id                 TEXT PRIMARY KEY,
		guild_id           TEXT NOT NULL,
		organizer_id       TEXT NOT NULL,
		activity_id        TEXT NOT NULL,
		activity_label     TEXT NOT NULL,
		role_id            TEXT NOT NULL DEFAULT '',
		channel_id         TEXT NOT NULL DEFAULT '',
		message_id         TEXT NOT NULL DEFAULT '',
		ping_message_id    TEXT NOT NULL DEFAULT '',
		party              TEXT NOT NULL DEFAULT '',
		location           TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL,
		auto_end_at        INTEGER NOT NULL DEFAULT 0,
		key_window_ends_at INTEGER NOT NULL DEFAULT 0,
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status, auto_end_at);

	CREATE TABLE IF NOT EXISTS headcounts (
		id             TEXT PRIMARY KEY,
		guild_id       TEXT NOT NULL,
		organizer_id   TEXT NOT NULL,
		activity_id    TEXT NOT NULL,
		activity_label TEXT NOT NULL,
		channel_id     TEXT NOT NULL DEFAULT '',
		message_id     TEXT NOT NULL DEFAULT '',
		open           INTEGER NOT NULL DEFAULT 1,
		expires_at     INTEGER NOT NULL DEFAULT 0,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_headcounts_open ON headcounts(open, expires_at);

	CREATE TABLE IF NOT EXISTS reactions (
		parent_id     TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		reaction_type TEXT NOT NULL,
		source        TEXT NOT NULL,
		category      TEXT NOT NULL DEFAULT '',
		value         INTEGER NOT NULL DEFAULT 0,
		updated_at    INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reactions_key
		ON reactions(parent_id, user_id, reaction_type, source);
	CREATE INDEX IF NOT EXISTS idx_reactions_parent ON reactions(parent_id, source);
`

// Open creates a store backed by SQLite. The database file is created
// if it does not exist, and the schema is applied idempotently.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	store := &Store{pool: pool, logger: logger}

	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	return store, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// write runs fn inside an IMMEDIATE transaction on a pooled connection.
func (s *Store) write(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	return fn(conn)
}

// read runs fn on a pooled connection without a transaction.
func (s *Store) read(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// unixOrZero converts a time to Unix seconds, mapping the zero time to
// 0 so unset deadlines round-trip through INTEGER columns.
func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// timeOrZero is the inverse of unixOrZero.
func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}
