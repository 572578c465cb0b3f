// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Run is a run row. Status values and transition rules are owned by the
// run package; the store treats status as an opaque string.
type Run struct {
	ID            string
	GuildID       string
	OrganizerID   string
	ActivityID    string
	ActivityLabel string

	// RoleID is the optional role mentioned by progression pings.
	RoleID string

	// ChannelID and MessageID locate the public panel message. Empty
	// until the run goes live.
	ChannelID string
	MessageID string

	// PingMessageID is the ID of the most recent progression ping, or
	// empty when none has been sent (or the last one was deleted).
	PingMessageID string

	Party    string
	Location string

	Status string

	// AutoEndAt is the deadline after which the scheduler force-ends
	// the run. Zero means no deadline is armed.
	AutoEndAt time.Time

	// KeyWindowEndsAt is the expiry of the post-start key window. Zero
	// means no window is open.
	KeyWindowEndsAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PutRun inserts or replaces a run row by ID.
func (s *Store) PutRun(ctx context.Context, run *Run) error {
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		return putRun(conn, run)
	})
	if err != nil {
		return fmt.Errorf("store: put run %s: %w", run.ID, err)
	}
	return nil
}

func putRun(conn *sqlite.Conn, run *Run) error {
	return sqlitex.Execute(conn, `INSERT INTO runs
		(id, guild_id, organizer_id, activity_id, activity_label,
		 role_id, channel_id, message_id, ping_message_id, party,
		 location, status, auto_end_at, key_window_ends_at,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role_id = excluded.role_id,
			channel_id = excluded.channel_id,
			message_id = excluded.message_id,
			ping_message_id = excluded.ping_message_id,
			party = excluded.party,
			location = excluded.location,
			status = excluded.status,
			auto_end_at = excluded.auto_end_at,
			key_window_ends_at = excluded.key_window_ends_at,
			updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				run.ID,
				run.GuildID,
				run.OrganizerID,
				run.ActivityID,
				run.ActivityLabel,
				run.RoleID,
				run.ChannelID,
				run.MessageID,
				run.PingMessageID,
				run.Party,
				run.Location,
				run.Status,
				unixOrZero(run.AutoEndAt),
				unixOrZero(run.KeyWindowEndsAt),
				unixOrZero(run.CreatedAt),
				unixOrZero(run.UpdatedAt),
			},
		})
}

const runColumns = `id, guild_id, organizer_id, activity_id, activity_label,
	role_id, channel_id, message_id, ping_message_id, party, location,
	status, auto_end_at, key_window_ends_at, created_at, updated_at`

// GetRun returns the run with the given ID, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run *Run
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT "+runColumns+" FROM runs WHERE id = ?",
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					run = scanRun(stmt)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: get run %s: %w", id, err)
	}
	if run == nil {
		return nil, fmt.Errorf("store: get run %s: %w", id, ErrNotFound)
	}
	return run, nil
}

// MutateRun reads a run, applies mutate, and writes the row back, all
// inside one IMMEDIATE transaction, so concurrent mutations serialize
// against the current row instead of a stale read. An error from mutate
// aborts the transaction and is returned to the caller unwrapped.
// Returns the row as written.
func (s *Store) MutateRun(ctx context.Context, id string, mutate func(*Run) error) (*Run, error) {
	var run *Run
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"SELECT "+runColumns+" FROM runs WHERE id = ?",
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					run = scanRun(stmt)
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("store: mutate run %s: %w", id, err)
		}
		if run == nil {
			return fmt.Errorf("store: mutate run %s: %w", id, ErrNotFound)
		}
		if err := mutate(run); err != nil {
			return err
		}
		if err := putRun(conn, run); err != nil {
			return fmt.Errorf("store: mutate run %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// UpdateRunPing records the latest progression ping message for a run
// without touching any other column, so it cannot resurrect a status
// read before a concurrent transition. Returns ErrNotFound for an
// unknown run.
func (s *Store) UpdateRunPing(ctx context.Context, id, pingMessageID string) error {
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"UPDATE runs SET ping_message_id = ? WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{pingMessageID, id}})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: update run ping %s: %w", id, err)
	}
	return nil
}

// ListDueRuns returns runs in one of the given statuses whose auto-end
// deadline is armed and has elapsed at the given instant.
func (s *Store) ListDueRuns(ctx context.Context, statuses []string, now time.Time) ([]Run, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query := "SELECT " + runColumns + " FROM runs WHERE auto_end_at > 0 AND auto_end_at <= ? AND status IN (?"
	args := []any{now.Unix(), statuses[0]}
	for _, status := range statuses[1:] {
		query += ", ?"
		args = append(args, status)
	}
	query += ") ORDER BY auto_end_at"

	var runs []Run
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				runs = append(runs, *scanRun(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list due runs: %w", err)
	}
	return runs, nil
}

func scanRun(stmt *sqlite.Stmt) *Run {
	return &Run{
		ID:              stmt.ColumnText(0),
		GuildID:         stmt.ColumnText(1),
		OrganizerID:     stmt.ColumnText(2),
		ActivityID:      stmt.ColumnText(3),
		ActivityLabel:   stmt.ColumnText(4),
		RoleID:          stmt.ColumnText(5),
		ChannelID:       stmt.ColumnText(6),
		MessageID:       stmt.ColumnText(7),
		PingMessageID:   stmt.ColumnText(8),
		Party:           stmt.ColumnText(9),
		Location:        stmt.ColumnText(10),
		Status:          stmt.ColumnText(11),
		AutoEndAt:       timeOrZero(stmt.ColumnInt64(12)),
		KeyWindowEndsAt: timeOrZero(stmt.ColumnInt64(13)),
		CreatedAt:       timeOrZero(stmt.ColumnInt64(14)),
		UpdatedAt:       timeOrZero(stmt.ColumnInt64(15)),
	}
}
