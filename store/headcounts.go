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

// Headcount is a headcount row: a lightweight interest poll that may
// later be converted into a run.
type Headcount struct {
	ID            string
	GuildID       string
	OrganizerID   string
	ActivityID    string
	ActivityLabel string

	// ChannelID and MessageID locate the public headcount message.
	ChannelID string
	MessageID string

	// Open is false once the headcount has been closed or converted.
	Open bool

	// ExpiresAt is when the scheduler closes a still-open headcount.
	// Zero means no expiry is armed.
	ExpiresAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PutHeadcount inserts or replaces a headcount row by ID.
func (s *Store) PutHeadcount(ctx context.Context, headcount *Headcount) error {
	open := 0
	if headcount.Open {
		open = 1
	}
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO headcounts
			(id, guild_id, organizer_id, activity_id, activity_label,
			 channel_id, message_id, open, expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				channel_id = excluded.channel_id,
				message_id = excluded.message_id,
				open = excluded.open,
				expires_at = excluded.expires_at,
				updated_at = excluded.updated_at`,
			&sqlitex.ExecOptions{
				Args: []any{
					headcount.ID,
					headcount.GuildID,
					headcount.OrganizerID,
					headcount.ActivityID,
					headcount.ActivityLabel,
					headcount.ChannelID,
					headcount.MessageID,
					open,
					unixOrZero(headcount.ExpiresAt),
					unixOrZero(headcount.CreatedAt),
					unixOrZero(headcount.UpdatedAt),
				},
			})
	})
	if err != nil {
		return fmt.Errorf("store: put headcount %s: %w", headcount.ID, err)
	}
	return nil
}

const headcountColumns = `id, guild_id, organizer_id, activity_id,
	activity_label, channel_id, message_id, open, expires_at,
	created_at, updated_at`

// GetHeadcount returns the headcount with the given ID, or ErrNotFound.
func (s *Store) GetHeadcount(ctx context.Context, id string) (*Headcount, error) {
	var headcount *Headcount
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT "+headcountColumns+" FROM headcounts WHERE id = ?",
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					headcount = scanHeadcount(stmt)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: get headcount %s: %w", id, err)
	}
	if headcount == nil {
		return nil, fmt.Errorf("store: get headcount %s: %w", id, ErrNotFound)
	}
	return headcount, nil
}

// ListExpiredHeadcounts returns open headcounts whose expiry is armed
// and has elapsed at the given instant.
func (s *Store) ListExpiredHeadcounts(ctx context.Context, now time.Time) ([]Headcount, error) {
	var headcounts []Headcount
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT "+headcountColumns+" FROM headcounts WHERE open = 1 AND expires_at > 0 AND expires_at <= ? ORDER BY expires_at",
			&sqlitex.ExecOptions{
				Args: []any{now.Unix()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					headcounts = append(headcounts, *scanHeadcount(stmt))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list expired headcounts: %w", err)
	}
	return headcounts, nil
}

func scanHeadcount(stmt *sqlite.Stmt) *Headcount {
	return &Headcount{
		ID:            stmt.ColumnText(0),
		GuildID:       stmt.ColumnText(1),
		OrganizerID:   stmt.ColumnText(2),
		ActivityID:    stmt.ColumnText(3),
		ActivityLabel: stmt.ColumnText(4),
		ChannelID:     stmt.ColumnText(5),
		MessageID:     stmt.ColumnText(6),
		Open:          stmt.ColumnInt(7) != 0,
		ExpiresAt:     timeOrZero(stmt.ColumnInt64(8)),
		CreatedAt:     timeOrZero(stmt.ColumnInt64(9)),
		UpdatedAt:     timeOrZero(stmt.ColumnInt64(10)),
	}
}
