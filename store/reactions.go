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

// Reaction is a reaction row. The (ParentID, UserID, Type, Source)
// tuple is unique; Value carries the reaction's numeric state: 1/0 for
// participation join/leave, a non-negative count for key reactions.
type Reaction struct {
	ParentID string
	UserID   string
	Type     string

	// Source separates headcount-phase rows from run-phase rows for
	// the same parent lineage.
	Source string

	// Category is the optional class annotation on participation
	// reactions. Empty for uncategorized reactions.
	Category string

	Value     int64
	UpdatedAt time.Time
}

// InsertReaction inserts a new reaction row. Returns ErrDuplicate when
// a row with the same (parent, user, type, source) key already exists.
func (s *Store) InsertReaction(ctx context.Context, reaction *Reaction) error {
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO reactions
			(parent_id, user_id, reaction_type, source, category, value, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					reaction.ParentID,
					reaction.UserID,
					reaction.Type,
					reaction.Source,
					reaction.Category,
					reaction.Value,
					unixOrZero(reaction.UpdatedAt),
				},
			})
	})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
			return fmt.Errorf("store: insert reaction: %w", ErrDuplicate)
		}
		return fmt.Errorf("store: insert reaction: %w", err)
	}
	return nil
}

// UpdateReaction updates the value, category, and timestamp of an
// existing reaction row. Returns ErrNotFound when no row matches the
// key.
func (s *Store) UpdateReaction(ctx context.Context, reaction *Reaction) error {
	changed := false
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE reactions
			SET category = ?, value = ?, updated_at = ?
			WHERE parent_id = ? AND user_id = ? AND reaction_type = ? AND source = ?`,
			&sqlitex.ExecOptions{
				Args: []any{
					reaction.Category,
					reaction.Value,
					unixOrZero(reaction.UpdatedAt),
					reaction.ParentID,
					reaction.UserID,
					reaction.Type,
					reaction.Source,
				},
			})
		if err != nil {
			return err
		}
		changed = conn.Changes() > 0
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: update reaction: %w", err)
	}
	if !changed {
		return fmt.Errorf("store: update reaction: %w", ErrNotFound)
	}
	return nil
}

const reactionColumns = "parent_id, user_id, reaction_type, source, category, value, updated_at"

// GetReaction returns the reaction row for the given key, or
// ErrNotFound.
func (s *Store) GetReaction(ctx context.Context, parentID, userID, reactionType, source string) (*Reaction, error) {
	var reaction *Reaction
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT "+reactionColumns+` FROM reactions
			WHERE parent_id = ? AND user_id = ? AND reaction_type = ? AND source = ?`,
			&sqlitex.ExecOptions{
				Args: []any{parentID, userID, reactionType, source},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					reaction = scanReaction(stmt)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: get reaction: %w", err)
	}
	if reaction == nil {
		return nil, fmt.Errorf("store: get reaction: %w", ErrNotFound)
	}
	return reaction, nil
}

// ListReactions returns all reaction rows for a parent and source.
func (s *Store) ListReactions(ctx context.Context, parentID, source string) ([]Reaction, error) {
	var reactions []Reaction
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT "+reactionColumns+" FROM reactions WHERE parent_id = ? AND source = ? ORDER BY user_id, reaction_type",
			&sqlitex.ExecOptions{
				Args: []any{parentID, source},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					reactions = append(reactions, *scanReaction(stmt))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list reactions: %w", err)
	}
	return reactions, nil
}

// AggregateReactions returns the summed value per reaction type for a
// parent and source, excluding rows whose value dropped to zero. A user
// who joined and then left contributes nothing.
func (s *Store) AggregateReactions(ctx context.Context, parentID, source string) (map[string]int64, error) {
	totals := make(map[string]int64)
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT reaction_type, SUM(value)
			FROM reactions
			WHERE parent_id = ? AND source = ? AND value > 0
			GROUP BY reaction_type`,
			&sqlitex.ExecOptions{
				Args: []any{parentID, source},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					totals[stmt.ColumnText(0)] = stmt.ColumnInt64(1)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: aggregate reactions: %w", err)
	}
	return totals, nil
}

// AggregateReactionsByCategory returns the summed value per
// (category, reaction type) for a parent and source. Rows with an empty
// category or a zero value are excluded.
func (s *Store) AggregateReactionsByCategory(ctx context.Context, parentID, source string) (map[string]map[string]int64, error) {
	totals := make(map[string]map[string]int64)
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT category, reaction_type, SUM(value)
			FROM reactions
			WHERE parent_id = ? AND source = ? AND value > 0 AND category != ''
			GROUP BY category, reaction_type`,
			&sqlitex.ExecOptions{
				Args: []any{parentID, source},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					category := stmt.ColumnText(0)
					if totals[category] == nil {
						totals[category] = make(map[string]int64)
					}
					totals[category][stmt.ColumnText(1)] = stmt.ColumnInt64(2)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: aggregate reactions by category: %w", err)
	}
	return totals, nil
}

func scanReaction(stmt *sqlite.Stmt) *Reaction {
	return &Reaction{
		ParentID:  stmt.ColumnText(0),
		UserID:    stmt.ColumnText(1),
		Type:      stmt.ColumnText(2),
		Source:    stmt.ColumnText(3),
		Category:  stmt.ColumnText(4),
		Value:     stmt.ColumnInt64(5),
		UpdatedAt: timeOrZero(stmt.ColumnInt64(6)),
	}
}
