// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sjkd23/runboard/lib/clock"
	"github.com/sjkd23/runboard/store"
)

// Source identifies which lifecycle phase a reaction belongs to.
type Source string

const (
	SourceRun       Source = "run"
	SourceHeadcount Source = "headcount"
)

// State is a user's participation state for one reaction type.
type State int

const (
	// StateNone means the user never reacted.
	StateNone State = iota
	// StateJoined means the user's most recent action was a join.
	StateJoined
	// StateLeft means the user joined and later left.
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	default:
		return "none"
	}
}

// ConflictError is returned when a reaction write loses the insert race
// and the fallback update also fails. Callers may retry the whole
// operation.
type ConflictError struct {
	ParentID string
	UserID   string
	Type     string
	Source   Source
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ledger: conflicting write for %s/%s type %q source %q",
		e.ParentID, e.UserID, e.Type, e.Source)
}

// Config holds the collaborators for creating a Ledger.
type Config struct {
	// Store is the persistence layer. Required.
	Store *store.Store

	// Clock stamps reaction updates. Required.
	Clock clock.Clock

	// Logger receives operational messages. nil discards them.
	Logger *slog.Logger
}

// Ledger provides the reaction operations the interaction handlers and
// the converter call. Safe for concurrent use.
type Ledger struct {
	store  *store.Store
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("ledger: Store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("ledger: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ledger{store: cfg.Store, clock: cfg.Clock, logger: logger}, nil
}

// Join records that a user joined under the given reaction type.
// Re-joining after a leave reactivates the existing row. The category
// annotates the join (e.g. a class or role) and replaces any previous
// category. Returns the updated aggregate count for the reaction type.
func (l *Ledger) Join(ctx context.Context, parentID, userID, reactionType string, source Source, category string) (int64, error) {
	err := l.upsert(ctx, &store.Reaction{
		ParentID: parentID,
		UserID:   userID,
		Type:     reactionType,
		Source:   string(source),
		Category: category,
		Value:    1,
	})
	if err != nil {
		return 0, err
	}
	return l.count(ctx, parentID, reactionType, source)
}

// Leave records that a user left. Leaving without a prior join is a
// no-op. Returns the updated aggregate count for the reaction type.
func (l *Ledger) Leave(ctx context.Context, parentID, userID, reactionType string, source Source) (int64, error) {
	existing, err := l.store.GetReaction(ctx, parentID, userID, reactionType, string(source))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return l.count(ctx, parentID, reactionType, source)
		}
		return 0, fmt.Errorf("ledger: leave: %w", err)
	}

	existing.Value = 0
	existing.UpdatedAt = l.clock.Now()
	if err := l.store.UpdateReaction(ctx, existing); err != nil {
		return 0, fmt.Errorf("ledger: leave: %w", err)
	}
	return l.count(ctx, parentID, reactionType, source)
}

// AddKey adds delta to a user's key counter for the given reaction
// type, creating the row on first use. The counter never drops below
// zero. Returns the updated aggregate count for the reaction type.
func (l *Ledger) AddKey(ctx context.Context, parentID, userID, reactionType string, source Source, delta int64) (int64, error) {
	existing, err := l.store.GetReaction(ctx, parentID, userID, reactionType, string(source))
	switch {
	case err == nil:
		value := existing.Value + delta
		if value < 0 {
			value = 0
		}
		existing.Value = value
		existing.UpdatedAt = l.clock.Now()
		if err := l.store.UpdateReaction(ctx, existing); err != nil {
			return 0, fmt.Errorf("ledger: add key: %w", err)
		}
	case errors.Is(err, store.ErrNotFound):
		value := delta
		if value < 0 {
			value = 0
		}
		err := l.upsert(ctx, &store.Reaction{
			ParentID: parentID,
			UserID:   userID,
			Type:     reactionType,
			Source:   string(source),
			Value:    value,
		})
		if err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("ledger: add key: %w", err)
	}
	return l.count(ctx, parentID, reactionType, source)
}

// State returns a user's participation state for one reaction type.
func (l *Ledger) State(ctx context.Context, parentID, userID, reactionType string, source Source) (State, error) {
	reaction, err := l.store.GetReaction(ctx, parentID, userID, reactionType, string(source))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return StateNone, nil
		}
		return StateNone, fmt.Errorf("ledger: state: %w", err)
	}
	if reaction.Value > 0 {
		return StateJoined, nil
	}
	return StateLeft, nil
}

// Aggregate returns the live count per reaction type for a parent and
// source. Users who left and zeroed key counters contribute nothing.
func (l *Ledger) Aggregate(ctx context.Context, parentID string, source Source) (map[string]int64, error) {
	totals, err := l.store.AggregateReactions(ctx, parentID, string(source))
	if err != nil {
		return nil, fmt.Errorf("ledger: aggregate: %w", err)
	}
	return totals, nil
}

// AggregateByCategory returns the live count per (category, reaction
// type) for a parent and source, covering only categorized reactions.
func (l *Ledger) AggregateByCategory(ctx context.Context, parentID string, source Source) (map[string]map[string]int64, error) {
	totals, err := l.store.AggregateReactionsByCategory(ctx, parentID, string(source))
	if err != nil {
		return nil, fmt.Errorf("ledger: aggregate by category: %w", err)
	}
	return totals, nil
}

// Import copies the live joined rows of one (parent, source) tally into
// another, preserving categories. The originals are left intact. Used
// by headcount conversion to seed the run tally. Returns the number of
// rows imported.
func (l *Ledger) Import(ctx context.Context, fromParentID string, fromSource Source, toParentID string, toSource Source) (int, error) {
	rows, err := l.store.ListReactions(ctx, fromParentID, string(fromSource))
	if err != nil {
		return 0, fmt.Errorf("ledger: import: %w", err)
	}

	imported := 0
	for i := range rows {
		if rows[i].Value <= 0 {
			continue
		}
		err := l.upsert(ctx, &store.Reaction{
			ParentID: toParentID,
			UserID:   rows[i].UserID,
			Type:     rows[i].Type,
			Source:   string(toSource),
			Category: rows[i].Category,
			Value:    rows[i].Value,
		})
		if err != nil {
			return imported, fmt.Errorf("ledger: import %s: %w", rows[i].UserID, err)
		}
		imported++
	}
	return imported, nil
}

// upsert writes a reaction row, trying insert first and falling back to
// update when the unique index reports an existing row. A second
// failure surfaces as *ConflictError.
func (l *Ledger) upsert(ctx context.Context, reaction *store.Reaction) error {
	reaction.UpdatedAt = l.clock.Now()

	existing, err := l.store.GetReaction(ctx, reaction.ParentID, reaction.UserID, reaction.Type, reaction.Source)
	if err == nil {
		existing.Category = reaction.Category
		existing.Value = reaction.Value
		existing.UpdatedAt = reaction.UpdatedAt
		if updateErr := l.store.UpdateReaction(ctx, existing); updateErr != nil {
			return fmt.Errorf("ledger: upsert: %w", updateErr)
		}
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("ledger: upsert: %w", err)
	}

	insertErr := l.store.InsertReaction(ctx, reaction)
	if insertErr == nil {
		return nil
	}
	if !errors.Is(insertErr, store.ErrDuplicate) {
		return fmt.Errorf("ledger: upsert: %w", insertErr)
	}

	// Lost the insert race: another writer created the row between the
	// read and the insert. Re-read and update once.
	l.logger.Debug("reaction insert race, retrying as update",
		"parent", reaction.ParentID,
		"user", reaction.UserID,
		"type", reaction.Type,
	)
	existing, err = l.store.GetReaction(ctx, reaction.ParentID, reaction.UserID, reaction.Type, reaction.Source)
	if err != nil {
		return &ConflictError{
			ParentID: reaction.ParentID,
			UserID:   reaction.UserID,
			Type:     reaction.Type,
			Source:   Source(reaction.Source),
		}
	}
	existing.Category = reaction.Category
	existing.Value = reaction.Value
	existing.UpdatedAt = reaction.UpdatedAt
	if err := l.store.UpdateReaction(ctx, existing); err != nil {
		return &ConflictError{
			ParentID: reaction.ParentID,
			UserID:   reaction.UserID,
			Type:     reaction.Type,
			Source:   Source(reaction.Source),
		}
	}
	return nil
}

// count returns the aggregate count for one reaction type.
func (l *Ledger) count(ctx context.Context, parentID, reactionType string, source Source) (int64, error) {
	totals, err := l.store.AggregateReactions(ctx, parentID, string(source))
	if err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return totals[reactionType], nil
}
