// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Path: filepath.Join(t.TempDir(), "runboard.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return s
}

func TestRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	run := &Run{
		ID:            "run-1",
		GuildID:       "g-1",
		OrganizerID:   "u-1",
		ActivityID:    "act-vog",
		ActivityLabel: "Vault",
		RoleID:        "role-1",
		Status:        "pending",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.PutRun(ctx, run); err != nil {
		t.Fatalf("PutRun failed: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.ActivityLabel != "Vault" || got.Status != "pending" {
		t.Errorf("unexpected run: %+v", got)
	}
	if !got.AutoEndAt.IsZero() {
		t.Errorf("AutoEndAt should round-trip as zero, got %v", got.AutoEndAt)
	}

	// Put again with updated fields replaces the row.
	run.Status = "live"
	run.ChannelID = "chan-1"
	run.MessageID = "msg-1"
	run.AutoEndAt = now.Add(2 * time.Hour)
	if err := s.PutRun(ctx, run); err != nil {
		t.Fatalf("PutRun update failed: %v", err)
	}
	got, err = s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != "live" || got.MessageID != "msg-1" {
		t.Errorf("update not applied: %+v", got)
	}
	if !got.AutoEndAt.Equal(now.Add(2 * time.Hour)) {
		t.Errorf("AutoEndAt = %v, want %v", got.AutoEndAt, now.Add(2*time.Hour))
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListDueRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	put := func(id, status string, autoEnd time.Time) {
		t.Helper()
		err := s.PutRun(ctx, &Run{
			ID: id, GuildID: "g", OrganizerID: "u", ActivityID: "a",
			ActivityLabel: "A", Status: status, AutoEndAt: autoEnd,
			CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("PutRun %s failed: %v", id, err)
		}
	}

	put("due-live", "live", now.Add(-time.Minute))
	put("due-started", "started", now.Add(-time.Hour))
	put("future", "live", now.Add(time.Hour))
	put("no-deadline", "live", time.Time{})
	put("wrong-status", "ended", now.Add(-time.Minute))

	due, err := s.ListDueRuns(ctx, []string{"live", "started"}, now)
	if err != nil {
		t.Fatalf("ListDueRuns failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due runs, want 2: %+v", len(due), due)
	}
	// Ordered by deadline, oldest first.
	if due[0].ID != "due-started" || due[1].ID != "due-live" {
		t.Errorf("unexpected order: %s, %s", due[0].ID, due[1].ID)
	}
}

func TestHeadcountRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	headcount := &Headcount{
		ID:            "hc-1",
		GuildID:       "g-1",
		OrganizerID:   "u-1",
		ActivityID:    "act-1",
		ActivityLabel: "Raid",
		Open:          true,
		ExpiresAt:     now.Add(6 * time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.PutHeadcount(ctx, headcount); err != nil {
		t.Fatalf("PutHeadcount failed: %v", err)
	}

	got, err := s.GetHeadcount(ctx, "hc-1")
	if err != nil {
		t.Fatalf("GetHeadcount failed: %v", err)
	}
	if !got.Open || got.ActivityLabel != "Raid" {
		t.Errorf("unexpected headcount: %+v", got)
	}

	headcount.Open = false
	if err := s.PutHeadcount(ctx, headcount); err != nil {
		t.Fatalf("PutHeadcount close failed: %v", err)
	}
	got, err = s.GetHeadcount(ctx, "hc-1")
	if err != nil {
		t.Fatalf("GetHeadcount failed: %v", err)
	}
	if got.Open {
		t.Error("headcount should be closed")
	}

	if _, err := s.GetHeadcount(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListExpiredHeadcounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	put := func(id string, open bool, expires time.Time) {
		t.Helper()
		err := s.PutHeadcount(ctx, &Headcount{
			ID: id, GuildID: "g", OrganizerID: "u", ActivityID: "a",
			ActivityLabel: "A", Open: open, ExpiresAt: expires,
			CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("PutHeadcount %s failed: %v", id, err)
		}
	}

	put("expired", true, now.Add(-time.Minute))
	put("fresh", true, now.Add(time.Hour))
	put("closed", false, now.Add(-time.Minute))
	put("no-expiry", true, time.Time{})

	expired, err := s.ListExpiredHeadcounts(ctx, now)
	if err != nil {
		t.Fatalf("ListExpiredHeadcounts failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "expired" {
		t.Errorf("unexpected expired set: %+v", expired)
	}
}

func TestReactionInsertAndDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	reaction := &Reaction{
		ParentID: "run-1", UserID: "u-1", Type: "join", Source: "run",
		Value: 1, UpdatedAt: now,
	}
	if err := s.InsertReaction(ctx, reaction); err != nil {
		t.Fatalf("InsertReaction failed: %v", err)
	}

	err := s.InsertReaction(ctx, reaction)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("second insert: err = %v, want ErrDuplicate", err)
	}

	// Same key under a different source is a distinct row.
	other := *reaction
	other.Source = "headcount"
	if err := s.InsertReaction(ctx, &other); err != nil {
		t.Errorf("insert with different source failed: %v", err)
	}
}

func TestReactionUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	reaction := &Reaction{
		ParentID: "run-1", UserID: "u-1", Type: "join", Source: "run",
		Category: "dps", Value: 1, UpdatedAt: now,
	}
	if err := s.InsertReaction(ctx, reaction); err != nil {
		t.Fatalf("InsertReaction failed: %v", err)
	}

	reaction.Value = 0
	if err := s.UpdateReaction(ctx, reaction); err != nil {
		t.Fatalf("UpdateReaction failed: %v", err)
	}

	got, err := s.GetReaction(ctx, "run-1", "u-1", "join", "run")
	if err != nil {
		t.Fatalf("GetReaction failed: %v", err)
	}
	if got.Value != 0 || got.Category != "dps" {
		t.Errorf("unexpected reaction: %+v", got)
	}

	missing := &Reaction{ParentID: "run-1", UserID: "u-2", Type: "join", Source: "run"}
	if err := s.UpdateReaction(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAggregateReactions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insert := func(userID, reactionType, source, category string, value int64) {
		t.Helper()
		err := s.InsertReaction(ctx, &Reaction{
			ParentID: "run-1", UserID: userID, Type: reactionType,
			Source: source, Category: category, Value: value, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("InsertReaction failed: %v", err)
		}
	}

	insert("u-1", "join", "run", "dps", 1)
	insert("u-2", "join", "run", "support", 1)
	insert("u-3", "join", "run", "", 0) // left: excluded
	insert("u-1", "key", "run", "", 3)
	insert("u-4", "join", "headcount", "", 1) // other source

	totals, err := s.AggregateReactions(ctx, "run-1", "run")
	if err != nil {
		t.Fatalf("AggregateReactions failed: %v", err)
	}
	if totals["join"] != 2 {
		t.Errorf("join total = %d, want 2", totals["join"])
	}
	if totals["key"] != 3 {
		t.Errorf("key total = %d, want 3", totals["key"])
	}

	byCategory, err := s.AggregateReactionsByCategory(ctx, "run-1", "run")
	if err != nil {
		t.Fatalf("AggregateReactionsByCategory failed: %v", err)
	}
	if byCategory["dps"]["join"] != 1 || byCategory["support"]["join"] != 1 {
		t.Errorf("unexpected category totals: %+v", byCategory)
	}
	if _, ok := byCategory[""]; ok {
		t.Error("empty category should be excluded")
	}

	headcountTotals, err := s.AggregateReactions(ctx, "run-1", "headcount")
	if err != nil {
		t.Fatalf("AggregateReactions failed: %v", err)
	}
	if headcountTotals["join"] != 1 {
		t.Errorf("headcount join total = %d, want 1", headcountTotals["join"])
	}
}

func TestListReactions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, userID := range []string{"u-2", "u-1"} {
		err := s.InsertReaction(ctx, &Reaction{
			ParentID: "hc-1", UserID: userID, Type: "join",
			Source: "headcount", Value: 1, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("InsertReaction failed: %v", err)
		}
	}

	reactions, err := s.ListReactions(ctx, "hc-1", "headcount")
	if err != nil {
		t.Fatalf("ListReactions failed: %v", err)
	}
	if len(reactions) != 2 {
		t.Fatalf("got %d reactions, want 2", len(reactions))
	}
	if reactions[0].UserID != "u-1" || reactions[1].UserID != "u-2" {
		t.Errorf("unexpected order: %s, %s", reactions[0].UserID, reactions[1].UserID)
	}
}

func TestMutateRunSerializesWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	run := &Run{
		ID: "run-1", GuildID: "g", OrganizerID: "u", ActivityID: "a",
		ActivityLabel: "A", Status: "live", Party: "0",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.PutRun(ctx, run); err != nil {
		t.Fatalf("PutRun failed: %v", err)
	}

	// Each goroutine increments a counter stored in the row. Lost
	// updates would leave the final value short.
	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.MutateRun(ctx, "run-1", func(run *Run) error {
				n, err := strconv.Atoi(run.Party)
				if err != nil {
					return err
				}
				run.Party = strconv.Itoa(n + 1)
				return nil
			})
			if err != nil {
				t.Errorf("MutateRun failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Party != strconv.Itoa(writers) {
		t.Errorf("counter = %s, want %d", got.Party, writers)
	}
}

func TestMutateRunErrorAbortsWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	run := &Run{
		ID: "run-1", GuildID: "g", OrganizerID: "u", ActivityID: "a",
		ActivityLabel: "A", Status: "ended",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.PutRun(ctx, run); err != nil {
		t.Fatalf("PutRun failed: %v", err)
	}

	rejected := errors.New("rejected")
	_, err := s.MutateRun(ctx, "run-1", func(run *Run) error {
		run.Status = "live"
		return rejected
	})
	if !errors.Is(err, rejected) {
		t.Fatalf("err = %v, want the mutate error unwrapped", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != "ended" {
		t.Errorf("status = %q, rejected mutation must not be written", got.Status)
	}

	if _, err := s.MutateRun(ctx, "missing", func(*Run) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateRunPingTouchesOnlyPingColumn(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	run := &Run{
		ID: "run-1", GuildID: "g", OrganizerID: "u", ActivityID: "a",
		ActivityLabel: "A", Status: "started", ChannelID: "chan-1",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.PutRun(ctx, run); err != nil {
		t.Fatalf("PutRun failed: %v", err)
	}

	// A transition lands after our caller read the row.
	run.Status = "ended"
	if err := s.PutRun(ctx, run); err != nil {
		t.Fatalf("PutRun failed: %v", err)
	}

	if err := s.UpdateRunPing(ctx, "run-1", "ping-1"); err != nil {
		t.Fatalf("UpdateRunPing failed: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.PingMessageID != "ping-1" {
		t.Errorf("PingMessageID = %q, want ping-1", got.PingMessageID)
	}
	if got.Status != "ended" {
		t.Errorf("status = %q, ping write must not revert a transition", got.Status)
	}

	if err := s.UpdateRunPing(ctx, "missing", "ping-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
