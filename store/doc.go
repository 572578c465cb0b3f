// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package store provides SQLite persistence for runs, headcounts, and
// reactions.
//
// The store is intentionally dumb: it reads and writes rows and knows
// nothing about status transitions, key windows, or reaction semantics.
// Those live in the run and ledger packages, which compose on top of
// this one.
//
// Reactions are the one place the schema enforces a domain invariant: a
// unique index on (parent_id, user_id, reaction_type, source) guarantees
// at most one row per user per reaction type per parent per source.
// [Store.InsertReaction] surfaces a violation as [ErrDuplicate] so the
// ledger can run its read-then-write retry.
package store
