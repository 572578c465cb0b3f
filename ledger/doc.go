// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger tracks per-user reactions on runs and headcounts.
//
// A reaction is keyed by (parent, user, type, source). Participation
// reactions carry a joined/left state; key reactions carry a
// non-negative counter. Leaving flips the row's value to zero rather
// than deleting it, so the ledger is append/update-only and a user's
// history survives a join/leave/join cycle as a single row.
//
// The source dimension keeps headcount-phase and run-phase tallies for
// the same lineage independent: converting a headcount to a run copies
// its joins under the run source while the originals stay queryable.
//
// Writes race benignly: when two goroutines insert the same key at
// once, the loser re-reads and updates. If both the insert and the
// fallback update fail, the write surfaces a [*ConflictError].
package ledger
