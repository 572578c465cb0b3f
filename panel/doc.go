// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package panel keeps every rendered view of a run or headcount in sync
// with its current state.
//
// A [Handle] is one editable surface: the public channel message, an
// ephemeral interaction reply, or a followup message. Handles for the
// same lifecycle are grouped in the [Registry] under the public
// message's ID.
//
// The [Orchestrator] broadcasts a refreshed view to every registered
// handle. The broadcast is best effort: one failing handle never blocks
// the others, and a handle whose target is gone (deleted message,
// expired interaction token) is unregistered on the spot. Per handle,
// at most one edit is in flight at a time; refreshes arriving while an
// edit runs coalesce so the handle converges on the latest view without
// queueing stale intermediate states.
package panel
