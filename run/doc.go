// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package run owns the run lifecycle: the status state machine,
// progression pings, and headcount conversion.
//
// A run moves through pending, live, started, and a terminal ended or
// cancelled. [Machine.SetStatus] is the only way status changes; it
// validates the transition against a fixed adjacency and applies the
// timing side effects (auto-end deadline on going live, key window on
// start). Deadlines are plain timestamps on the row. Nothing in this
// package sleeps; the scheduler package polls for elapsed deadlines and
// calls back into the machine.
//
// [PingDispatcher] maintains the at-most-one progression ping per run:
// it deletes the previous ping (best effort) before sending the
// replacement and persists the new message ID.
//
// [Converter] turns an open headcount into a pending run, copying the
// headcount's live joins into the run's tally while leaving the
// headcount rows intact.
package run
