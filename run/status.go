// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package run

import "fmt"

// Status is a run's lifecycle state.
type Status string

const (
	// StatusPending is a created run that has not been posted yet.
	StatusPending Status = "pending"
	// StatusLive is a posted run accepting joins.
	StatusLive Status = "live"
	// StatusStarted is a run whose activity is underway.
	StatusStarted Status = "started"
	// StatusEnded is a completed run. Terminal.
	StatusEnded Status = "ended"
	// StatusCancelled is a run called off before completion. Terminal.
	StatusCancelled Status = "cancelled"
)

// ParseStatus converts a stored status string back to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusLive, StatusStarted, StatusEnded, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("run: unknown status %q", s)
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// transitions is the allowed adjacency. Starting requires going live
// first: pending to started is not in the map. Cancellation is
// reachable from every non-terminal state, and live to ended exists so
// the scheduler can force-end runs that never started.
var transitions = map[Status][]Status{
	StatusPending: {StatusLive, StatusCancelled},
	StatusLive:    {StatusStarted, StatusEnded, StatusCancelled},
	StatusStarted: {StatusEnded, StatusCancelled},
}

// canTransition reports whether the from/to pair is an allowed edge.
func canTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a rejected status change. The run is
// left untouched.
type InvalidTransitionError struct {
	RunID string
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("run: invalid transition %s -> %s for run %s", e.From, e.To, e.RunID)
}
