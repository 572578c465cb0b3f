// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sjkd23/runboard/lib/clock"
	"github.com/sjkd23/runboard/store"
)

// Timing holds the duration policy for run deadlines. Custom durations
// requested by organizers are capped at the maximums.
type Timing struct {
	// AutoEndDefault is the auto-end deadline armed when a run goes
	// live, measured from that moment.
	AutoEndDefault time.Duration
	// AutoEndMax caps organizer-requested auto-end durations.
	AutoEndMax time.Duration
	// KeyWindowDefault is the key window opened when a run starts, for
	// activities that use key windows.
	KeyWindowDefault time.Duration
	// KeyWindowMax caps organizer-requested key window durations.
	KeyWindowMax time.Duration
}

// AuditRecorder receives lifecycle events for the append-only audit
// log. Implementations must not block on the caller's critical path.
type AuditRecorder interface {
	StatusChanged(ctx context.Context, runID string, from, to Status, at time.Time)
}

// MachineConfig holds the collaborators for creating a Machine.
type MachineConfig struct {
	// Store is the persistence layer. Required.
	Store *store.Store

	// Clock provides the current time for deadlines. Required.
	Clock clock.Clock

	// Timing is the deadline policy. Required fields: AutoEndDefault,
	// AutoEndMax, KeyWindowDefault, KeyWindowMax.
	Timing Timing

	// Audit records status changes. nil disables auditing.
	Audit AuditRecorder

	// Logger receives operational messages. nil discards them.
	Logger *slog.Logger
}

// Machine owns run creation and status transitions. Safe for
// concurrent use; the store's transactions serialize writes.
type Machine struct {
	store  *store.Store
	clock  clock.Clock
	timing Timing
	audit  AuditRecorder
	logger *slog.Logger
}

// NewMachine creates a Machine.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("run: Store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("run: Clock is required")
	}
	if cfg.Timing.AutoEndDefault <= 0 || cfg.Timing.AutoEndMax <= 0 {
		return nil, fmt.Errorf("run: auto-end timing is required")
	}
	if cfg.Timing.KeyWindowDefault <= 0 || cfg.Timing.KeyWindowMax <= 0 {
		return nil, fmt.Errorf("run: key window timing is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Machine{
		store:  cfg.Store,
		clock:  cfg.Clock,
		timing: cfg.Timing,
		audit:  cfg.Audit,
		logger: logger,
	}, nil
}

// CreateRunParams describes a new run.
type CreateRunParams struct {
	GuildID       string
	OrganizerID   string
	ActivityID    string
	ActivityLabel string

	// RoleID is the optional role mentioned by progression pings.
	RoleID string

	Party    string
	Location string
}

// CreateRun creates a pending run and persists it. The run has no
// channel or message yet; those are recorded on the pending-to-live
// transition.
func (m *Machine) CreateRun(ctx context.Context, params CreateRunParams) (*store.Run, error) {
	if params.GuildID == "" || params.OrganizerID == "" || params.ActivityID == "" {
		return nil, fmt.Errorf("run: guild, organizer, and activity are required")
	}

	now := m.clock.Now()
	run := &store.Run{
		ID:            uuid.NewString(),
		GuildID:       params.GuildID,
		OrganizerID:   params.OrganizerID,
		ActivityID:    params.ActivityID,
		ActivityLabel: params.ActivityLabel,
		RoleID:        params.RoleID,
		Party:         params.Party,
		Location:      params.Location,
		Status:        string(StatusPending),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.PutRun(ctx, run); err != nil {
		return nil, fmt.Errorf("run: create: %w", err)
	}

	m.logger.Info("run created",
		"run", run.ID,
		"organizer", run.OrganizerID,
		"activity", run.ActivityID,
	)
	return run, nil
}

// CreateHeadcountParams describes a new headcount.
type CreateHeadcountParams struct {
	GuildID       string
	OrganizerID   string
	ActivityID    string
	ActivityLabel string

	ChannelID string
	MessageID string

	// Lifetime arms the expiry after which the scheduler closes the
	// headcount. Zero leaves it without an expiry.
	Lifetime time.Duration
}

// CreateHeadcount creates an open headcount and persists it.
func (m *Machine) CreateHeadcount(ctx context.Context, params CreateHeadcountParams) (*store.Headcount, error) {
	if params.GuildID == "" || params.OrganizerID == "" || params.ActivityID == "" {
		return nil, fmt.Errorf("run: guild, organizer, and activity are required")
	}

	now := m.clock.Now()
	headcount := &store.Headcount{
		ID:            uuid.NewString(),
		GuildID:       params.GuildID,
		OrganizerID:   params.OrganizerID,
		ActivityID:    params.ActivityID,
		ActivityLabel: params.ActivityLabel,
		ChannelID:     params.ChannelID,
		MessageID:     params.MessageID,
		Open:          true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if params.Lifetime > 0 {
		headcount.ExpiresAt = now.Add(params.Lifetime)
	}
	if err := m.store.PutHeadcount(ctx, headcount); err != nil {
		return nil, fmt.Errorf("run: create headcount: %w", err)
	}

	m.logger.Info("headcount created",
		"headcount", headcount.ID,
		"organizer", headcount.OrganizerID,
		"activity", headcount.ActivityID,
	)
	return headcount, nil
}

// TransitionOptions carries per-transition inputs to SetStatus. Fields
// irrelevant to the requested transition are ignored.
type TransitionOptions struct {
	// ChannelID and MessageID locate the public panel message, recorded
	// on the pending-to-live transition.
	ChannelID string
	MessageID string

	// AutoEnd overrides the default auto-end duration when going live.
	// Capped at Timing.AutoEndMax. Zero uses the default.
	AutoEnd time.Duration

	// OpenKeyWindow opens a key window when the run starts. Activities
	// without key drops leave this false.
	OpenKeyWindow bool

	// KeyWindow overrides the default key window duration. Capped at
	// Timing.KeyWindowMax. Zero uses the default.
	KeyWindow time.Duration
}

// SetStatus transitions a run to the target status, applying the
// transition's timing side effects, and returns the updated run. A
// disallowed edge returns *InvalidTransitionError and leaves the run
// untouched. Validation and write happen inside one store transaction,
// so of two racing transitions the loser is rejected against the
// winner's status rather than its own stale read.
func (m *Machine) SetStatus(ctx context.Context, runID string, target Status, opts TransitionOptions) (*store.Run, error) {
	now := m.clock.Now()
	var from Status
	run, err := m.store.MutateRun(ctx, runID, func(run *store.Run) error {
		parsed, err := ParseStatus(run.Status)
		if err != nil {
			return err
		}
		from = parsed
		if !canTransition(from, target) {
			return &InvalidTransitionError{RunID: runID, From: from, To: target}
		}

		switch target {
		case StatusLive:
			if opts.ChannelID != "" {
				run.ChannelID = opts.ChannelID
			}
			if opts.MessageID != "" {
				run.MessageID = opts.MessageID
			}
			run.AutoEndAt = now.Add(capDuration(opts.AutoEnd, m.timing.AutoEndDefault, m.timing.AutoEndMax))

		case StatusStarted:
			if opts.OpenKeyWindow {
				run.KeyWindowEndsAt = now.Add(capDuration(opts.KeyWindow, m.timing.KeyWindowDefault, m.timing.KeyWindowMax))
			}

		case StatusEnded, StatusCancelled:
			// Disarm the deadline so the scheduler query never revisits
			// this run.
			run.AutoEndAt = time.Time{}
		}

		run.Status = string(target)
		run.UpdatedAt = now
		return nil
	})
	if err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			return nil, invalid
		}
		return nil, fmt.Errorf("run: set status: %w", err)
	}

	m.logger.Info("run status changed",
		"run", runID,
		"from", string(from),
		"to", string(target),
	)
	if m.audit != nil {
		m.audit.StatusChanged(ctx, runID, from, target, now)
	}
	return run, nil
}

// KeyWindowOpen reports whether a run currently accepts key reactions:
// the run is started and its key window has not elapsed.
func (m *Machine) KeyWindowOpen(run *store.Run, at time.Time) bool {
	if Status(run.Status) != StatusStarted {
		return false
	}
	if run.KeyWindowEndsAt.IsZero() {
		return false
	}
	return at.Before(run.KeyWindowEndsAt)
}

// capDuration resolves a requested duration against a default and a
// maximum.
func capDuration(requested, fallback, max time.Duration) time.Duration {
	d := requested
	if d <= 0 {
		d = fallback
	}
	if d > max {
		d = max
	}
	return d
}
