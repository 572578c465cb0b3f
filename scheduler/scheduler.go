// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler polls the store for elapsed deadlines: runs whose
// auto-end deadline passed are force-ended, open headcounts past their
// expiry are closed. All deadlines are timestamps on rows; nothing
// sleeps per run, so a restart never loses a pending deadline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sjkd23/runboard/lib/clock"
	"github.com/sjkd23/runboard/run"
	"github.com/sjkd23/runboard/store"
)

// Config holds the collaborators for creating a Scheduler.
type Config struct {
	// Store lists due runs and expired headcounts. Required.
	Store *store.Store

	// Machine performs the ended transition. Required.
	Machine *run.Machine

	// Clock drives the poll ticker. Required.
	Clock clock.Clock

	// PollInterval is the time between sweeps. Required.
	PollInterval time.Duration

	// OnRunEnded is called after a run is auto-ended, with the updated
	// run. The daemon refreshes panels and pings from here. Optional.
	OnRunEnded func(ctx context.Context, endedRun *store.Run)

	// OnHeadcountExpired is called after an expired headcount is
	// closed. Optional.
	OnHeadcountExpired func(ctx context.Context, headcount *store.Headcount)

	// Logger receives operational messages. nil discards them.
	Logger *slog.Logger
}

// Scheduler runs the deadline sweep loop.
type Scheduler struct {
	store              *store.Store
	machine            *run.Machine
	clock              clock.Clock
	pollInterval       time.Duration
	onRunEnded         func(ctx context.Context, endedRun *store.Run)
	onHeadcountExpired func(ctx context.Context, headcount *store.Headcount)
	logger             *slog.Logger
}

// New creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("scheduler: Store is required")
	}
	if cfg.Machine == nil {
		return nil, fmt.Errorf("scheduler: Machine is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("scheduler: Clock is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("scheduler: PollInterval is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		store:              cfg.Store,
		machine:            cfg.Machine,
		clock:              cfg.Clock,
		pollInterval:       cfg.PollInterval,
		onRunEnded:         cfg.OnRunEnded,
		onHeadcountExpired: cfg.OnHeadcountExpired,
		logger:             logger,
	}, nil
}

// Run sweeps on every tick until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "poll_interval", s.pollInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: auto-ends due runs and closes expired
// headcounts. Errors are logged and the sweep continues; a failing row
// is retried on the next pass.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.clock.Now()
	s.sweepRuns(ctx, now)
	s.sweepHeadcounts(ctx, now)
}

func (s *Scheduler) sweepRuns(ctx context.Context, now time.Time) {
	due, err := s.store.ListDueRuns(ctx, []string{
		string(run.StatusLive),
		string(run.StatusStarted),
	}, now)
	if err != nil {
		s.logger.Error("listing due runs failed", "error", err)
		return
	}

	for i := range due {
		ended, err := s.machine.SetStatus(ctx, due[i].ID, run.StatusEnded, run.TransitionOptions{})
		if err != nil {
			// A concurrent transition (organizer ended or cancelled the
			// run between the list and the write) is not a fault.
			var invalid *run.InvalidTransitionError
			if errors.As(err, &invalid) {
				s.logger.Debug("due run already transitioned",
					"run", due[i].ID,
					"status", invalid.From,
				)
				continue
			}
			s.logger.Error("auto-ending run failed", "run", due[i].ID, "error", err)
			continue
		}

		s.logger.Info("run auto-ended",
			"run", ended.ID,
			"deadline", due[i].AutoEndAt,
		)
		if s.onRunEnded != nil {
			s.onRunEnded(ctx, ended)
		}
	}
}

func (s *Scheduler) sweepHeadcounts(ctx context.Context, now time.Time) {
	expired, err := s.store.ListExpiredHeadcounts(ctx, now)
	if err != nil {
		s.logger.Error("listing expired headcounts failed", "error", err)
		return
	}

	for i := range expired {
		headcount := expired[i]
		headcount.Open = false
		headcount.UpdatedAt = now
		if err := s.store.PutHeadcount(ctx, &headcount); err != nil {
			s.logger.Error("closing expired headcount failed",
				"headcount", headcount.ID,
				"error", err,
			)
			continue
		}

		s.logger.Info("headcount expired", "headcount", headcount.ID)
		if s.onHeadcountExpired != nil {
			s.onHeadcountExpired(ctx, &headcount)
		}
	}
}
