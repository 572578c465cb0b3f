// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sjkd23/runboard/ledger"
	"github.com/sjkd23/runboard/store"
)

// ConverterConfig holds the collaborators for creating a Converter.
type ConverterConfig struct {
	// Machine creates the pending run. Required.
	Machine *Machine

	// Ledger copies headcount joins into the run tally. Required.
	Ledger *ledger.Ledger

	// Store reads and closes the headcount. Required.
	Store *store.Store

	// Logger receives operational messages. nil discards them.
	Logger *slog.Logger
}

// Converter turns an open headcount into a pending run.
type Converter struct {
	machine *Machine
	ledger  *ledger.Ledger
	store   *store.Store
	logger  *slog.Logger
}

// NewConverter creates a Converter.
func NewConverter(cfg ConverterConfig) (*Converter, error) {
	if cfg.Machine == nil {
		return nil, fmt.Errorf("run: Machine is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("run: Ledger is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("run: Store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Converter{
		machine: cfg.Machine,
		ledger:  cfg.Ledger,
		store:   cfg.Store,
		logger:  logger,
	}, nil
}

// ConvertOptions carries run details not present on the headcount.
type ConvertOptions struct {
	// RoleID is the optional progression ping role for the new run.
	RoleID string

	Party    string
	Location string
}

// ConversionResult reports the outcome of a conversion.
type ConversionResult struct {
	// Run is the new pending run.
	Run *store.Run

	// HeadcountMessageID is the headcount's public message ID, returned
	// so the caller can clear its panel registry entry and rewrite the
	// message.
	HeadcountMessageID string

	// Imported is the number of joined users copied to the run tally.
	Imported int
}

// ConvertHeadcount creates a pending run from an open headcount, copies
// the headcount's live joins into the run's tally under the run source,
// and closes the headcount. The headcount's reaction rows are left
// intact. Converting an already-closed headcount fails.
func (c *Converter) ConvertHeadcount(ctx context.Context, headcountID string, opts ConvertOptions) (*ConversionResult, error) {
	headcount, err := c.store.GetHeadcount(ctx, headcountID)
	if err != nil {
		return nil, fmt.Errorf("run: convert: %w", err)
	}
	if !headcount.Open {
		return nil, fmt.Errorf("run: convert: headcount %s is closed", headcountID)
	}

	newRun, err := c.machine.CreateRun(ctx, CreateRunParams{
		GuildID:       headcount.GuildID,
		OrganizerID:   headcount.OrganizerID,
		ActivityID:    headcount.ActivityID,
		ActivityLabel: headcount.ActivityLabel,
		RoleID:        opts.RoleID,
		Party:         opts.Party,
		Location:      opts.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("run: convert: %w", err)
	}

	imported, err := c.ledger.Import(ctx, headcountID, ledger.SourceHeadcount, newRun.ID, ledger.SourceRun)
	if err != nil {
		return nil, fmt.Errorf("run: convert: %w", err)
	}

	headcount.Open = false
	headcount.UpdatedAt = c.machine.clock.Now()
	if err := c.store.PutHeadcount(ctx, headcount); err != nil {
		return nil, fmt.Errorf("run: convert: closing headcount: %w", err)
	}

	c.logger.Info("headcount converted",
		"headcount", headcountID,
		"run", newRun.ID,
		"imported", imported,
	)
	return &ConversionResult{
		Run:                newRun,
		HeadcountMessageID: headcount.MessageID,
		Imported:           imported,
	}, nil
}
