// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package panel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sjkd23/runboard/chat"
)

// OrchestratorConfig holds the collaborators for creating an
// Orchestrator.
type OrchestratorConfig struct {
	// Registry holds the handle groups. Required.
	Registry *Registry

	// Editor pushes edits to the platform. Required.
	Editor Editor

	// Logger receives operational messages. nil discards them.
	Logger *slog.Logger
}

// Orchestrator pushes refreshed panel content to every handle of a
// lifecycle. Edits run asynchronously; per handle at most one edit is
// in flight and later refreshes coalesce to the newest content.
type Orchestrator struct {
	registry *Registry
	editor   Editor
	logger   *slog.Logger

	mu     sync.Mutex
	states map[Handle]*editState
	wg     sync.WaitGroup
}

// editState holds the newest content waiting behind a handle's
// in-flight edit. An entry exists in the states map only while that
// handle's edit loop is running; the loop removes it when it drains,
// keeping the map bounded by the number of edits in flight.
type editState struct {
	pending *chat.MessageContent
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("panel: Registry is required")
	}
	if cfg.Editor == nil {
		return nil, fmt.Errorf("panel: Editor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		registry: cfg.Registry,
		editor:   cfg.Editor,
		logger:   logger,
		states:   make(map[Handle]*editState),
	}, nil
}

// RefreshAll pushes content to every handle registered under
// publicMessageID and returns without waiting for the edits to land.
// Failures never propagate to the caller: an expired handle is
// unregistered, any other failure is logged and the handle kept for the
// next refresh.
func (o *Orchestrator) RefreshAll(ctx context.Context, publicMessageID string, content chat.MessageContent) {
	for _, handle := range o.registry.List(publicMessageID) {
		o.scheduleEdit(ctx, publicMessageID, handle, content)
	}
}

// Shutdown drops every handle registered under publicMessageID. Called
// on terminal transitions and conversion. Idempotent: only the first
// call for a lifecycle finds handles to drop.
func (o *Orchestrator) Shutdown(publicMessageID string) {
	dropped := o.registry.Clear(publicMessageID)
	if len(dropped) > 0 {
		o.logger.Debug("panel group shut down",
			"public_message", publicMessageID,
			"handles", len(dropped),
		)
	}
}

// Wait blocks until all in-flight edits have finished. Used during
// daemon shutdown and by tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// scheduleEdit hands content to the handle's edit loop. If an edit is
// already in flight, the content replaces any previously pending
// content and the running loop picks it up.
func (o *Orchestrator) scheduleEdit(ctx context.Context, publicMessageID string, handle Handle, content chat.MessageContent) {
	o.mu.Lock()
	if state := o.states[handle]; state != nil {
		state.pending = &content
		o.mu.Unlock()
		return
	}
	state := &editState{}
	o.states[handle] = state
	o.mu.Unlock()

	o.wg.Add(1)
	go o.editLoop(ctx, publicMessageID, handle, state, content)
}

// editLoop applies edits for one handle until no newer content is
// pending.
func (o *Orchestrator) editLoop(ctx context.Context, publicMessageID string, handle Handle, state *editState, content chat.MessageContent) {
	defer o.wg.Done()

	for {
		retired := o.applyOnce(ctx, publicMessageID, handle, content)

		o.mu.Lock()
		if retired || state.pending == nil {
			delete(o.states, handle)
			o.mu.Unlock()
			return
		}
		content = *state.pending
		state.pending = nil
		o.mu.Unlock()
	}
}

// applyOnce performs a single edit and classifies the outcome. Returns
// true when the handle is gone for good and was unregistered.
func (o *Orchestrator) applyOnce(ctx context.Context, publicMessageID string, handle Handle, content chat.MessageContent) bool {
	err := handle.applyEdit(ctx, o.editor, content)
	if err == nil {
		return false
	}

	if chat.IsNotFound(err) || chat.IsUnknownToken(err) {
		expired := &HandleExpiredError{Handle: handle.Describe(), Err: err}
		o.registry.Unregister(publicMessageID, handle)
		o.logger.Debug("expired panel handle unregistered",
			"public_message", publicMessageID,
			"handle", handle.Describe(),
			"error", expired,
		)
		return true
	}

	o.logger.Warn("panel refresh failed",
		"public_message", publicMessageID,
		"handle", handle.Describe(),
		"error", err,
	)
	return false
}
