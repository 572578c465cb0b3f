// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sjkd23/runboard/chat"
	"github.com/sjkd23/runboard/store"
)

// Messenger is the slice of the chat client the ping dispatcher needs.
type Messenger interface {
	SendMessage(ctx context.Context, channelID string, content chat.MessageContent) (*chat.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// PingDispatcherConfig holds the collaborators for creating a
// PingDispatcher.
type PingDispatcherConfig struct {
	// Store is the persistence layer. Required.
	Store *store.Store

	// Messenger sends and deletes channel messages. Required.
	Messenger Messenger

	// Logger receives operational messages. nil discards them.
	Logger *slog.Logger
}

// PingDispatcher sends progression pings for a run, keeping at most one
// ping message alive per run.
type PingDispatcher struct {
	store     *store.Store
	messenger Messenger
	logger    *slog.Logger
}

// NewPingDispatcher creates a PingDispatcher.
func NewPingDispatcher(cfg PingDispatcherConfig) (*PingDispatcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("run: Store is required")
	}
	if cfg.Messenger == nil {
		return nil, fmt.Errorf("run: Messenger is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PingDispatcher{
		store:     cfg.Store,
		messenger: cfg.Messenger,
		logger:    logger,
	}, nil
}

// SendProgressionPing posts a progression ping for the run, deleting
// the previous ping first so only the latest survives. Deletion
// failures are logged and ignored; a ping for a message the platform
// already dropped must not block the new one. The new message ID is
// persisted on the run.
func (d *PingDispatcher) SendProgressionPing(ctx context.Context, runID, text string) (*chat.Message, error) {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run: progression ping: %w", err)
	}
	if run.ChannelID == "" {
		return nil, fmt.Errorf("run: progression ping: run %s has no channel", runID)
	}

	if run.PingMessageID != "" {
		if err := d.messenger.DeleteMessage(ctx, run.ChannelID, run.PingMessageID); err != nil {
			d.logger.Warn("deleting previous progression ping failed",
				"run", runID,
				"message", run.PingMessageID,
				"error", err,
			)
		}
	}

	content := d.buildContent(run, text)
	message, err := d.messenger.SendMessage(ctx, run.ChannelID, content)
	if err != nil {
		return nil, fmt.Errorf("run: progression ping: %w", err)
	}

	// Targeted column update: a whole-row put here could write back a
	// status that a concurrent transition has already replaced.
	if err := d.store.UpdateRunPing(ctx, runID, message.ID); err != nil {
		return nil, fmt.Errorf("run: progression ping: persisting message ID: %w", err)
	}

	d.logger.Info("progression ping sent",
		"run", runID,
		"message", message.ID,
	)
	return message, nil
}

// buildContent assembles the ping body: optional role mention, the
// organizer's text with the activity label, party and location
// annotations, and a deep link back to the public panel message.
func (d *PingDispatcher) buildContent(run *store.Run, text string) chat.MessageContent {
	body := text
	if body == "" {
		body = run.ActivityLabel
	} else {
		body = fmt.Sprintf("%s (%s)", body, run.ActivityLabel)
	}
	if run.Party != "" {
		body += "\nParty: " + run.Party
	}
	if run.Location != "" {
		body += "\nLocation: " + run.Location
	}
	if run.MessageID != "" {
		body += fmt.Sprintf("\nhttps://discord.com/channels/%s/%s/%s",
			run.GuildID, run.ChannelID, run.MessageID)
	}

	content := chat.MessageContent{Content: body}
	if run.RoleID != "" {
		content.Content = fmt.Sprintf("<@&%s> %s", run.RoleID, content.Content)
		content.AllowedMentions = &chat.AllowedMentions{
			Parse: []string{},
			Roles: []string{run.RoleID},
		}
	}
	return content
}
