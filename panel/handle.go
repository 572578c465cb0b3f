// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package panel

import (
	"context"
	"fmt"

	"github.com/sjkd23/runboard/chat"
)

// Editor is the slice of the chat client panel edits go through.
type Editor interface {
	EditMessage(ctx context.Context, channelID, messageID string, content chat.MessageContent) (*chat.Message, error)
	EditInteractionReply(ctx context.Context, interactionToken string, content chat.MessageContent) error
	EditFollowup(ctx context.Context, interactionToken, messageID string, content chat.MessageContent) error
}

// Handle is one editable rendering of a run or headcount panel. The
// three implementations are [*PublicMessage], [*InteractionReply], and
// [*Followup]; the unexported method keeps the set closed.
type Handle interface {
	// applyEdit pushes new content to the handle's target.
	applyEdit(ctx context.Context, editor Editor, content chat.MessageContent) error

	// Describe returns a short identifier for logs.
	Describe() string
}

// PublicMessage is the durable channel message every participant sees.
type PublicMessage struct {
	ChannelID string
	MessageID string
}

func (h *PublicMessage) applyEdit(ctx context.Context, editor Editor, content chat.MessageContent) error {
	_, err := editor.EditMessage(ctx, h.ChannelID, h.MessageID, content)
	return err
}

func (h *PublicMessage) Describe() string {
	return fmt.Sprintf("message %s/%s", h.ChannelID, h.MessageID)
}

// InteractionReply is the ephemeral original reply of an interaction,
// addressed through its webhook token. The token expires with the
// platform's interaction window.
type InteractionReply struct {
	Token string
}

func (h *InteractionReply) applyEdit(ctx context.Context, editor Editor, content chat.MessageContent) error {
	return editor.EditInteractionReply(ctx, h.Token, content)
}

func (h *InteractionReply) Describe() string {
	return "interaction-reply"
}

// Followup is a followup message sent through an interaction's webhook.
// Same token expiry as InteractionReply.
type Followup struct {
	Token     string
	MessageID string
}

func (h *Followup) applyEdit(ctx context.Context, editor Editor, content chat.MessageContent) error {
	return editor.EditFollowup(ctx, h.Token, h.MessageID, content)
}

func (h *Followup) Describe() string {
	return "followup " + h.MessageID
}

// HandleExpiredError reports that a handle's target no longer accepts
// edits: the message was deleted or the interaction token expired. The
// orchestrator unregisters the handle when it sees this.
type HandleExpiredError struct {
	Handle string
	Err    error
}

func (e *HandleExpiredError) Error() string {
	return fmt.Sprintf("panel: handle %s expired: %v", e.Handle, e.Err)
}

func (e *HandleExpiredError) Unwrap() error {
	return e.Err
}
