// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sjkd23/runboard/chat"
	"github.com/sjkd23/runboard/ledger"
)

// Interaction request and response type constants from the platform's
// interactions protocol.
const (
	interactionPing             = 1
	interactionMessageComponent = 3

	responsePong            = 1
	responseChannelMessage  = 4
	responseDeferredUpdate  = 6
	messageFlagEphemeral    = 64
	maxInteractionBodyBytes = 1 << 20
)

// Button and select-menu custom IDs all share the "rb:" prefix:
//
//	rb:join:run:<id>       participation join on a run
//	rb:join:headcount:<id> participation join on a headcount
//	rb:joinas:run:<id>     join via category select (category in values)
//	rb:leave:run:<id>      participation leave
//	rb:leave:headcount:<id>
//	rb:key:<id>            key pop (started runs only)
//	rb:start:<id>          organizer: run underway
//	rb:end:<id>            organizer: run complete
//	rb:cancel:<id>         organizer: call the run off
//	rb:ping:<id>           organizer: progression ping
//	rb:convert:<id>        organizer: headcount to run
const customIDPrefix = "rb"

type interactionRequest struct {
	Type    int                `json:"type"`
	Token   string             `json:"token"`
	GuildID string             `json:"guild_id"`
	Member  *interactionMember `json:"member"`
	Data    *interactionData   `json:"data"`
}

type interactionMember struct {
	User        chat.MemberUser `json:"user"`
	RoleIDs     []string        `json:"roles"`
	Permissions string          `json:"permissions"`
}

type interactionData struct {
	CustomID string   `json:"custom_id"`
	Values   []string `json:"values"`
}

type interactionResponse struct {
	Type int                      `json:"type"`
	Data *interactionResponseData `json:"data,omitempty"`
}

type interactionResponseData struct {
	Content string `json:"content,omitempty"`
	Flags   int    `json:"flags,omitempty"`
}

// interactionHandler is the HTTP handler for the platform's
// interactions webhook. Every request is Ed25519-verified before the
// body is trusted.
type interactionHandler struct {
	service   *Service
	publicKey ed25519.PublicKey
	logger    *slog.Logger
}

func newInteractionHandler(service *Service, publicKey ed25519.PublicKey, logger *slog.Logger) *interactionHandler {
	return &interactionHandler{
		service:   service,
		publicKey: publicKey,
		logger:    logger,
	}
}

func (h *interactionHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(io.LimitReader(request.Body, maxInteractionBodyBytes))
	if err != nil {
		http.Error(writer, "reading body", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(request.Header, body) {
		http.Error(writer, "invalid request signature", http.StatusUnauthorized)
		return
	}

	var interaction interactionRequest
	if err := json.Unmarshal(body, &interaction); err != nil {
		http.Error(writer, "malformed interaction", http.StatusBadRequest)
		return
	}

	switch interaction.Type {
	case interactionPing:
		writeResponse(writer, interactionResponse{Type: responsePong})

	case interactionMessageComponent:
		h.handleComponent(request.Context(), writer, &interaction)

	default:
		// Slash command parsing is registered out of band; anything
		// else is acknowledged without action.
		writeResponse(writer, interactionResponse{Type: responseDeferredUpdate})
	}
}

// verifySignature checks the Ed25519 signature over timestamp+body, as
// the platform requires for webhook-delivered interactions.
func (h *interactionHandler) verifySignature(header http.Header, body []byte) bool {
	signatureHex := header.Get("X-Signature-Ed25519")
	timestamp := header.Get("X-Signature-Timestamp")
	if signatureHex == "" || timestamp == "" {
		return false
	}
	signature, err := hex.DecodeString(signatureHex)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return false
	}
	signed := make([]byte, 0, len(timestamp)+len(body))
	signed = append(signed, timestamp...)
	signed = append(signed, body...)
	return ed25519.Verify(h.publicKey, signed, signature)
}

// handleComponent dispatches a button or select-menu interaction to the
// service and acknowledges it. State-changing actions respond with a
// deferred update: the panel refresh carries the visible change.
func (h *interactionHandler) handleComponent(ctx context.Context, writer http.ResponseWriter, interaction *interactionRequest) {
	if interaction.Data == nil || interaction.Member == nil {
		http.Error(writer, "missing component data", http.StatusBadRequest)
		return
	}

	who := actor{
		UserID:        interaction.Member.User.ID,
		RoleIDs:       interaction.Member.RoleIDs,
		Administrator: hasAdministratorBit(interaction.Member.Permissions),
		HasMemberData: true,
	}

	// Panel edits triggered by the action run in goroutines that
	// outlive this request, and net/http cancels the request context
	// as soon as the handler returns. Detach from that cancellation;
	// the daemon's shutdown path waits for in-flight edits instead.
	err := h.dispatch(context.WithoutCancel(ctx), interaction, who)
	if err == nil {
		writeResponse(writer, interactionResponse{Type: responseDeferredUpdate})
		return
	}

	var visible *userError
	if errors.As(err, &visible) {
		writeResponse(writer, interactionResponse{
			Type: responseChannelMessage,
			Data: &interactionResponseData{
				Content: visible.message,
				Flags:   messageFlagEphemeral,
			},
		})
		return
	}

	h.logger.Error("interaction failed",
		"custom_id", interaction.Data.CustomID,
		"user", who.UserID,
		"error", err,
	)
	writeResponse(writer, interactionResponse{
		Type: responseChannelMessage,
		Data: &interactionResponseData{
			Content: "Something went wrong. Try again in a moment.",
			Flags:   messageFlagEphemeral,
		},
	})
}

func (h *interactionHandler) dispatch(ctx context.Context, interaction *interactionRequest, who actor) error {
	action, source, targetID, err := parseCustomID(interaction.Data.CustomID)
	if err != nil {
		return err
	}

	switch action {
	case "join":
		return h.service.HandleJoin(ctx, source, targetID, who.UserID, "")
	case "joinas":
		category := ""
		if len(interaction.Data.Values) > 0 {
			category = interaction.Data.Values[0]
		}
		return h.service.HandleJoin(ctx, source, targetID, who.UserID, category)
	case "leave":
		return h.service.HandleLeave(ctx, source, targetID, who.UserID)
	case "key":
		return h.service.HandleKey(ctx, targetID, who.UserID)
	case "start":
		return h.service.HandleStart(ctx, targetID, who)
	case "end":
		return h.service.HandleEnd(ctx, targetID, who)
	case "cancel":
		return h.service.HandleCancel(ctx, targetID, who)
	case "ping":
		return h.service.HandlePing(ctx, targetID, "", who)
	case "convert":
		return h.service.HandleConvert(ctx, targetID, who)
	}
	return fmt.Errorf("unknown action %q", action)
}

// parseCustomID splits a custom ID into action, source, and target.
// Join and leave carry an explicit source segment; every other action
// targets a run or headcount directly.
func parseCustomID(customID string) (action string, source ledger.Source, targetID string, err error) {
	parts := strings.Split(customID, ":")
	if len(parts) < 3 || parts[0] != customIDPrefix {
		return "", "", "", fmt.Errorf("malformed custom ID %q", customID)
	}

	action = parts[1]
	switch action {
	case "join", "joinas", "leave":
		if len(parts) != 4 {
			return "", "", "", fmt.Errorf("malformed custom ID %q", customID)
		}
		switch parts[2] {
		case string(ledger.SourceRun):
			source = ledger.SourceRun
		case string(ledger.SourceHeadcount):
			source = ledger.SourceHeadcount
		default:
			return "", "", "", fmt.Errorf("unknown source in custom ID %q", customID)
		}
		return action, source, parts[3], nil
	default:
		if len(parts) != 3 {
			return "", "", "", fmt.Errorf("malformed custom ID %q", customID)
		}
		return action, "", parts[2], nil
	}
}

func writeResponse(writer http.ResponseWriter, response interactionResponse) {
	writer.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(writer).Encode(response)
}
