// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/sjkd23/runboard/chat"
	"github.com/sjkd23/runboard/ledger"
	"github.com/sjkd23/runboard/lib/authz"
	"github.com/sjkd23/runboard/lib/clock"
	"github.com/sjkd23/runboard/panel"
	"github.com/sjkd23/runboard/run"
	"github.com/sjkd23/runboard/store"

	auditlog "github.com/sjkd23/runboard/audit"
)

// Reaction types the interaction buttons write.
const (
	reactionJoin = "join"
	reactionKey  = "key"
)

// memberFetcher is the slice of the chat client used for authorization
// when the interaction payload lacks member data.
type memberFetcher interface {
	GetGuildMember(ctx context.Context, guildID, userID string) (*chat.Member, error)
}

// Service glues the interaction endpoint to the core packages.
type Service struct {
	store     *store.Store
	ledger    *ledger.Ledger
	machine   *run.Machine
	converter *run.Converter
	pings     *run.PingDispatcher
	registry  *panel.Registry
	panels    *panel.Orchestrator
	messenger run.Messenger
	members   memberFetcher
	clock     clock.Clock
	audit     *auditlog.Log

	organizerRoleID   string
	headcountLifetime time.Duration
	logger            *slog.Logger
}

// actor identifies the user behind an interaction, with whatever
// capability data the payload carried.
type actor struct {
	UserID        string
	RoleIDs       []string
	Administrator bool
	HasMemberData bool
}

// userError is an error whose message is safe to show to the acting
// user as an ephemeral reply.
type userError struct {
	message string
}

func (e *userError) Error() string { return e.message }

func failUser(message string) error {
	return &userError{message: message}
}

// HandleJoin records a participation join and refreshes every panel of
// the parent.
func (s *Service) HandleJoin(ctx context.Context, source ledger.Source, parentID, userID, category string) error {
	count, err := s.ledger.Join(ctx, parentID, userID, reactionJoin, source, category)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	s.recordReaction(ctx, parentID, userID, reactionJoin, source, 1)
	s.logger.Info("user joined",
		"parent", parentID,
		"user", userID,
		"source", string(source),
		"count", count,
	)
	return s.refreshParent(ctx, source, parentID)
}

// HandleLeave records a participation leave (a no-op without a prior
// join) and refreshes every panel of the parent.
func (s *Service) HandleLeave(ctx context.Context, source ledger.Source, parentID, userID string) error {
	count, err := s.ledger.Leave(ctx, parentID, userID, reactionJoin, source)
	if err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	s.recordReaction(ctx, parentID, userID, reactionJoin, source, 0)
	s.logger.Info("user left",
		"parent", parentID,
		"user", userID,
		"source", string(source),
		"count", count,
	)
	return s.refreshParent(ctx, source, parentID)
}

// HandleKey records a key pop against a started run. Pops against a
// closed key window are rejected with a user-visible message and leave
// the tally untouched.
func (s *Service) HandleKey(ctx context.Context, runID, userID string) error {
	current, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	if !s.machine.KeyWindowOpen(current, s.clock.Now()) {
		return failUser("The key window for this run is closed.")
	}

	count, err := s.ledger.AddKey(ctx, runID, userID, reactionKey, ledger.SourceRun, 1)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	s.recordReaction(ctx, runID, userID, reactionKey, ledger.SourceRun, count)
	return s.refreshParent(ctx, ledger.SourceRun, runID)
}

// HandleStart transitions a live run to started, opening its key
// window, and refreshes the panels.
func (s *Service) HandleStart(ctx context.Context, runID string, who actor) error {
	current, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := s.authorizeOrganizer(ctx, current.GuildID, current.OrganizerID, who); err != nil {
		return err
	}

	updated, err := s.machine.SetStatus(ctx, runID, run.StatusStarted, run.TransitionOptions{
		OpenKeyWindow: true,
	})
	if err != nil {
		return transitionError(err)
	}
	return s.refreshRun(ctx, updated)
}

// HandleEnd transitions a run to ended, pushes the final panel state,
// and drops the panel group.
func (s *Service) HandleEnd(ctx context.Context, runID string, who actor) error {
	return s.finishRun(ctx, runID, run.StatusEnded, who)
}

// HandleCancel transitions a run to cancelled, pushes the final panel
// state, and drops the panel group.
func (s *Service) HandleCancel(ctx context.Context, runID string, who actor) error {
	return s.finishRun(ctx, runID, run.StatusCancelled, who)
}

func (s *Service) finishRun(ctx context.Context, runID string, target run.Status, who actor) error {
	current, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	if err := s.authorizeOrganizer(ctx, current.GuildID, current.OrganizerID, who); err != nil {
		return err
	}

	updated, err := s.machine.SetStatus(ctx, runID, target, run.TransitionOptions{})
	if err != nil {
		return transitionError(err)
	}

	// Final refresh, then drop the group. RefreshAll snapshots the
	// handle list before Shutdown clears it, so the last edit still
	// reaches every handle.
	if updated.MessageID != "" {
		view, err := s.renderRunView(ctx, updated)
		if err != nil {
			return err
		}
		s.panels.RefreshAll(ctx, updated.MessageID, view)
		s.panels.Shutdown(updated.MessageID)
	}
	return nil
}

// HandlePing sends a progression ping for a run.
func (s *Service) HandlePing(ctx context.Context, runID, text string, who actor) error {
	current, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if err := s.authorizeOrganizer(ctx, current.GuildID, current.OrganizerID, who); err != nil {
		return err
	}
	if _, err := s.pings.SendProgressionPing(ctx, runID, text); err != nil {
		return err
	}
	return nil
}

// HandleConvert converts an open headcount into a run: the new run's
// panel is posted in the headcount's channel, goes live immediately,
// and inherits the headcount's joins. The headcount's panel group is
// dropped and its message rewritten to point at the run.
func (s *Service) HandleConvert(ctx context.Context, headcountID string, who actor) error {
	headcount, err := s.store.GetHeadcount(ctx, headcountID)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	if err := s.authorizeOrganizer(ctx, headcount.GuildID, headcount.OrganizerID, who); err != nil {
		return err
	}

	result, err := s.converter.ConvertHeadcount(ctx, headcountID, run.ConvertOptions{})
	if err != nil {
		return err
	}

	if err := s.PublishRun(ctx, result.Run.ID, headcount.ChannelID); err != nil {
		return err
	}

	// Rewrite the headcount message into its closed state, then drop
	// its panel group.
	if result.HeadcountMessageID != "" {
		closed, err := s.store.GetHeadcount(ctx, headcountID)
		if err != nil {
			return fmt.Errorf("convert: %w", err)
		}
		view, err := s.renderHeadcountView(ctx, closed)
		if err != nil {
			return err
		}
		s.panels.RefreshAll(ctx, result.HeadcountMessageID, view)
		s.panels.Shutdown(result.HeadcountMessageID)
	}
	return nil
}

// PublishRun posts the public panel message for a pending run and
// transitions it to live.
func (s *Service) PublishRun(ctx context.Context, runID, channelID string) error {
	pending, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	view, err := s.renderRunView(ctx, pending)
	if err != nil {
		return err
	}
	message, err := s.messenger.SendMessage(ctx, channelID, view)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	live, err := s.machine.SetStatus(ctx, runID, run.StatusLive, run.TransitionOptions{
		ChannelID: channelID,
		MessageID: message.ID,
	})
	if err != nil {
		return transitionError(err)
	}

	s.registry.Register(message.ID, &panel.PublicMessage{
		ChannelID: channelID,
		MessageID: message.ID,
	})
	return s.refreshRun(ctx, live)
}

// RegisterEphemeralPanel adds an interaction-scoped handle (the
// organizer's private view) to a lifecycle's panel group.
func (s *Service) RegisterEphemeralPanel(publicMessageID string, handle panel.Handle) {
	s.registry.Register(publicMessageID, handle)
}

// handleAutoEnd is the scheduler callback for force-ended runs.
func (s *Service) handleAutoEnd(ctx context.Context, endedRun *store.Run) {
	if endedRun.MessageID != "" {
		view, err := s.renderRunView(ctx, endedRun)
		if err != nil {
			s.logger.Error("rendering auto-ended run failed", "run", endedRun.ID, "error", err)
		} else {
			s.panels.RefreshAll(ctx, endedRun.MessageID, view)
			s.panels.Shutdown(endedRun.MessageID)
		}
	}
	if _, err := s.pings.SendProgressionPing(ctx, endedRun.ID, "This run hit its time limit and has ended."); err != nil {
		s.logger.Warn("auto-end ping failed", "run", endedRun.ID, "error", err)
	}
}

// handleHeadcountExpiry is the scheduler callback for expired
// headcounts.
func (s *Service) handleHeadcountExpiry(ctx context.Context, headcount *store.Headcount) {
	if headcount.MessageID == "" {
		return
	}
	view, err := s.renderHeadcountView(ctx, headcount)
	if err != nil {
		s.logger.Error("rendering expired headcount failed", "headcount", headcount.ID, "error", err)
		return
	}
	s.panels.RefreshAll(ctx, headcount.MessageID, view)
	s.panels.Shutdown(headcount.MessageID)
}

// refreshParent re-renders a run or headcount and broadcasts it.
func (s *Service) refreshParent(ctx context.Context, source ledger.Source, parentID string) error {
	if source == ledger.SourceHeadcount {
		headcount, err := s.store.GetHeadcount(ctx, parentID)
		if err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		if headcount.MessageID == "" {
			return nil
		}
		view, err := s.renderHeadcountView(ctx, headcount)
		if err != nil {
			return err
		}
		s.panels.RefreshAll(ctx, headcount.MessageID, view)
		return nil
	}

	current, err := s.store.GetRun(ctx, parentID)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return s.refreshRun(ctx, current)
}

func (s *Service) refreshRun(ctx context.Context, current *store.Run) error {
	if current.MessageID == "" {
		return nil
	}
	view, err := s.renderRunView(ctx, current)
	if err != nil {
		return err
	}
	s.panels.RefreshAll(ctx, current.MessageID, view)
	return nil
}

// statusColors for the panel embed, keyed by run status.
var statusColors = map[run.Status]int{
	run.StatusPending:   0x95a5a6,
	run.StatusLive:      0x2ecc71,
	run.StatusStarted:   0x3498db,
	run.StatusEnded:     0x7f8c8d,
	run.StatusCancelled: 0xe74c3c,
}

// renderRunView builds the panel content for a run from its row and
// the current reaction tallies.
func (s *Service) renderRunView(ctx context.Context, current *store.Run) (chat.MessageContent, error) {
	totals, err := s.ledger.Aggregate(ctx, current.ID, ledger.SourceRun)
	if err != nil {
		return chat.MessageContent{}, fmt.Errorf("render: %w", err)
	}
	byCategory, err := s.ledger.AggregateByCategory(ctx, current.ID, ledger.SourceRun)
	if err != nil {
		return chat.MessageContent{}, fmt.Errorf("render: %w", err)
	}

	embed := chat.Embed{
		Title: current.ActivityLabel,
		Color: statusColors[run.Status(current.Status)],
		Footer: &chat.EmbedFooter{
			Text: "Status: " + current.Status,
		},
	}
	embed.Fields = append(embed.Fields, chat.EmbedField{
		Name:   "Joined",
		Value:  strconv.FormatInt(totals[reactionJoin], 10),
		Inline: true,
	})
	if keys := totals[reactionKey]; keys > 0 {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name:   "Keys",
			Value:  strconv.FormatInt(keys, 10),
			Inline: true,
		})
	}
	for _, category := range sortedKeys(byCategory) {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name:   category,
			Value:  strconv.FormatInt(byCategory[category][reactionJoin], 10),
			Inline: true,
		})
	}
	if current.Party != "" {
		embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Party", Value: current.Party})
	}
	if current.Location != "" {
		embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Location", Value: current.Location})
	}
	if !current.KeyWindowEndsAt.IsZero() && run.Status(current.Status) == run.StatusStarted {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name:  "Key window closes",
			Value: fmt.Sprintf("<t:%d:R>", current.KeyWindowEndsAt.Unix()),
		})
	}

	return chat.MessageContent{Embeds: []chat.Embed{embed}}, nil
}

// renderHeadcountView builds the panel content for a headcount.
func (s *Service) renderHeadcountView(ctx context.Context, headcount *store.Headcount) (chat.MessageContent, error) {
	totals, err := s.ledger.Aggregate(ctx, headcount.ID, ledger.SourceHeadcount)
	if err != nil {
		return chat.MessageContent{}, fmt.Errorf("render: %w", err)
	}

	status := "Open"
	color := 0xf1c40f
	if !headcount.Open {
		status = "Closed"
		color = 0x7f8c8d
	}

	embed := chat.Embed{
		Title:  "Headcount: " + headcount.ActivityLabel,
		Color:  color,
		Footer: &chat.EmbedFooter{Text: status},
		Fields: []chat.EmbedField{{
			Name:   "Interested",
			Value:  strconv.FormatInt(totals[reactionJoin], 10),
			Inline: true,
		}},
	}
	return chat.MessageContent{Embeds: []chat.Embed{embed}}, nil
}

// authorizeOrganizer allows the lifecycle's owner, administrators, and
// holders of the configured organizer role.
func (s *Service) authorizeOrganizer(ctx context.Context, guildID, ownerID string, who actor) error {
	if who.UserID == ownerID {
		return nil
	}

	member := &authz.Member{
		UserID:        who.UserID,
		RoleIDs:       who.RoleIDs,
		Administrator: who.Administrator,
	}
	if !who.HasMemberData {
		fetched, err := s.members.GetGuildMember(ctx, guildID, who.UserID)
		if err != nil {
			if chat.IsNotFound(err) {
				return failUser("You are not a member of this server.")
			}
			return fmt.Errorf("authorize: %w", err)
		}
		member = &authz.Member{
			UserID:        who.UserID,
			RoleIDs:       fetched.RoleIDs,
			Administrator: hasAdministratorBit(fetched.Permissions),
		}
	}

	if authz.IsOrganizer(member, s.organizerRoleID) != authz.Allow {
		return failUser("Only the organizer can do that.")
	}
	return nil
}

// recordReaction appends a reaction record to the audit log when
// auditing is enabled.
func (s *Service) recordReaction(ctx context.Context, parentID, userID, reactionType string, source ledger.Source, value int64) {
	if s.audit == nil {
		return
	}
	s.audit.ReactionWritten(ctx, parentID, userID, reactionType, string(source), value, s.clock.Now())
}

// transitionError converts an invalid-transition error into a
// user-visible message; anything else passes through.
func transitionError(err error) error {
	var invalid *run.InvalidTransitionError
	if errors.As(err, &invalid) {
		return failUser(fmt.Sprintf("This run is %s and cannot change to %s.", invalid.From, invalid.To))
	}
	return err
}

// hasAdministratorBit parses the platform's permission bitset string
// and checks the administrator bit.
func hasAdministratorBit(permissions string) bool {
	if permissions == "" {
		return false
	}
	bits, err := strconv.ParseUint(permissions, 10, 64)
	if err != nil {
		return false
	}
	const administrator = 0x8
	return bits&administrator != 0
}

func sortedKeys(m map[string]map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
