// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sjkd23/runboard/chat"
)

// fakeMessenger records sends and deletes and can be told to fail
// deletions.
type fakeMessenger struct {
	nextID    int
	sent      []chat.MessageContent
	deleted   []string
	deleteErr error
}

func (f *fakeMessenger) SendMessage(_ context.Context, channelID string, content chat.MessageContent) (*chat.Message, error) {
	f.nextID++
	f.sent = append(f.sent, content)
	return &chat.Message{
		ID:        fmt.Sprintf("ping-%d", f.nextID),
		ChannelID: channelID,
		Content:   content.Content,
	}, nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, _, messageID string) error {
	f.deleted = append(f.deleted, messageID)
	return f.deleteErr
}

func newTestDispatcher(t *testing.T) (*PingDispatcher, *Machine, *fakeMessenger) {
	t.Helper()
	machine, s, _ := newTestMachine(t)
	messenger := &fakeMessenger{}
	dispatcher, err := NewPingDispatcher(PingDispatcherConfig{
		Store:     s,
		Messenger: messenger,
	})
	if err != nil {
		t.Fatalf("NewPingDispatcher failed: %v", err)
	}
	return dispatcher, machine, messenger
}

func liveTestRun(t *testing.T, machine *Machine) string {
	t.Helper()
	run := createTestRun(t, machine)
	_, err := machine.SetStatus(context.Background(), run.ID, StatusLive, TransitionOptions{
		ChannelID: "chan-1",
		MessageID: "panel-1",
	})
	if err != nil {
		t.Fatalf("SetStatus(live) failed: %v", err)
	}
	return run.ID
}

func TestFirstPingSkipsDeletion(t *testing.T) {
	dispatcher, machine, messenger := newTestDispatcher(t)
	runID := liveTestRun(t, machine)

	message, err := dispatcher.SendProgressionPing(context.Background(), runID, "forming up")
	if err != nil {
		t.Fatalf("SendProgressionPing failed: %v", err)
	}
	if len(messenger.deleted) != 0 {
		t.Errorf("first ping deleted %v, want nothing", messenger.deleted)
	}

	run, err := machine.store.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.PingMessageID != message.ID {
		t.Errorf("PingMessageID = %q, want %q", run.PingMessageID, message.ID)
	}
}

func TestSecondPingSupersedesFirst(t *testing.T) {
	dispatcher, machine, messenger := newTestDispatcher(t)
	runID := liveTestRun(t, machine)
	ctx := context.Background()

	first, err := dispatcher.SendProgressionPing(ctx, runID, "forming up")
	if err != nil {
		t.Fatalf("first ping failed: %v", err)
	}
	second, err := dispatcher.SendProgressionPing(ctx, runID, "starting now")
	if err != nil {
		t.Fatalf("second ping failed: %v", err)
	}

	if len(messenger.deleted) != 1 || messenger.deleted[0] != first.ID {
		t.Errorf("deleted = %v, want [%s]", messenger.deleted, first.ID)
	}

	run, err := machine.store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.PingMessageID != second.ID {
		t.Errorf("PingMessageID = %q, want %q", run.PingMessageID, second.ID)
	}
}

func TestDeleteFailureDoesNotBlockPing(t *testing.T) {
	dispatcher, machine, messenger := newTestDispatcher(t)
	runID := liveTestRun(t, machine)
	ctx := context.Background()

	if _, err := dispatcher.SendProgressionPing(ctx, runID, "forming up"); err != nil {
		t.Fatalf("first ping failed: %v", err)
	}

	messenger.deleteErr = errors.New("already gone")
	second, err := dispatcher.SendProgressionPing(ctx, runID, "starting now")
	if err != nil {
		t.Fatalf("second ping should survive a delete failure: %v", err)
	}

	run, err := machine.store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.PingMessageID != second.ID {
		t.Errorf("PingMessageID = %q, want %q", run.PingMessageID, second.ID)
	}
}

func TestPingContentIncludesContext(t *testing.T) {
	dispatcher, machine, messenger := newTestDispatcher(t)

	run, err := machine.CreateRun(context.Background(), CreateRunParams{
		GuildID:       "g-1",
		OrganizerID:   "u-1",
		ActivityID:    "act-1",
		ActivityLabel: "Vault",
		RoleID:        "role-9",
		Party:         "fireteam alpha",
		Location:      "tower",
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	_, err = machine.SetStatus(context.Background(), run.ID, StatusLive, TransitionOptions{
		ChannelID: "chan-1",
		MessageID: "panel-1",
	})
	if err != nil {
		t.Fatalf("SetStatus(live) failed: %v", err)
	}

	if _, err := dispatcher.SendProgressionPing(context.Background(), run.ID, "go time"); err != nil {
		t.Fatalf("SendProgressionPing failed: %v", err)
	}

	content := messenger.sent[0]
	for _, want := range []string{
		"<@&role-9>",
		"go time",
		"Vault",
		"fireteam alpha",
		"tower",
		"https://discord.com/channels/g-1/chan-1/panel-1",
	} {
		if !strings.Contains(content.Content, want) {
			t.Errorf("ping content missing %q:\n%s", want, content.Content)
		}
	}
	if content.AllowedMentions == nil || len(content.AllowedMentions.Roles) != 1 {
		t.Errorf("role mention not restricted: %+v", content.AllowedMentions)
	}
}

func TestPingRequiresChannel(t *testing.T) {
	dispatcher, machine, _ := newTestDispatcher(t)
	run := createTestRun(t, machine)

	if _, err := dispatcher.SendProgressionPing(context.Background(), run.ID, "x"); err == nil {
		t.Error("ping for a run without a channel should fail")
	}
}
