// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sjkd23/runboard/chat"
	"github.com/sjkd23/runboard/ledger"
)

func newSignedRequest(t *testing.T, key ed25519.PrivateKey, body string) *http.Request {
	t.Helper()
	timestamp := "1767225600"
	signature := ed25519.Sign(key, []byte(timestamp+body))

	request := httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(body))
	request.Header.Set("X-Signature-Ed25519", hex.EncodeToString(signature))
	request.Header.Set("X-Signature-Timestamp", timestamp)
	return request
}

func newTestHandler(t *testing.T) (*interactionHandler, ed25519.PrivateKey, *serviceFixture) {
	t.Helper()
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	fixture := newServiceFixture(t)
	handler := newInteractionHandler(fixture.service, publicKey, discardLogger())
	return handler, privateKey, fixture
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) interactionResponse {
	t.Helper()
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", recorder.Code, recorder.Body.String())
	}
	var response interactionResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

func TestInteractionPingPong(t *testing.T) {
	handler, privateKey, _ := newTestHandler(t)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, newSignedRequest(t, privateKey, `{"type":1}`))

	response := decodeResponse(t, recorder)
	if response.Type != responsePong {
		t.Errorf("response type = %d, want %d", response.Type, responsePong)
	}
}

func TestInteractionRejectsBadSignature(t *testing.T) {
	handler, privateKey, _ := newTestHandler(t)

	// A body other than the one signed must fail verification.
	request := newSignedRequest(t, privateKey, `{"type":1}`)
	request.Body = httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(`{"type":2}`)).Body

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("tampered body: status = %d, want 401", recorder.Code)
	}

	// Missing headers fail before any crypto.
	bare := httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(`{"type":1}`))
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, bare)
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("unsigned request: status = %d, want 401", recorder.Code)
	}
}

func TestComponentJoinAcknowledgesDeferred(t *testing.T) {
	handler, privateKey, fixture := newTestHandler(t)
	published := fixture.publishedRun(t)

	body, err := json.Marshal(interactionRequest{
		Type:    interactionMessageComponent,
		GuildID: published.GuildID,
		Member: &interactionMember{User: chat.MemberUser{ID: "u-1"}},
		Data: &interactionData{CustomID: "rb:join:run:" + published.ID},
	})
	if err != nil {
		t.Fatalf("marshaling interaction: %v", err)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, newSignedRequest(t, privateKey, string(body)))

	response := decodeResponse(t, recorder)
	if response.Type != responseDeferredUpdate {
		t.Errorf("response type = %d, want %d", response.Type, responseDeferredUpdate)
	}

	totals, err := fixture.service.ledger.Aggregate(context.Background(), published.ID, ledger.SourceRun)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if totals[reactionJoin] != 1 {
		t.Errorf("join total = %d, want 1", totals[reactionJoin])
	}
	fixture.service.panels.Wait()
}

// The panel edits a component triggers run in goroutines that outlive
// the HTTP request, whose context net/http cancels the moment the
// handler returns. The edits must not inherit that cancellation.
func TestComponentRefreshOutlivesRequest(t *testing.T) {
	handler, privateKey, fixture := newTestHandler(t)
	published := fixture.publishedRun(t)

	gate := make(chan struct{})
	fixture.chat.mu.Lock()
	fixture.chat.editGate = gate
	fixture.chat.editCtxErrs = nil
	fixture.chat.mu.Unlock()

	server := httptest.NewServer(handler)
	defer server.Close()

	body, err := json.Marshal(interactionRequest{
		Type:   interactionMessageComponent,
		Member: &interactionMember{User: chat.MemberUser{ID: "u-1"}},
		Data:   &interactionData{CustomID: "rb:join:run:" + published.ID},
	})
	if err != nil {
		t.Fatalf("marshaling interaction: %v", err)
	}
	timestamp := "1767225600"
	signature := ed25519.Sign(privateKey, append([]byte(timestamp), body...))
	request, err := http.NewRequest(http.MethodPost, server.URL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	request.Header.Set("X-Signature-Ed25519", hex.EncodeToString(signature))
	request.Header.Set("X-Signature-Timestamp", timestamp)

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", response.StatusCode)
	}

	// The request is over and its context canceled; only now let the
	// pending edit proceed.
	close(gate)
	fixture.service.panels.Wait()

	fixture.chat.mu.Lock()
	ctxErrs := fixture.chat.editCtxErrs
	edited := len(fixture.chat.edits[published.MessageID]) > 0
	fixture.chat.mu.Unlock()

	if !edited {
		t.Fatal("panel was not edited after the interaction")
	}
	for _, ctxErr := range ctxErrs {
		if ctxErr != nil {
			t.Errorf("panel edit ran on a dead context: %v", ctxErr)
		}
	}
}

func TestComponentUserErrorIsEphemeral(t *testing.T) {
	handler, privateKey, fixture := newTestHandler(t)
	published := fixture.publishedRun(t)

	// A key pop against a live (not started) run is a user-visible
	// rejection, delivered as an ephemeral message.
	body, err := json.Marshal(interactionRequest{
		Type:   interactionMessageComponent,
		Member: &interactionMember{User: chat.MemberUser{ID: "u-1"}},
		Data:   &interactionData{CustomID: "rb:key:" + published.ID},
	})
	if err != nil {
		t.Fatalf("marshaling interaction: %v", err)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, newSignedRequest(t, privateKey, string(body)))

	response := decodeResponse(t, recorder)
	if response.Type != responseChannelMessage {
		t.Fatalf("response type = %d, want %d", response.Type, responseChannelMessage)
	}
	if response.Data == nil || response.Data.Flags&messageFlagEphemeral == 0 {
		t.Errorf("rejection is not ephemeral: %+v", response.Data)
	}
	if response.Data.Content == "" {
		t.Error("rejection has no message")
	}
}

func TestParseCustomID(t *testing.T) {
	tests := []struct {
		customID string
		action   string
		source   ledger.Source
		targetID string
		wantErr  bool
	}{
		{customID: "rb:join:run:r-1", action: "join", source: ledger.SourceRun, targetID: "r-1"},
		{customID: "rb:join:headcount:h-1", action: "join", source: ledger.SourceHeadcount, targetID: "h-1"},
		{customID: "rb:joinas:run:r-1", action: "joinas", source: ledger.SourceRun, targetID: "r-1"},
		{customID: "rb:leave:headcount:h-1", action: "leave", source: ledger.SourceHeadcount, targetID: "h-1"},
		{customID: "rb:key:r-1", action: "key", targetID: "r-1"},
		{customID: "rb:start:r-1", action: "start", targetID: "r-1"},
		{customID: "rb:end:r-1", action: "end", targetID: "r-1"},
		{customID: "rb:cancel:r-1", action: "cancel", targetID: "r-1"},
		{customID: "rb:ping:r-1", action: "ping", targetID: "r-1"},
		{customID: "rb:convert:h-1", action: "convert", targetID: "h-1"},
		{customID: "other:join:run:r-1", wantErr: true},
		{customID: "rb:join:r-1", wantErr: true},
		{customID: "rb:join:guild:r-1", wantErr: true},
		{customID: "rb:key:run:r-1", wantErr: true},
		{customID: "rb", wantErr: true},
		{customID: "", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.customID, func(t *testing.T) {
			action, source, targetID, err := parseCustomID(test.customID)
			if test.wantErr {
				if err == nil {
					t.Fatalf("parseCustomID(%q) succeeded, want error", test.customID)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCustomID(%q) failed: %v", test.customID, err)
			}
			if action != test.action || source != test.source || targetID != test.targetID {
				t.Errorf("parseCustomID(%q) = (%q, %q, %q), want (%q, %q, %q)",
					test.customID, action, source, targetID,
					test.action, test.source, test.targetID)
			}
		})
	}
}
