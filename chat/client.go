// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the platform API base (e.g., "https://discord.com/api/v10").
	BaseURL string
	// BotToken authenticates bot-scoped endpoints. Webhook-token
	// endpoints (interaction reply and followup edits) carry their
	// credential in the URL and are sent unauthenticated.
	BotToken string
	// ApplicationID is the bot's application ID, used to build
	// interaction-token edit paths.
	ApplicationID string
	// RequestsPerSecond caps outgoing requests. Zero or negative
	// disables client-side limiting.
	RequestsPerSecond float64
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Client is a minimal platform REST client. It is safe for concurrent
// use; the rate limiter serializes bursts across goroutines.
type Client struct {
	baseURL       string
	botToken      string
	applicationID string
	httpClient    *http.Client
	limiter       *rate.Limiter
	logger        *slog.Logger
}

// NewClient creates a platform REST client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("chat: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("chat: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RequestsPerSecond > 0 {
		// Burst matches one second of budget so a panel refresh fan-out
		// drains quickly without exceeding the sustained rate.
		burst := int(config.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:       strings.TrimRight(config.BaseURL, "/"),
		botToken:      config.BotToken,
		applicationID: config.ApplicationID,
		httpClient:    httpClient,
		limiter:       limiter,
		logger:        logger,
	}, nil
}

// SendMessage posts a new message to a channel. Returns the created
// message, whose ID the caller persists for later edits.
func (c *Client) SendMessage(ctx context.Context, channelID string, content MessageContent) (*Message, error) {
	path := "/channels/" + channelID + "/messages"
	body, err := c.doRequest(ctx, http.MethodPost, path, true, content)
	if err != nil {
		return nil, fmt.Errorf("chat: send message to %s: %w", channelID, err)
	}
	return parseMessage(body)
}

// EditMessage replaces the content of an existing channel message.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, content MessageContent) (*Message, error) {
	path := "/channels/" + channelID + "/messages/" + messageID
	body, err := c.doRequest(ctx, http.MethodPatch, path, true, content)
	if err != nil {
		return nil, fmt.Errorf("chat: edit message %s in %s: %w", messageID, channelID, err)
	}
	return parseMessage(body)
}

// DeleteMessage removes a channel message. Deleting an already-deleted
// message returns an APIError that IsNotFound reports true for.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := "/channels/" + channelID + "/messages/" + messageID
	if _, err := c.doRequest(ctx, http.MethodDelete, path, true, nil); err != nil {
		return fmt.Errorf("chat: delete message %s in %s: %w", messageID, channelID, err)
	}
	return nil
}

// GetGuildMember fetches a guild member for capability checks. A
// member who left the guild returns an APIError that IsNotFound
// reports true for.
func (c *Client) GetGuildMember(ctx context.Context, guildID, userID string) (*Member, error) {
	path := "/guilds/" + guildID + "/members/" + userID
	body, err := c.doRequest(ctx, http.MethodGet, path, true, nil)
	if err != nil {
		return nil, fmt.Errorf("chat: get member %s in %s: %w", userID, guildID, err)
	}
	var member Member
	if err := json.Unmarshal(body, &member); err != nil {
		return nil, fmt.Errorf("chat: parsing member response: %w", err)
	}
	return &member, nil
}

// EditInteractionReply edits the original reply of an interaction via
// its webhook token. The token is only valid for the platform's
// interaction window (about fifteen minutes); afterwards the edit
// fails with an error IsUnknownToken reports true for.
func (c *Client) EditInteractionReply(ctx context.Context, interactionToken string, content MessageContent) error {
	path := "/webhooks/" + c.applicationID + "/" + interactionToken + "/messages/@original"
	if _, err := c.doRequest(ctx, http.MethodPatch, path, false, content); err != nil {
		return fmt.Errorf("chat: edit interaction reply: %w", err)
	}
	return nil
}

// EditFollowup edits a followup message previously sent through an
// interaction's webhook. Same token validity window as
// EditInteractionReply.
func (c *Client) EditFollowup(ctx context.Context, interactionToken, messageID string, content MessageContent) error {
	path := "/webhooks/" + c.applicationID + "/" + interactionToken + "/messages/" + messageID
	if _, err := c.doRequest(ctx, http.MethodPatch, path, false, content); err != nil {
		return fmt.Errorf("chat: edit followup %s: %w", messageID, err)
	}
	return nil
}

func parseMessage(body []byte) (*Message, error) {
	var message Message
	if err := json.Unmarshal(body, &message); err != nil {
		return nil, fmt.Errorf("chat: parsing message response: %w", err)
	}
	return &message, nil
}

// doRequest performs an HTTP request against the platform API and
// returns the response body. On 2xx, returns the body. On 4xx/5xx,
// returns an *APIError. authenticated selects whether the bot token is
// attached; webhook-token paths carry their credential in the URL.
func (c *Client) doRequest(ctx context.Context, method, path string, authenticated bool, requestBody any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("chat: rate limiter: %w", err)
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("chat: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("chat: creating request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if authenticated && c.botToken != "" {
		request.Header.Set("Authorization", "Bot "+c.botToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("chat: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("chat: reading response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All platform error responses share the same JSON shape. A
	// non-JSON body (proxy error page, truncated response) fails loud
	// with the raw body.
	var apiErr APIError
	if jsonErr := json.Unmarshal(responseBody, &apiErr); jsonErr != nil {
		return nil, fmt.Errorf("chat: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	apiErr.StatusCode = response.StatusCode

	return responseBody, &apiErr
}
