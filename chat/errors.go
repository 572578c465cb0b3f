// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError represents a structured error response from the platform
// API. Callers can use errors.As to extract the structured information:
//
//	var apiErr *chat.APIError
//	if errors.As(err, &apiErr) {
//	    if apiErr.Code == chat.CodeUnknownMessage { ... }
//	}
type APIError struct {
	// Code is the platform's numeric error code (e.g., 10008 for an
	// unknown message). Zero when the response body carried no code.
	Code int `json:"code"`
	// Message is the human-readable error description from the server.
	Message string `json:"message"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
	// RetryAfter is the rate-limit reset hint in seconds, set only on
	// 429 responses.
	RetryAfter float64 `json:"retry_after,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat: %d (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Platform error codes the core dispatches on.
const (
	CodeUnknownChannel      = 10003
	CodeUnknownMessage      = 10008
	CodeUnknownMember       = 10007
	CodeUnknownWebhook      = 10015
	CodeMissingAccess       = 50001
	CodeInvalidWebhookToken = 50027
)

// IsNotFound reports whether err is an APIError for a target that no
// longer exists: a deleted message or channel, or a member who left.
// Panel refresh treats these as permanent handle expiry.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case CodeUnknownChannel, CodeUnknownMessage, CodeUnknownMember, CodeUnknownWebhook:
		return true
	}
	return apiErr.StatusCode == http.StatusNotFound
}

// IsUnknownToken reports whether err is an APIError for an expired or
// invalid interaction/webhook token. Ephemeral panel handles hit this
// once their interaction's validity window closes.
func IsUnknownToken(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == CodeInvalidWebhookToken || apiErr.StatusCode == http.StatusUnauthorized
}

// IsRateLimited reports whether err is a 429 rate-limit response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
