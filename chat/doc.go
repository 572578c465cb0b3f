// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat wraps the chat platform's REST API for runboard's
// messaging needs.
//
// [Client] holds the API base URL, bot token, and HTTP transport. It
// exposes the narrow surface the core needs: sending, editing, and
// deleting channel messages; editing interaction replies and followup
// messages through their webhook token paths; and fetching guild
// members for capability checks. Every call is fallible and callers
// treat failures as non-fatal unless documented otherwise; panel
// refresh in particular must survive deleted messages and expired
// interaction tokens.
//
// All API errors are returned as [*APIError] with the platform's
// numeric error code and the HTTP status code. [IsNotFound],
// [IsUnknownToken], and [IsRateLimited] test for the classes the core
// dispatches on. Request URLs are built by string concatenation rather
// than url.URL to avoid double-encoding of path segments that contain
// interaction tokens.
//
// A client-side token-bucket limiter (golang.org/x/time/rate) runs
// ahead of every request so that panel refresh bursts do not trip the
// platform's rate limits; a 429 response is still surfaced as an
// [*APIError] for the caller to back off on.
package chat
