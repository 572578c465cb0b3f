// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package authz decides whether a platform member may perform organizer
// actions on a run or headcount.
//
// The check is a pure function over a minimal role-membership value,
// deliberately decoupled from the platform's rich member type: callers
// reduce whatever member object the platform handed them to a Member
// and ask for a Decision. This keeps capability logic testable without
// platform fixtures.
package authz

// Member is the minimal capability set extracted from a platform
// member object. A nil *Member means the platform could not resolve
// the member (left the guild, uncached) and always denies.
type Member struct {
	// UserID is the member's platform user ID.
	UserID string

	// RoleIDs are the member's role memberships.
	RoleIDs []string

	// Administrator is true when the member holds the platform's
	// administrator permission, which bypasses role checks.
	Administrator bool
}

// Decision is the outcome of an authorization check.
type Decision int

const (
	// Deny means the action is not permitted.
	Deny Decision = iota

	// Allow means the action is permitted.
	Allow
)

// String returns "allow" or "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// IsOrganizer reports whether member may perform organizer actions.
//
// A nil member denies. An administrator allows regardless of roles.
// Otherwise the member must hold requiredRoleID; an empty
// requiredRoleID means the deployment has no organizer role configured
// and any resolved member is allowed.
func IsOrganizer(member *Member, requiredRoleID string) Decision {
	if member == nil {
		return Deny
	}
	if member.Administrator {
		return Allow
	}
	if requiredRoleID == "" {
		return Allow
	}
	for _, roleID := range member.RoleIDs {
		if roleID == requiredRoleID {
			return Allow
		}
	}
	return Deny
}
