// Package auth - permissions.go defines the workspace permission tags, the
// superset granted to owner roles, and the Requirement a route places on a role.
package auth

import (
	"fmt"
	"strings"
)

// Permission is a capability tag stored on a workspace role.
type Permission string

const (
	PermissionAdmin Permission = "admin"

	// Members and roles
	PermissionViewMembers     Permission = "view_members"
	PermissionManageMembers   Permission = "manage_members"
	PermissionViewStaffConfig Permission = "view_staff_config"

	// Sessions
	PermissionManageSessions Permission = "manage_sessions"
	PermissionSessionsHost   Permission = "sessions_host"
	PermissionSessionsClaim  Permission = "sessions_claim"

	// Activity
	PermissionManageActivity     Permission = "manage_activity"
	PermissionViewEntireActivity Permission = "view_entire_groups_activity"

	// Wall
	PermissionViewWall   Permission = "view_wall"
	PermissionPostOnWall Permission = "post_on_wall"

	// Docs and policies
	PermissionManageDocs     Permission = "manage_docs"
	PermissionManagePolicies Permission = "manage_policies"

	// Alliances
	PermissionManageAlliances   Permission = "manage_alliances"
	PermissionRepresentAlliance Permission = "represent_alliance"

	// Notices
	PermissionManageNotices Permission = "manage_notices"
	PermissionCreateNotices Permission = "create_notices"
)

// AllPermissions returns every known permission. Owner roles are reset to
// exactly this set on every group sync.
func AllPermissions() []Permission {
	return []Permission{
		PermissionAdmin,
		PermissionViewMembers,
		PermissionManageMembers,
		PermissionViewStaffConfig,
		PermissionManageSessions,
		PermissionSessionsHost,
		PermissionSessionsClaim,
		PermissionManageActivity,
		PermissionViewEntireActivity,
		PermissionViewWall,
		PermissionPostOnWall,
		PermissionManageDocs,
		PermissionManagePolicies,
		PermissionManageAlliances,
		PermissionRepresentAlliance,
		PermissionManageNotices,
		PermissionCreateNotices,
	}
}

// OwnerPermissions returns AllPermissions as plain strings for storage.
func OwnerPermissions() []string {
	all := AllPermissions()
	out := make([]string, len(all))
	for i, p := range all {
		out[i] = string(p)
	}
	return out
}

// ValidatePermissions checks that every tag is a known permission.
func ValidatePermissions(perms []string) error {
	valid := make(map[string]bool)
	for _, p := range AllPermissions() {
		valid[string(p)] = true
	}
	for _, p := range perms {
		if !valid[p] {
			return fmt.Errorf("invalid permission: %s", p)
		}
	}
	return nil
}

// Requirement is what a route demands of the caller's role: nothing beyond
// membership (None), or at least one of a set of permissions (Any).
type Requirement struct {
	anyOf []Permission
}

// None requires only that the caller holds some role in the workspace.
func None() Requirement {
	return Requirement{}
}

// Any requires at least one of perms. Any() with no arguments equals None().
func Any(perms ...Permission) Requirement {
	return Requirement{anyOf: append([]Permission(nil), perms...)}
}

// IsNone reports whether the requirement is satisfied by membership alone.
func (r Requirement) IsNone() bool {
	return len(r.anyOf) == 0
}

// Permissions returns the accepted permissions, empty for None.
func (r Requirement) Permissions() []Permission {
	return append([]Permission(nil), r.anyOf...)
}

// SatisfiedBy reports whether granted intersects the required permissions.
// A None requirement is satisfied by any set, including an empty one.
func (r Requirement) SatisfiedBy(granted []string) bool {
	if r.IsNone() {
		return true
	}
	for _, g := range granted {
		for _, p := range r.anyOf {
			if g == string(p) {
				return true
			}
		}
	}
	return false
}

func (r Requirement) String() string {
	if r.IsNone() {
		return "none"
	}
	parts := make([]string, len(r.anyOf))
	for i, p := range r.anyOf {
		parts[i] = string(p)
	}
	return "any(" + strings.Join(parts, ",") + ")"
}
