// Package models - role.go defines the workspace Role model: a named permission
// set optionally mapped to external group roles.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Role belongs to exactly one workspace. GroupRoles lists the external group
// role ids whose members the synchronizer connects to this role.
type Role struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	WorkspaceGroupID int64          `db:"workspace_group_id" json:"workspaceGroupId"`
	Name             string         `db:"name" json:"name"`
	Permissions      pq.StringArray `db:"permissions" json:"permissions"`
	GroupRoles       pq.Int64Array  `db:"group_roles" json:"groupRoles"`
	IsOwnerRole      bool           `db:"is_owner_role" json:"isOwnerRole"`
	CreatedAt        time.Time      `db:"created_at" json:"createdAt"`
}

// MapsToGroupRole reports whether the external group role id is mapped to r.
func (r *Role) MapsToGroupRole(groupRoleID int64) bool {
	for _, id := range r.GroupRoles {
		if id == groupRoleID {
			return true
		}
	}
	return false
}

// IsRankMapped reports whether the synchronizer manages membership of r.
func (r *Role) IsRankMapped() bool {
	return len(r.GroupRoles) > 0
}

// SelectTopRole prefers an owner role and otherwise returns the first role.
// Callers pass roles in a stable order so the choice is deterministic.
func SelectTopRole(roles []*Role) *Role {
	for _, r := range roles {
		if r.IsOwnerRole {
			return r
		}
	}
	if len(roles) == 0 {
		return nil
	}
	return roles[0]
}

// FindRoleForGroupRole returns the first role mapped to the external group role id.
func FindRoleForGroupRole(roles []*Role, groupRoleID int64) *Role {
	for _, r := range roles {
		if r.MapsToGroupRole(groupRoleID) {
			return r
		}
	}
	return nil
}
