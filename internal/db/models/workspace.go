// Package models - workspace.go defines the Workspace model, the tenant boundary
// backed by one external group.
package models

import "time"

// Workspace mirrors one external group. GroupID is the external group id.
type Workspace struct {
	GroupID    int64      `db:"group_id" json:"groupId"`
	GroupName  *string    `db:"group_name" json:"groupName,omitempty"`
	GroupLogo  *string    `db:"group_logo" json:"groupLogo,omitempty"`
	LastSynced *time.Time `db:"last_synced" json:"lastSynced,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}
