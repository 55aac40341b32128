package models

import "time"

// Rank caches a user's current external rank number in one workspace.
type Rank struct {
	UserID           int64     `db:"user_id" json:"userId"`
	WorkspaceGroupID int64     `db:"workspace_group_id" json:"workspaceGroupId"`
	RankID           int64     `db:"rank_id" json:"rankId"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}
