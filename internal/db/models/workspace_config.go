package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ConfigKeyMinTrackedRole holds the lowest external rank number the synchronizer tracks.
const ConfigKeyMinTrackedRole = "minTrackedRole"

// WorkspaceConfig is one JSON-valued per-workspace setting.
type WorkspaceConfig struct {
	WorkspaceGroupID int64          `db:"workspace_group_id" json:"workspaceGroupId"`
	Key              string         `db:"key" json:"key"`
	Value            types.JSONText `db:"value" json:"value"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updatedAt"`
}
