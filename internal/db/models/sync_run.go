// Package models - sync_run.go defines the SyncRun history record written for
// every group role sync of a workspace.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// Sync run statuses
const (
	SyncStatusRunning = "running"
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// SyncRun records one group role sync of a workspace. Report holds the JSON
// encoded batch result (succeeded and failed operations).
type SyncRun struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	WorkspaceGroupID int64          `db:"workspace_group_id" json:"workspaceGroupId"`
	TriggeredBy      string         `db:"triggered_by" json:"triggeredBy"`
	Status           string         `db:"status" json:"status"`
	StartedAt        time.Time      `db:"started_at" json:"startedAt"`
	CompletedAt      *time.Time     `db:"completed_at" json:"completedAt,omitempty"`
	SucceededCount   int            `db:"succeeded_count" json:"succeededCount"`
	FailedCount      int            `db:"failed_count" json:"failedCount"`
	ErrorMessage     *string        `db:"error_message" json:"errorMessage,omitempty"`
	Report           types.JSONText `db:"report" json:"report,omitempty"`
}
