// workspace_repository.go implements WorkspaceRepository, providing queries for
// workspaces and their cached group display metadata.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/orbit-workspaces/orbit/internal/db/models"
)

// WorkspaceRepository handles workspace database operations
type WorkspaceRepository struct {
	db *sqlx.DB
}

// NewWorkspaceRepository creates a new WorkspaceRepository
func NewWorkspaceRepository(db *sqlx.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

// ListWorkspaces returns every workspace ordered by group id.
func (r *WorkspaceRepository) ListWorkspaces(ctx context.Context) ([]*models.Workspace, error) {
	query := `SELECT group_id, group_name, group_logo, last_synced, created_at
			  FROM workspaces ORDER BY group_id`

	var workspaces []*models.Workspace
	if err := r.db.SelectContext(ctx, &workspaces, query); err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	return workspaces, nil
}

// GetWorkspace retrieves a workspace by group id. Returns nil, nil when absent.
func (r *WorkspaceRepository) GetWorkspace(ctx context.Context, groupID int64) (*models.Workspace, error) {
	query := `SELECT group_id, group_name, group_logo, last_synced, created_at
			  FROM workspaces WHERE group_id = $1`

	var ws models.Workspace
	err := r.db.GetContext(ctx, &ws, query, groupID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return &ws, nil
}

// CreateWorkspace registers a workspace for an external group.
func (r *WorkspaceRepository) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	query := `INSERT INTO workspaces (group_id, group_name, group_logo, created_at)
			  VALUES ($1, $2, $3, NOW())`
	if _, err := r.db.ExecContext(ctx, query, ws.GroupID, ws.GroupName, ws.GroupLogo); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

// UpdateWorkspaceMetadata stores the group's current name and logo.
func (r *WorkspaceRepository) UpdateWorkspaceMetadata(ctx context.Context, groupID int64, name, logo string) error {
	query := `UPDATE workspaces SET group_name = $1, group_logo = $2 WHERE group_id = $3`
	if _, err := r.db.ExecContext(ctx, query, name, logo, groupID); err != nil {
		return fmt.Errorf("failed to update workspace metadata: %w", err)
	}
	return nil
}

// MarkSynced records when the workspace was last reconciled.
func (r *WorkspaceRepository) MarkSynced(ctx context.Context, groupID int64, at time.Time) error {
	query := `UPDATE workspaces SET last_synced = $1 WHERE group_id = $2`
	if _, err := r.db.ExecContext(ctx, query, at, groupID); err != nil {
		return fmt.Errorf("failed to mark workspace synced: %w", err)
	}
	return nil
}
