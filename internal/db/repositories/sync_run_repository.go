// sync_run_repository.go implements SyncRunRepository, the history of group
// role sync runs per workspace.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/orbit-workspaces/orbit/internal/db/models"
)

// SyncRunRepository handles sync history database operations
type SyncRunRepository struct {
	db *sqlx.DB
}

// NewSyncRunRepository creates a new SyncRunRepository
func NewSyncRunRepository(db *sqlx.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// CreateSyncRun records the start of a run.
func (r *SyncRunRepository) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	query := `INSERT INTO sync_runs (id, workspace_group_id, triggered_by, status, started_at)
			  VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query,
		run.ID, run.WorkspaceGroupID, run.TriggeredBy, run.Status, run.StartedAt,
	); err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

// CompleteSyncRun stores the final status, counts and report of a run.
func (r *SyncRunRepository) CompleteSyncRun(ctx context.Context, run *models.SyncRun) error {
	query := `UPDATE sync_runs SET
				status = $1, completed_at = $2, succeeded_count = $3,
				failed_count = $4, error_message = $5, report = $6
			  WHERE id = $7`
	if _, err := r.db.ExecContext(ctx, query,
		run.Status, run.CompletedAt, run.SucceededCount,
		run.FailedCount, run.ErrorMessage, run.Report, run.ID,
	); err != nil {
		return fmt.Errorf("failed to complete sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the most recent runs of a workspace, newest first.
func (r *SyncRunRepository) ListSyncRuns(ctx context.Context, workspaceID int64, limit int) ([]*models.SyncRun, error) {
	query := `SELECT id, workspace_group_id, triggered_by, status, started_at, completed_at,
				succeeded_count, failed_count, error_message, report
			  FROM sync_runs
			  WHERE workspace_group_id = $1
			  ORDER BY started_at DESC
			  LIMIT $2`

	var runs []*models.SyncRun
	if err := r.db.SelectContext(ctx, &runs, query, workspaceID, limit); err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	return runs, nil
}
