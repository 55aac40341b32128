// workspace_config_repository.go implements WorkspaceConfigRepository for
// JSON-valued per-workspace settings.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/orbit-workspaces/orbit/internal/db/models"
)

// WorkspaceConfigRepository handles workspace configuration database operations
type WorkspaceConfigRepository struct {
	db *sqlx.DB
}

// NewWorkspaceConfigRepository creates a new WorkspaceConfigRepository
func NewWorkspaceConfigRepository(db *sqlx.DB) *WorkspaceConfigRepository {
	return &WorkspaceConfigRepository{db: db}
}

// GetConfig returns the raw JSON value of a setting, or nil when unset.
func (r *WorkspaceConfigRepository) GetConfig(ctx context.Context, workspaceID int64, key string) (types.JSONText, error) {
	query := `SELECT value FROM workspace_configs WHERE workspace_group_id = $1 AND key = $2`

	var value types.JSONText
	err := r.db.GetContext(ctx, &value, query, workspaceID, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace config %q: %w", key, err)
	}
	return value, nil
}

// SetConfig stores value as the JSON encoding of a setting.
func (r *WorkspaceConfigRepository) SetConfig(ctx context.Context, workspaceID int64, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode workspace config %q: %w", key, err)
	}
	query := `INSERT INTO workspace_configs (workspace_group_id, key, value, updated_at)
			  VALUES ($1, $2, $3, NOW())
			  ON CONFLICT (workspace_group_id, key) DO UPDATE SET
				value = EXCLUDED.value,
				updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, workspaceID, key, types.JSONText(raw)); err != nil {
		return fmt.Errorf("failed to set workspace config %q: %w", key, err)
	}
	return nil
}

// GetMinTrackedRole returns the lowest external rank number the synchronizer
// tracks for the workspace. Unset means 0. Both JSON numbers and numeric
// strings are accepted.
func (r *WorkspaceConfigRepository) GetMinTrackedRole(ctx context.Context, workspaceID int64) (int64, error) {
	raw, err := r.GetConfig(ctx, workspaceID, models.ConfigKeyMinTrackedRole)
	if err != nil {
		return 0, err
	}
	return parseRankValue(raw)
}

// SetMinTrackedRole stores the minimum tracked rank number.
func (r *WorkspaceConfigRepository) SetMinTrackedRole(ctx context.Context, workspaceID, rank int64) error {
	return r.SetConfig(ctx, workspaceID, models.ConfigKeyMinTrackedRole, rank)
}

func parseRankValue(raw types.JSONText) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.Int64()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("invalid %s value %s", models.ConfigKeyMinTrackedRole, string(raw))
	}
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", models.ConfigKeyMinTrackedRole, s, err)
	}
	return v, nil
}
