// rank_repository.go implements RankRepository, the per-workspace cache of
// each user's external rank number.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/orbit-workspaces/orbit/internal/db/models"
)

// RankRepository handles cached rank database operations
type RankRepository struct {
	db *sqlx.DB
}

// NewRankRepository creates a new RankRepository
func NewRankRepository(db *sqlx.DB) *RankRepository {
	return &RankRepository{db: db}
}

// GetWorkspaceRanks returns the cached rank of each given user in the workspace.
// Users without a cached rank are absent from the map.
func (r *RankRepository) GetWorkspaceRanks(ctx context.Context, workspaceID int64, userIDs []int64) (map[int64]int64, error) {
	ranks := make(map[int64]int64, len(userIDs))
	if len(userIDs) == 0 {
		return ranks, nil
	}
	query := `SELECT user_id, workspace_group_id, rank_id, updated_at FROM ranks
			  WHERE workspace_group_id = $1 AND user_id = ANY($2)`

	var rows []models.Rank
	if err := r.db.SelectContext(ctx, &rows, query, workspaceID, pq.Array(userIDs)); err != nil {
		return nil, fmt.Errorf("failed to list ranks: %w", err)
	}
	for _, rk := range rows {
		ranks[rk.UserID] = rk.RankID
	}
	return ranks, nil
}

// UpsertRank stores the user's rank in the workspace.
func (r *RankRepository) UpsertRank(ctx context.Context, userID, workspaceID, rankID int64) error {
	query := `INSERT INTO ranks (user_id, workspace_group_id, rank_id, updated_at)
			  VALUES ($1, $2, $3, NOW())
			  ON CONFLICT (user_id, workspace_group_id) DO UPDATE SET
				rank_id = EXCLUDED.rank_id,
				updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, userID, workspaceID, rankID); err != nil {
		return fmt.Errorf("failed to upsert rank: %w", err)
	}
	return nil
}
