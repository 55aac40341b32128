// audit_repository.go implements AuditRepository, providing database queries for
// writing and listing audit log entries of a workspace.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/orbit-workspaces/orbit/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateAuditLog creates a new audit log entry
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	log.ID = uuid.New()
	log.CreatedAt = time.Now()

	var metadataJSON []byte
	if log.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(log.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (id, user_id, workspace_group_id, action, resource_type, resource_id, metadata, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.UserID,
		log.WorkspaceGroupID,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		metadataJSON,
		log.IPAddress,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// ListWorkspaceAuditLogs returns a page of a workspace's audit log, newest first,
// together with the total number of entries.
func (r *AuditRepository) ListWorkspaceAuditLogs(ctx context.Context, workspaceID int64, limit, offset int) ([]*models.AuditLog, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE workspace_group_id = $1`, workspaceID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := `
		SELECT id, user_id, workspace_group_id, action, resource_type, resource_id, metadata, ip_address, created_at
		FROM audit_logs
		WHERE workspace_group_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log := &models.AuditLog{}
		var (
			userID       sql.NullInt64
			workspace    sql.NullInt64
			metadataJSON []byte
		)
		if err := rows.Scan(
			&log.ID,
			&userID,
			&workspace,
			&log.Action,
			&log.ResourceType,
			&log.ResourceID,
			&metadataJSON,
			&log.IPAddress,
			&log.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if userID.Valid {
			log.UserID = &userID.Int64
		}
		if workspace.Valid {
			log.WorkspaceGroupID = &workspace.Int64
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &log.Metadata); err != nil {
				return nil, 0, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		logs = append(logs, log)
	}

	return logs, total, rows.Err()
}
