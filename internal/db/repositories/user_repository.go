// Package repositories implements the data access layer for Orbit.
// Each repository type encapsulates all database queries for a domain entity;
// handlers and background jobs never issue SQL directly.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/orbit-workspaces/orbit/internal/db/models"
)

// UserRepository handles user database operations
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetUser retrieves a user by external id. Returns nil, nil when absent.
func (r *UserRepository) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	query := `SELECT user_id, username, picture, registered, created_at, updated_at
			  FROM users WHERE user_id = $1`

	var u models.User
	err := r.db.GetContext(ctx, &u, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetUsersByIDs returns the subset of ids that exist locally.
func (r *UserRepository) GetUsersByIDs(ctx context.Context, userIDs []int64) ([]*models.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query := `SELECT user_id, username, picture, registered, created_at, updated_at
			  FROM users WHERE user_id = ANY($1) ORDER BY user_id`

	var users []*models.User
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(userIDs)); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// GetUserWithRoles loads a user and the roles they hold in one workspace in a
// single round trip. Roles are ordered owner first, then by id, so the order
// is stable across calls. Returns nil, nil when the user does not exist.
func (r *UserRepository) GetUserWithRoles(ctx context.Context, userID, workspaceID int64) (*models.UserWithRoles, error) {
	query := `
		SELECT u.user_id, u.username, u.picture, u.registered, u.created_at, u.updated_at,
		       r.id, r.workspace_group_id, r.name, r.permissions, r.group_roles, r.is_owner_role, r.created_at
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.user_id
		LEFT JOIN roles r ON r.id = ur.role_id AND r.workspace_group_id = $2
		WHERE u.user_id = $1
		ORDER BY r.is_owner_role DESC NULLS LAST, r.id
	`

	rows, err := r.db.QueryContext(ctx, query, userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	defer rows.Close()

	var result *models.UserWithRoles
	for rows.Next() {
		var (
			u           models.User
			roleID      uuid.NullUUID
			roleWS      sql.NullInt64
			roleName    sql.NullString
			permissions pq.StringArray
			groupRoles  pq.Int64Array
			isOwner     sql.NullBool
			roleCreated sql.NullTime
		)
		if err := rows.Scan(
			&u.UserID, &u.Username, &u.Picture, &u.Registered, &u.CreatedAt, &u.UpdatedAt,
			&roleID, &roleWS, &roleName, &permissions, &groupRoles, &isOwner, &roleCreated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		if result == nil {
			result = &models.UserWithRoles{User: u}
		}
		// user_roles rows for other workspaces join to NULL role columns
		if !roleID.Valid {
			continue
		}
		result.Roles = append(result.Roles, &models.Role{
			ID:               roleID.UUID,
			WorkspaceGroupID: roleWS.Int64,
			Name:             roleName.String,
			Permissions:      permissions,
			GroupRoles:       groupRoles,
			IsOwnerRole:      isOwner.Bool,
			CreatedAt:        roleCreated.Time,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user roles: %w", err)
	}
	return result, nil
}

// UpsertUser creates the user or refreshes its profile fields. Nil profile
// fields keep the stored value.
func (r *UserRepository) UpsertUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (user_id, username, picture, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			username = COALESCE(EXCLUDED.username, users.username),
			picture = COALESCE(EXCLUDED.picture, users.picture),
			updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, user.UserID, user.Username, user.Picture); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
