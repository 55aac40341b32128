// role_repository.go implements RoleRepository: workspace roles and the
// user_roles join table the synchronizer reconciles.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/orbit-workspaces/orbit/internal/db/models"
)

// RoleMembership is one row of the user_roles join scoped to a workspace.
type RoleMembership struct {
	UserID      int64     `db:"user_id"`
	RoleID      uuid.UUID `db:"role_id"`
	IsOwnerRole bool      `db:"is_owner_role"`
}

// RoleRepository handles role and role membership database operations
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new RoleRepository
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

const roleColumns = `id, workspace_group_id, name, permissions, group_roles, is_owner_role, created_at`

// ListWorkspaceRoles returns the roles of a workspace in creation order.
func (r *RoleRepository) ListWorkspaceRoles(ctx context.Context, workspaceID int64) ([]*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles
			  WHERE workspace_group_id = $1 ORDER BY created_at, id`

	var roles []*models.Role
	if err := r.db.SelectContext(ctx, &roles, query, workspaceID); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// CreateRole inserts a role, assigning an id when none is set.
func (r *RoleRepository) CreateRole(ctx context.Context, role *models.Role) error {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	if role.Permissions == nil {
		role.Permissions = pq.StringArray{}
	}
	if role.GroupRoles == nil {
		role.GroupRoles = pq.Int64Array{}
	}
	query := `INSERT INTO roles (id, workspace_group_id, name, permissions, group_roles, is_owner_role, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, NOW())`
	if _, err := r.db.ExecContext(ctx, query,
		role.ID, role.WorkspaceGroupID, role.Name, role.Permissions, role.GroupRoles, role.IsOwnerRole,
	); err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// SetOwnerRolePermissions overwrites the permissions of every owner role in
// the workspace and returns the number of roles updated.
func (r *RoleRepository) SetOwnerRolePermissions(ctx context.Context, workspaceID int64, permissions []string) (int64, error) {
	query := `UPDATE roles SET permissions = $1
			  WHERE workspace_group_id = $2 AND is_owner_role = TRUE`
	res, err := r.db.ExecContext(ctx, query, pq.Array(permissions), workspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to update owner role permissions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read updated owner roles: %w", err)
	}
	return n, nil
}

// ListWorkspaceMemberships returns every user-role connection in the workspace.
func (r *RoleRepository) ListWorkspaceMemberships(ctx context.Context, workspaceID int64) ([]RoleMembership, error) {
	query := `SELECT ur.user_id, ur.role_id, r.is_owner_role
			  FROM user_roles ur
			  JOIN roles r ON r.id = ur.role_id
			  WHERE r.workspace_group_id = $1
			  ORDER BY ur.user_id, ur.role_id`

	var memberships []RoleMembership
	if err := r.db.SelectContext(ctx, &memberships, query, workspaceID); err != nil {
		return nil, fmt.Errorf("failed to list role memberships: %w", err)
	}
	return memberships, nil
}

// ConnectUser adds the user to the role. Connecting twice is a no-op.
func (r *RoleRepository) ConnectUser(ctx context.Context, userID int64, roleID uuid.UUID) error {
	query := `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
			  ON CONFLICT (user_id, role_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, userID, roleID); err != nil {
		return fmt.Errorf("failed to connect user to role: %w", err)
	}
	return nil
}

// DisconnectUser removes the user from the role.
func (r *RoleRepository) DisconnectUser(ctx context.Context, userID int64, roleID uuid.UUID) error {
	query := `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`
	if _, err := r.db.ExecContext(ctx, query, userID, roleID); err != nil {
		return fmt.Errorf("failed to disconnect user from role: %w", err)
	}
	return nil
}
