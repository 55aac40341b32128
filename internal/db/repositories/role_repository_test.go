package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/orbit-workspaces/orbit/internal/db/models"
)

var roleCols = []string{"id", "workspace_group_id", "name", "permissions", "group_roles", "is_owner_role", "created_at"}

var membershipCols = []string{"user_id", "role_id", "is_owner_role"}

func newRoleRepo(t *testing.T) (*RoleRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewRoleRepository(db), mock
}

func TestListWorkspaceRoles_Success(t *testing.T) {
	repo, mock := newRoleRepo(t)
	now := time.Now()
	mock.ExpectQuery("SELECT id.*FROM roles.*WHERE workspace_group_id").
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(roleCols).
			AddRow(uuid.New().String(), int64(100), "Owner", "{admin}", "{}", true, now).
			AddRow(uuid.New().String(), int64(100), "Staff", "{manage_sessions,view_wall}", "{11,12}", false, now))

	roles, err := repo.ListWorkspaceRoles(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("len = %d, want 2", len(roles))
	}
	if !roles[0].IsOwnerRole || roles[1].Name != "Staff" {
		t.Errorf("roles = %+v", roles)
	}
	if len(roles[1].Permissions) != 2 || roles[1].Permissions[0] != "manage_sessions" {
		t.Errorf("Permissions = %v", roles[1].Permissions)
	}
	if !roles[1].MapsToGroupRole(12) {
		t.Errorf("GroupRoles = %v, want to contain 12", roles[1].GroupRoles)
	}
}

func TestListWorkspaceRoles_Error(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT id").WillReturnError(errDB)
	if _, err := repo.ListWorkspaceRoles(context.Background(), 100); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestCreateRole_AssignsID(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectExec("INSERT INTO roles").WillReturnResult(sqlmock.NewResult(0, 1))

	role := &models.Role{WorkspaceGroupID: 100, Name: "Staff"}
	if err := repo.CreateRole(context.Background(), role); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role.ID == uuid.Nil {
		t.Error("CreateRole() did not assign an id")
	}
	if role.Permissions == nil || role.GroupRoles == nil {
		t.Error("CreateRole() left nil arrays")
	}
}

func TestSetOwnerRolePermissions_ReturnsRowsAffected(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectExec("UPDATE roles SET permissions.*is_owner_role = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.SetOwnerRolePermissions(context.Background(), 100, []string{"admin", "view_wall"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestSetOwnerRolePermissions_Error(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectExec("UPDATE roles").WillReturnError(errDB)
	if _, err := repo.SetOwnerRolePermissions(context.Background(), 100, nil); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestListWorkspaceMemberships_Success(t *testing.T) {
	repo, mock := newRoleRepo(t)
	roleID := uuid.New()
	mock.ExpectQuery("SELECT ur.user_id, ur.role_id, r.is_owner_role.*FROM user_roles").
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(membershipCols).
			AddRow(int64(1), roleID.String(), false).
			AddRow(int64(2), roleID.String(), true))

	ms, err := repo.ListWorkspaceMemberships(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ms) != 2 || ms[0].RoleID != roleID || !ms[1].IsOwnerRole {
		t.Errorf("memberships = %+v", ms)
	}
}

func TestConnectUser_IsIdempotentInsert(t *testing.T) {
	repo, mock := newRoleRepo(t)
	roleID := uuid.New()
	mock.ExpectExec("INSERT INTO user_roles.*ON CONFLICT \\(user_id, role_id\\) DO NOTHING").
		WithArgs(int64(5), roleID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.ConnectUser(context.Background(), 5, roleID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDisconnectUser_Success(t *testing.T) {
	repo, mock := newRoleRepo(t)
	roleID := uuid.New()
	mock.ExpectExec("DELETE FROM user_roles WHERE user_id").
		WithArgs(int64(5), roleID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DisconnectUser(context.Background(), 5, roleID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDisconnectUser_Error(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectExec("DELETE FROM user_roles").WillReturnError(errDB)
	if err := repo.DisconnectUser(context.Background(), 5, uuid.New()); err == nil {
		t.Error("expected error, got nil")
	}
}
