package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orbit-workspaces/orbit/internal/db/models"
	"github.com/orbit-workspaces/orbit/internal/db/repositories"
	"github.com/orbit-workspaces/orbit/internal/roblox"
)

// The sync jobs depend on these narrow views of the repositories and the
// group service client so tests can substitute in-memory fakes.

// GroupService is implemented by *roblox.Client.
type GroupService interface {
	GetGroup(ctx context.Context, groupID int64) (*roblox.Group, error)
	ListGroupRoles(ctx context.Context, groupID int64) ([]roblox.GroupRole, error)
	ListRoleMembers(ctx context.Context, groupID, roleID int64) ([]roblox.GroupMember, error)
	GetUserRank(ctx context.Context, userID, groupID int64) (int64, error)
	GetRoleByRank(ctx context.Context, groupID, rank int64) (*roblox.GroupRole, error)
	GetUsername(ctx context.Context, userID int64) (string, error)
	GetHeadshotURL(ctx context.Context, userID int64) (string, error)
}

// WorkspaceStore is implemented by *repositories.WorkspaceRepository.
type WorkspaceStore interface {
	ListWorkspaces(ctx context.Context) ([]*models.Workspace, error)
	GetWorkspace(ctx context.Context, groupID int64) (*models.Workspace, error)
	UpdateWorkspaceMetadata(ctx context.Context, groupID int64, name, logo string) error
	MarkSynced(ctx context.Context, groupID int64, at time.Time) error
}

// RoleStore is implemented by *repositories.RoleRepository.
type RoleStore interface {
	ListWorkspaceRoles(ctx context.Context, workspaceID int64) ([]*models.Role, error)
	SetOwnerRolePermissions(ctx context.Context, workspaceID int64, permissions []string) (int64, error)
	ListWorkspaceMemberships(ctx context.Context, workspaceID int64) ([]repositories.RoleMembership, error)
	ConnectUser(ctx context.Context, userID int64, roleID uuid.UUID) error
	DisconnectUser(ctx context.Context, userID int64, roleID uuid.UUID) error
}

// UserStore is implemented by *repositories.UserRepository.
type UserStore interface {
	GetUsersByIDs(ctx context.Context, userIDs []int64) ([]*models.User, error)
	GetUserWithRoles(ctx context.Context, userID, workspaceID int64) (*models.UserWithRoles, error)
	UpsertUser(ctx context.Context, user *models.User) error
}

// RankStore is implemented by *repositories.RankRepository.
type RankStore interface {
	GetWorkspaceRanks(ctx context.Context, workspaceID int64, userIDs []int64) (map[int64]int64, error)
	UpsertRank(ctx context.Context, userID, workspaceID, rankID int64) error
}

// ConfigStore is implemented by *repositories.WorkspaceConfigRepository.
type ConfigStore interface {
	GetMinTrackedRole(ctx context.Context, workspaceID int64) (int64, error)
}

// SyncRunStore is implemented by *repositories.SyncRunRepository.
type SyncRunStore interface {
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	CompleteSyncRun(ctx context.Context, run *models.SyncRun) error
}

// PermissionInvalidator is implemented by *guard.Guard.
type PermissionInvalidator interface {
	Invalidate(ctx context.Context, userID, workspaceID int64) error
}

// Stores bundles the persistence dependencies of the sync jobs.
type Stores struct {
	Workspaces WorkspaceStore
	Roles      RoleStore
	Users      UserStore
	Ranks      RankStore
	Configs    ConfigStore
	SyncRuns   SyncRunStore
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
