package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/orbit-workspaces/orbit/internal/db/models"
	"github.com/orbit-workspaces/orbit/internal/roblox"
)

// UserSyncResult describes the role a single-user refresh assigned, if any.
type UserSyncResult struct {
	UserID      int64      `json:"userId"`
	Assigned    bool       `json:"assigned"`
	WorkspaceID int64      `json:"workspaceId,omitempty"`
	RoleID      *uuid.UUID `json:"roleId,omitempty"`
	RoleName    string     `json:"roleName,omitempty"`
	// Checked counts the workspaces whose external rank was looked up.
	Checked int `json:"checked"`
}

// CheckSpecificUser refreshes one user's rank in every workspace and connects
// them to the role their rank maps to in the first workspace where they hold
// no role yet. Rank-mapped roles they no longer match are dropped first.
// Workspaces where the user holds an owner role, or whose rank floor the user
// is below, are left alone. Lookup failures for one workspace are logged and
// skipped.
func (j *GroupSyncJob) CheckSpecificUser(ctx context.Context, userID int64) (*UserSyncResult, error) {
	result := &UserSyncResult{UserID: userID}

	workspaces, err := j.stores.Workspaces.ListWorkspaces(ctx)
	if err != nil {
		return nil, err
	}

	for _, ws := range workspaces {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		wsID := ws.GroupID
		logger := slog.With("user_id", userID, "workspace_id", wsID)

		rank, err := j.groups.GetUserRank(ctx, userID, wsID)
		if err != nil {
			logger.Warn("failed to fetch user rank", "error", err)
			continue
		}
		result.Checked++
		if err := j.sleep(ctx, j.userLookupPacing); err != nil {
			return result, err
		}
		groupRole, err := j.groups.GetRoleByRank(ctx, wsID, rank)
		if err != nil {
			if !errors.Is(err, roblox.ErrNotFound) {
				logger.Warn("failed to fetch role for rank", "rank", rank, "error", err)
			}
			continue
		}

		current, err := j.stores.Users.GetUserWithRoles(ctx, userID, wsID)
		if err != nil {
			return result, err
		}
		if current != nil && current.HoldsOwnerRole() {
			continue
		}

		minRank, err := j.stores.Configs.GetMinTrackedRole(ctx, wsID)
		if err != nil {
			return result, err
		}
		if rank < minRank {
			continue
		}

		if err := j.stores.Ranks.UpsertRank(ctx, userID, wsID, rank); err != nil {
			logger.Warn("failed to store rank", "rank", rank, "error", err)
		}

		roles, err := j.stores.Roles.ListWorkspaceRoles(ctx, wsID)
		if err != nil {
			return result, err
		}
		role := models.FindRoleForGroupRole(roles, groupRole.ID)

		// Same rules as a workspace sync: rank-mapped roles the user no longer
		// matches are dropped, and a role is only assigned to a user left
		// holding none.
		remaining, err := j.dropStaleRankRoles(ctx, current, groupRole.ID)
		if err != nil {
			return result, err
		}
		if remaining > 0 {
			if err := j.upsertProfile(ctx, userID); err != nil {
				logger.Warn("failed to refresh profile", "error", err)
			}
			continue
		}
		if role == nil || role.IsOwnerRole {
			continue
		}

		if err := j.upsertProfile(ctx, userID); err != nil {
			return result, err
		}
		if err := j.stores.Roles.ConnectUser(ctx, userID, role.ID); err != nil {
			return result, err
		}
		j.invalidate(ctx, userID, wsID)
		logger.Info("assigned role from group rank", "role", role.Name, "rank", rank)

		roleID := role.ID
		result.Assigned = true
		result.WorkspaceID = wsID
		result.RoleID = &roleID
		result.RoleName = role.Name
		return result, nil
	}
	return result, nil
}

// dropStaleRankRoles disconnects the user from rank-mapped roles that do not
// map to groupRoleID and returns how many roles they still hold.
func (j *GroupSyncJob) dropStaleRankRoles(ctx context.Context, current *models.UserWithRoles, groupRoleID int64) (int, error) {
	if current == nil {
		return 0, nil
	}
	remaining := 0
	for _, held := range current.Roles {
		if held.IsOwnerRole || !held.IsRankMapped() || held.MapsToGroupRole(groupRoleID) {
			remaining++
			continue
		}
		if err := j.stores.Roles.DisconnectUser(ctx, current.UserID, held.ID); err != nil {
			return remaining, err
		}
		j.invalidate(ctx, current.UserID, held.WorkspaceGroupID)
		slog.Info("disconnected user from previous rank role", "user_id", current.UserID, "role", held.Name)
	}
	return remaining, nil
}

func (j *GroupSyncJob) upsertProfile(ctx context.Context, userID int64) error {
	user := &models.User{UserID: userID}
	if name, err := j.groups.GetUsername(ctx, userID); err != nil {
		slog.Warn("failed to fetch username", "user_id", userID, "error", err)
	} else if name != "" {
		user.Username = &name
	}
	if picture, err := j.groups.GetHeadshotURL(ctx, userID); err != nil {
		slog.Warn("failed to fetch headshot", "user_id", userID, "error", err)
	} else if picture != "" {
		user.Picture = &picture
	}
	return j.stores.Users.UpsertUser(ctx, user)
}
