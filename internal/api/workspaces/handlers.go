// Package workspaces implements the workspace-scoped HTTP handlers: the
// caller's membership, role listing, sync configuration, sync triggers and
// sync history. Permission checks happen in middleware before these run.
package workspaces

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orbit-workspaces/orbit/internal/db/models"
	"github.com/orbit-workspaces/orbit/internal/guard"
	"github.com/orbit-workspaces/orbit/internal/jobs"
	"github.com/orbit-workspaces/orbit/internal/middleware"
	"github.com/orbit-workspaces/orbit/internal/safego"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
	// maxRank is the highest rank number a group role can carry.
	maxRank = 255
)

// MembershipResolver is implemented by *guard.Guard.
type MembershipResolver interface {
	Resolve(ctx context.Context, userID, workspaceID int64) (*guard.Membership, error)
}

// WorkspaceReader is implemented by *repositories.WorkspaceRepository.
type WorkspaceReader interface {
	GetWorkspace(ctx context.Context, groupID int64) (*models.Workspace, error)
}

// RoleLister is implemented by *repositories.RoleRepository.
type RoleLister interface {
	ListWorkspaceRoles(ctx context.Context, workspaceID int64) ([]*models.Role, error)
}

// ConfigStore is implemented by *repositories.WorkspaceConfigRepository.
type ConfigStore interface {
	GetMinTrackedRole(ctx context.Context, workspaceID int64) (int64, error)
	SetMinTrackedRole(ctx context.Context, workspaceID, rank int64) error
}

// SyncRunLister is implemented by *repositories.SyncRunRepository.
type SyncRunLister interface {
	ListSyncRuns(ctx context.Context, workspaceID int64, limit int) ([]*models.SyncRun, error)
}

// Syncer is implemented by *jobs.GroupSyncJob.
type Syncer interface {
	Run(ctx context.Context, workspaceID int64, triggeredBy string) (*jobs.SyncReport, error)
	InProgress(workspaceID int64) bool
	CheckSpecificUser(ctx context.Context, userID int64) (*jobs.UserSyncResult, error)
}

// Handlers serves the workspace endpoints.
type Handlers struct {
	memberships MembershipResolver
	workspaces  WorkspaceReader
	roles       RoleLister
	configs     ConfigStore
	runs        SyncRunLister
	syncer      Syncer

	// SyncTimeout bounds a sync or role refresh started from the API.
	SyncTimeout time.Duration
	// RefreshWait is how long a role refresh request waits for the result
	// before answering 202 and letting the refresh finish in the background.
	RefreshWait time.Duration
}

// NewHandlers creates the workspace handlers.
func NewHandlers(memberships MembershipResolver, workspaces WorkspaceReader, roles RoleLister, configs ConfigStore, runs SyncRunLister, syncer Syncer) *Handlers {
	return &Handlers{
		memberships: memberships,
		workspaces:  workspaces,
		roles:       roles,
		configs:     configs,
		runs:        runs,
		syncer:      syncer,
		SyncTimeout: 30 * time.Minute,
		RefreshWait: 10 * time.Second,
	}
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// workspaceID returns the id the permission middleware validated.
func workspaceID(c *gin.Context) (int64, bool) {
	if id, ok := middleware.WorkspaceIDFromContext(c); ok {
		return id, true
	}
	id, err := strconv.ParseInt(c.Param(middleware.WorkspaceParam), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// @Summary      Current membership
// @Description  Returns the caller's resolved top role and permissions in the workspace.
// @Tags         Workspaces
// @Produce      json
// @Param        id  path  int  true  "Workspace (group) ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/workspace/{id}/me [get]
// GetMeHandler returns the caller's membership
// GET /api/workspace/:id/me
func (h *Handlers) GetMeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		wsID, ok := workspaceID(c)
		if !ok {
			respondError(c, http.StatusBadRequest, "Invalid workspace id")
			return
		}
		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, "Unauthorized")
			return
		}

		m, err := h.memberships.Resolve(c.Request.Context(), userID, wsID)
		if err != nil {
			slog.Error("failed to resolve membership", "user_id", userID, "workspace_id", wsID, "error", err)
			respondError(c, http.StatusInternalServerError, "Failed to resolve membership")
			return
		}
		if !m.UserExists || m.TopRole == nil {
			respondError(c, http.StatusUnauthorized, "Unauthorized")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"userId":      strconv.FormatInt(userID, 10),
			"workspaceId": wsID,
			"role":        m.TopRole,
			"permissions": m.TopRole.Permissions,
			"isOwner":     m.TopRole.IsOwnerRole,
		})
	}
}

// ListRolesHandler lists the workspace's roles
// GET /api/workspace/:id/roles
func (h *Handlers) ListRolesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		wsID, ok := workspaceID(c)
		if !ok {
			respondError(c, http.StatusBadRequest, "Invalid workspace id")
			return
		}
		roles, err := h.roles.ListWorkspaceRoles(c.Request.Context(), wsID)
		if err != nil {
			slog.Error("failed to list roles", "workspace_id", wsID, "error", err)
			respondError(c, http.StatusInternalServerError, "Failed to list roles")
			return
		}
		if roles == nil {
			roles = []*models.Role{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "roles": roles})
	}
}

// GetMinTrackedRoleHandler returns the lowest rank number the synchronizer tracks
// GET /api/workspace/:id/config/min-tracked-role
func (h *Handlers) GetMinTrackedRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		wsID, ok := workspaceID(c)
		if !ok {
			respondError(c, http.StatusBadRequest, "Invalid workspace id")
			return
		}
		rank, err := h.configs.GetMinTrackedRole(c.Request.Context(), wsID)
		if err != nil {
			slog.Error("failed to read min tracked role", "workspace_id", wsID, "error", err)
			respondError(c, http.StatusInternalServerError, "Failed to read configuration")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "minTrackedRole": rank})
	}
}

// UpdateMinTrackedRoleRequest is the body of a min tracked role update.
type UpdateMinTrackedRoleRequest struct {
	MinTrackedRole *int64 `json:"minTrackedRole" binding:"required"`
}

// @Summary      Update minimum tracked rank
// @Description  Ranks below this number are ignored by the group role sync.
// @Tags         Workspaces
// @Accept       json
// @Produce      json
// @Param        id    path  int                          true  "Workspace (group) ID"
// @Param        body  body  UpdateMinTrackedRoleRequest  true  "New minimum rank (0-255)"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/workspace/{id}/config/min-tracked-role [put]
// UpdateMinTrackedRoleHandler stores the min tracked rank
// PUT /api/workspace/:id/config/min-tracked-role
func (h *Handlers) UpdateMinTrackedRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		wsID, ok := workspaceID(c)
		if !ok {
			respondError(c, http.StatusBadRequest, "Invalid workspace id")
			return
		}
		var req UpdateMinTrackedRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "Invalid request: "+err.Error())
			return
		}
		rank := *req.MinTrackedRole
		if rank < 0 || rank > maxRank {
			respondError(c, http.StatusBadRequest, "minTrackedRole must be between 0 and 255")
			return
		}
		if err := h.configs.SetMinTrackedRole(c.Request.Context(), wsID, rank); err != nil {
			slog.Error("failed to store min tracked role", "workspace_id", wsID, "error", err)
			respondError(c, http.StatusInternalServerError, "Failed to update configuration")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "minTrackedRole": rank})
	}
}

// @Summary      Trigger group role sync
// @Description  Starts a sync of the workspace's roles with the external group in the background.
// @Tags         Workspaces
// @Produce      json
// @Param        id  path  int  true  "Workspace (group) ID"
// @Success      202  {object}  map[string]interface{}  "Sync started"
// @Failure      404  {object}  map[string]interface{}  "Workspace not found"
// @Failure      409  {object}  map[string]interface{}  "Sync already in progress"
// @Router       /api/workspace/{id}/sync [post]
// TriggerSyncHandler starts an asynchronous sync
// POST /api/workspace/:id/sync
func (h *Handlers) TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		wsID, ok := workspaceID(c)
		if !ok {
			respondError(c, http.StatusBadRequest, "Invalid workspace id")
			return
		}
		ws, err := h.workspaces.GetWorkspace(c.Request.Context(), wsID)
		if err != nil {
			slog.Error("failed to load workspace", "workspace_id", wsID, "error", err)
			respondError(c, http.StatusInternalServerError, "Failed to load workspace")
			return
		}
		if ws == nil {
			respondError(c, http.StatusNotFound, "Workspace not found")
			return
		}
		if h.syncer.InProgress(wsID) {
			respondError(c, http.StatusConflict, "Sync already in progress")
			return
		}

		timeout := h.SyncTimeout
		safego.Go("group-sync", func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if _, err := h.syncer.Run(ctx, wsID, jobs.TriggerManual); err != nil && !errors.Is(err, jobs.ErrSyncInProgress) {
				slog.Error("manual group sync failed", "workspace_id", wsID, "error", err)
			}
		})

		c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Sync started"})
	}
}

// ListSyncRunsHandler returns the most recent sync runs
// GET /api/workspace/:id/sync/runs?limit=20
func (h *Handlers) ListSyncRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		wsID, ok := workspaceID(c)
		if !ok {
			respondError(c, http.StatusBadRequest, "Invalid workspace id")
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRunsLimit)))
		if limit < 1 || limit > maxRunsLimit {
			limit = defaultRunsLimit
		}
		runs, err := h.runs.ListSyncRuns(c.Request.Context(), wsID, limit)
		if err != nil {
			slog.Error("failed to list sync runs", "workspace_id", wsID, "error", err)
			respondError(c, http.StatusInternalServerError, "Failed to list sync runs")
			return
		}
		if runs == nil {
			runs = []*models.SyncRun{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "runs": runs})
	}
}

type refreshOutcome struct {
	result *jobs.UserSyncResult
	err    error
}

// RefreshMyRolesHandler re-reads the caller's rank in every workspace. The
// refresh is paced per workspace, so a caller in many workspaces gets 202 once
// RefreshWait passes and the refresh completes in the background.
// POST /api/me/refresh-roles
func (h *Handlers) RefreshMyRolesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, "Unauthorized")
			return
		}

		done := make(chan refreshOutcome, 1)
		timeout := h.SyncTimeout
		safego.Go("refresh-roles", func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			result, err := h.syncer.CheckSpecificUser(ctx, userID)
			if err != nil {
				slog.Error("failed to refresh user roles", "user_id", userID, "error", err)
			}
			done <- refreshOutcome{result: result, err: err}
		})

		wait := time.NewTimer(h.RefreshWait)
		defer wait.Stop()
		select {
		case out := <-done:
			if out.err != nil {
				respondError(c, http.StatusBadGateway, "Failed to refresh roles")
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "result": out.result})
		case <-wait.C:
			c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Refresh continues in the background"})
		case <-c.Request.Context().Done():
		}
	}
}
