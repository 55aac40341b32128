// Package jobs contains the background workers of Orbit: the group role
// synchronizer, which reconciles workspace role membership with the external
// group's ranks, and the scheduler that runs it.
//
// A sync is idempotent: running it again with unchanged external data makes
// no connects, disconnects or rank writes.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbit-workspaces/orbit/internal/auth"
	"github.com/orbit-workspaces/orbit/internal/db/models"
	"github.com/orbit-workspaces/orbit/internal/db/repositories"
	"github.com/orbit-workspaces/orbit/internal/roblox"
	"github.com/orbit-workspaces/orbit/internal/telemetry"
)

// ErrSyncInProgress is returned when the workspace is already being synced.
var ErrSyncInProgress = errors.New("sync already in progress for workspace")

// ErrWorkspaceNotFound is returned for unknown workspace ids.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// Sync triggers recorded on sync runs.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// Operation names the kind of change or lookup a report entry describes.
type Operation string

const (
	OpMetadataRefresh  Operation = "metadata_refresh"
	OpOwnerPermissions Operation = "owner_permissions"
	OpRankFetch        Operation = "rank_fetch"
	OpRankUpsert       Operation = "rank_upsert"
	OpUserUpsert       Operation = "user_upsert"
	OpRoleConnect      Operation = "role_connect"
	OpRoleDisconnect   Operation = "role_disconnect"
)

// Outcome is one performed operation.
type Outcome struct {
	Op          Operation  `json:"op"`
	UserID      int64      `json:"userId,omitempty"`
	RoleID      *uuid.UUID `json:"roleId,omitempty"`
	GroupRoleID int64      `json:"groupRoleId,omitempty"`
	Rank        int64      `json:"rank,omitempty"`
}

// Failure is one operation that could not be performed.
type Failure struct {
	Outcome
	Error string `json:"error"`
}

// SyncReport is the batch result of one workspace sync.
type SyncReport struct {
	WorkspaceID    int64     `json:"workspaceId"`
	MinTrackedRank int64     `json:"minTrackedRank"`
	TrackedRanks   []int64   `json:"trackedRanks"`
	StartedAt      time.Time `json:"startedAt"`
	CompletedAt    time.Time `json:"completedAt"`
	Succeeded      []Outcome `json:"succeeded"`
	Failed         []Failure `json:"failed"`
}

// Count returns the number of succeeded operations of the given kind.
func (r *SyncReport) Count(op Operation) int {
	n := 0
	for _, o := range r.Succeeded {
		if o.Op == op {
			n++
		}
	}
	return n
}

func (r *SyncReport) succeed(o Outcome) {
	r.Succeeded = append(r.Succeeded, o)
	telemetry.GroupSyncOperationsTotal.WithLabelValues(string(o.Op), "succeeded").Inc()
}

func (r *SyncReport) fail(o Outcome, err error) {
	r.Failed = append(r.Failed, Failure{Outcome: o, Error: err.Error()})
	telemetry.GroupSyncOperationsTotal.WithLabelValues(string(o.Op), "failed").Inc()
	slog.Warn("group sync operation failed",
		"workspace_id", r.WorkspaceID, "op", o.Op, "user_id", o.UserID,
		"group_role_id", o.GroupRoleID, "error", err)
}

// GroupSyncJob reconciles workspace roles with external group ranks.
type GroupSyncJob struct {
	groups      GroupService
	stores      Stores
	permissions PermissionInvalidator

	userLookupPacing time.Duration
	now              func() time.Time
	sleep            func(ctx context.Context, d time.Duration) error

	activeMu sync.Mutex
	active   map[int64]bool
}

// NewGroupSyncJob creates the synchronizer. permissions may be nil.
func NewGroupSyncJob(groups GroupService, stores Stores, permissions PermissionInvalidator, userLookupPacing time.Duration) *GroupSyncJob {
	return &GroupSyncJob{
		groups:           groups,
		stores:           stores,
		permissions:      permissions,
		userLookupPacing: userLookupPacing,
		now:              time.Now,
		sleep:            sleepCtx,
		active:           make(map[int64]bool),
	}
}

// SyncWorkspace runs a manual sync of one workspace.
func (j *GroupSyncJob) SyncWorkspace(ctx context.Context, workspaceID int64) (*SyncReport, error) {
	return j.Run(ctx, workspaceID, TriggerManual)
}

// Run syncs one workspace and records the run in the sync history. Only a
// failure to read the external rank list (or local state) aborts the sync;
// every other failure is recorded in the report.
func (j *GroupSyncJob) Run(ctx context.Context, workspaceID int64, triggeredBy string) (*SyncReport, error) {
	if !j.acquire(workspaceID) {
		return nil, ErrSyncInProgress
	}
	defer j.release(workspaceID)

	ws, err := j.stores.Workspaces.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, fmt.Errorf("%w: %d", ErrWorkspaceNotFound, workspaceID)
	}

	report := &SyncReport{WorkspaceID: workspaceID, StartedAt: j.now()}
	run := &models.SyncRun{
		WorkspaceGroupID: workspaceID,
		TriggeredBy:      triggeredBy,
		Status:           models.SyncStatusRunning,
		StartedAt:        report.StartedAt,
	}
	if err := j.stores.SyncRuns.CreateSyncRun(ctx, run); err != nil {
		slog.Warn("failed to record sync run start", "workspace_id", workspaceID, "error", err)
		run = nil
	}

	slog.Info("group sync started", "workspace_id", workspaceID, "triggered_by", triggeredBy)
	syncErr := j.reconcile(ctx, report)
	report.CompletedAt = j.now()

	status := models.SyncStatusSuccess
	if syncErr != nil {
		status = models.SyncStatusFailed
	} else if err := j.stores.Workspaces.MarkSynced(ctx, workspaceID, report.CompletedAt); err != nil {
		slog.Warn("failed to mark workspace synced", "workspace_id", workspaceID, "error", err)
	}
	telemetry.GroupSyncRunsTotal.WithLabelValues(status).Inc()
	telemetry.GroupSyncDuration.Observe(report.CompletedAt.Sub(report.StartedAt).Seconds())

	if run != nil {
		j.completeRun(ctx, run, report, status, syncErr)
	}

	if syncErr != nil {
		slog.Error("group sync failed", "workspace_id", workspaceID, "error", syncErr)
		return report, syncErr
	}
	slog.Info("group sync completed",
		"workspace_id", workspaceID,
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"duration", report.CompletedAt.Sub(report.StartedAt))
	return report, nil
}

func (j *GroupSyncJob) completeRun(ctx context.Context, run *models.SyncRun, report *SyncReport, status string, syncErr error) {
	completed := report.CompletedAt
	run.Status = status
	run.CompletedAt = &completed
	run.SucceededCount = len(report.Succeeded)
	run.FailedCount = len(report.Failed)
	if syncErr != nil {
		msg := syncErr.Error()
		run.ErrorMessage = &msg
	}
	if raw, err := json.Marshal(report); err == nil {
		run.Report = raw
	}
	// the run is recorded even when the sync context was cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := j.stores.SyncRuns.CompleteSyncRun(ctx, run); err != nil {
		slog.Warn("failed to record sync run result", "workspace_id", run.WorkspaceGroupID, "error", err)
	}
}

// SyncAll syncs every workspace in turn. Errors are logged per workspace.
func (j *GroupSyncJob) SyncAll(ctx context.Context, triggeredBy string) {
	workspaces, err := j.stores.Workspaces.ListWorkspaces(ctx)
	if err != nil {
		slog.Error("failed to list workspaces for group sync", "error", err)
		return
	}
	for _, ws := range workspaces {
		if ctx.Err() != nil {
			return
		}
		if _, err := j.Run(ctx, ws.GroupID, triggeredBy); err != nil && !errors.Is(err, ErrSyncInProgress) {
			slog.Error("scheduled group sync failed", "workspace_id", ws.GroupID, "error", err)
		}
	}
}

// InProgress reports whether a sync of the workspace is running.
func (j *GroupSyncJob) InProgress(workspaceID int64) bool {
	j.activeMu.Lock()
	defer j.activeMu.Unlock()
	return j.active[workspaceID]
}

func (j *GroupSyncJob) acquire(workspaceID int64) bool {
	j.activeMu.Lock()
	defer j.activeMu.Unlock()
	if j.active[workspaceID] {
		return false
	}
	j.active[workspaceID] = true
	return true
}

func (j *GroupSyncJob) release(workspaceID int64) {
	j.activeMu.Lock()
	defer j.activeMu.Unlock()
	delete(j.active, workspaceID)
}

// trackedRank is an external rank that passed the minimum tracked rank
// filter, with the local role it maps to and its fetched members.
type trackedRank struct {
	rank    roblox.GroupRole
	role    *models.Role
	members []roblox.GroupMember
	fetched bool
}

func (j *GroupSyncJob) reconcile(ctx context.Context, report *SyncReport) error {
	wsID := report.WorkspaceID

	j.refreshMetadata(ctx, report)

	if n, err := j.stores.Roles.SetOwnerRolePermissions(ctx, wsID, auth.OwnerPermissions()); err != nil {
		report.fail(Outcome{Op: OpOwnerPermissions}, err)
	} else if n > 0 {
		report.succeed(Outcome{Op: OpOwnerPermissions})
	}

	groupRoles, err := j.groups.ListGroupRoles(ctx, wsID)
	if err != nil {
		return fmt.Errorf("failed to fetch group ranks: %w", err)
	}
	minRank, err := j.stores.Configs.GetMinTrackedRole(ctx, wsID)
	if err != nil {
		return err
	}
	report.MinTrackedRank = minRank

	roles, err := j.stores.Roles.ListWorkspaceRoles(ctx, wsID)
	if err != nil {
		return err
	}

	var tracked []*trackedRank
	for _, gr := range groupRoles {
		if gr.Rank < minRank {
			continue
		}
		tracked = append(tracked, &trackedRank{rank: gr, role: models.FindRoleForGroupRole(roles, gr.ID)})
		report.TrackedRanks = append(report.TrackedRanks, gr.Rank)
	}

	// Every tracked rank is fetched before anything is written, so that a
	// role mapped to several ranks is reconciled against all of its members.
	for _, tr := range tracked {
		members, err := j.groups.ListRoleMembers(ctx, wsID, tr.rank.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.fail(Outcome{Op: OpRankFetch, GroupRoleID: tr.rank.ID, Rank: tr.rank.Rank}, err)
			continue
		}
		tr.members = members
		tr.fetched = true
	}

	local, err := j.localUsers(ctx, tracked)
	if err != nil {
		return err
	}
	ranks, err := j.stores.Ranks.GetWorkspaceRanks(ctx, wsID, userIDs(local))
	if err != nil {
		return err
	}

	j.upsertRanks(ctx, report, tracked, local, ranks)

	if err := j.disconnectDeparted(ctx, report, tracked); err != nil {
		return err
	}
	return j.connectNewMembers(ctx, report, tracked, local, ranks)
}

func (j *GroupSyncJob) refreshMetadata(ctx context.Context, report *SyncReport) {
	g, err := j.groups.GetGroup(ctx, report.WorkspaceID)
	if err != nil {
		report.fail(Outcome{Op: OpMetadataRefresh}, err)
		return
	}
	if err := j.stores.Workspaces.UpdateWorkspaceMetadata(ctx, report.WorkspaceID, g.Name, g.IconURL); err != nil {
		report.fail(Outcome{Op: OpMetadataRefresh}, err)
		return
	}
	report.succeed(Outcome{Op: OpMetadataRefresh})
}

// localUsers returns the fetched members that already exist in Orbit.
func (j *GroupSyncJob) localUsers(ctx context.Context, tracked []*trackedRank) (map[int64]*models.User, error) {
	seen := make(map[int64]bool)
	var ids []int64
	for _, tr := range tracked {
		for _, m := range tr.members {
			if !seen[m.UserID] {
				seen[m.UserID] = true
				ids = append(ids, m.UserID)
			}
		}
	}
	local := make(map[int64]*models.User, len(ids))
	if len(ids) == 0 {
		return local, nil
	}
	users, err := j.stores.Users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		local[u.UserID] = u
	}
	return local, nil
}

func (j *GroupSyncJob) upsertRanks(ctx context.Context, report *SyncReport, tracked []*trackedRank, local map[int64]*models.User, ranks map[int64]int64) {
	for _, tr := range tracked {
		for _, m := range tr.members {
			if local[m.UserID] == nil {
				continue
			}
			if cur, ok := ranks[m.UserID]; ok && cur == tr.rank.Rank {
				continue
			}
			j.writeRank(ctx, report, m.UserID, tr.rank.Rank, ranks)
		}
	}
}

func (j *GroupSyncJob) writeRank(ctx context.Context, report *SyncReport, userID, rank int64, ranks map[int64]int64) {
	o := Outcome{Op: OpRankUpsert, UserID: userID, Rank: rank}
	if err := j.stores.Ranks.UpsertRank(ctx, userID, report.WorkspaceID, rank); err != nil {
		report.fail(o, err)
		return
	}
	ranks[userID] = rank
	report.succeed(o)
}

// disconnectDeparted removes users from rank-mapped roles when they are no
// longer a member of any tracked rank mapping to that role. Owner role
// holders are never disconnected, and a role is left untouched when any of
// its ranks could not be fetched.
func (j *GroupSyncJob) disconnectDeparted(ctx context.Context, report *SyncReport, tracked []*trackedRank) error {
	wsID := report.WorkspaceID

	type roleState struct {
		role     *models.Role
		members  map[int64]bool
		complete bool
	}
	byRole := make(map[uuid.UUID]*roleState)
	var order []uuid.UUID
	for _, tr := range tracked {
		if tr.role == nil {
			continue
		}
		st, ok := byRole[tr.role.ID]
		if !ok {
			st = &roleState{role: tr.role, members: make(map[int64]bool), complete: true}
			byRole[tr.role.ID] = st
			order = append(order, tr.role.ID)
		}
		if !tr.fetched {
			st.complete = false
			continue
		}
		for _, m := range tr.members {
			st.members[m.UserID] = true
		}
	}
	if len(byRole) == 0 {
		return nil
	}

	memberships, err := j.stores.Roles.ListWorkspaceMemberships(ctx, wsID)
	if err != nil {
		return err
	}
	owners := ownerHolders(memberships)

	for _, roleID := range order {
		st := byRole[roleID]
		if !st.complete {
			slog.Warn("skipping disconnects for role with unfetched ranks",
				"workspace_id", wsID, "role_id", roleID, "role", st.role.Name)
			continue
		}
		for _, m := range memberships {
			if m.RoleID != roleID || st.members[m.UserID] || owners[m.UserID] {
				continue
			}
			id := roleID
			o := Outcome{Op: OpRoleDisconnect, UserID: m.UserID, RoleID: &id}
			if err := j.stores.Roles.DisconnectUser(ctx, m.UserID, roleID); err != nil {
				report.fail(o, err)
				continue
			}
			report.succeed(o)
			j.invalidate(ctx, m.UserID, wsID)
		}
	}
	return nil
}

// connectNewMembers connects fetched members to the role their rank maps to
// when they hold no role in the workspace yet.
func (j *GroupSyncJob) connectNewMembers(ctx context.Context, report *SyncReport, tracked []*trackedRank, local map[int64]*models.User, ranks map[int64]int64) error {
	wsID := report.WorkspaceID

	// Re-read after disconnects: a member who changed rank has just lost
	// their old role and is eligible for the new one.
	memberships, err := j.stores.Roles.ListWorkspaceMemberships(ctx, wsID)
	if err != nil {
		return err
	}
	holdsAny := make(map[int64]bool)
	connected := make(map[uuid.UUID]map[int64]bool)
	for _, m := range memberships {
		holdsAny[m.UserID] = true
		if connected[m.RoleID] == nil {
			connected[m.RoleID] = make(map[int64]bool)
		}
		connected[m.RoleID][m.UserID] = true
	}

	for _, tr := range tracked {
		if tr.role == nil || !tr.fetched {
			continue
		}
		role := tr.role
		for _, m := range tr.members {
			if connected[role.ID][m.UserID] {
				continue
			}
			if holdsAny[m.UserID] {
				j.refreshUsername(ctx, report, m, local[m.UserID])
				continue
			}
			if role.IsOwnerRole {
				continue
			}
			if !j.assign(ctx, report, m, role, tr.rank.Rank, ranks) {
				continue
			}
			holdsAny[m.UserID] = true
			if connected[role.ID] == nil {
				connected[role.ID] = make(map[int64]bool)
			}
			connected[role.ID][m.UserID] = true
		}
	}
	return nil
}

func (j *GroupSyncJob) refreshUsername(ctx context.Context, report *SyncReport, m roblox.GroupMember, existing *models.User) {
	if m.Username == "" || (existing != nil && existing.Username != nil && *existing.Username == m.Username) {
		return
	}
	name := m.Username
	o := Outcome{Op: OpUserUpsert, UserID: m.UserID}
	if err := j.stores.Users.UpsertUser(ctx, &models.User{UserID: m.UserID, Username: &name}); err != nil {
		report.fail(o, err)
		return
	}
	report.succeed(o)
}

// assign creates or refreshes the user, connects them to role and stores
// their rank. It reports whether the connection was made.
func (j *GroupSyncJob) assign(ctx context.Context, report *SyncReport, m roblox.GroupMember, role *models.Role, rank int64, ranks map[int64]int64) bool {
	wsID := report.WorkspaceID
	user := &models.User{UserID: m.UserID}
	if m.Username != "" {
		name := m.Username
		user.Username = &name
	}
	if picture, err := j.groups.GetHeadshotURL(ctx, m.UserID); err != nil {
		slog.Warn("failed to fetch headshot", "user_id", m.UserID, "error", err)
	} else if picture != "" {
		user.Picture = &picture
	}

	o := Outcome{Op: OpUserUpsert, UserID: m.UserID}
	if err := j.stores.Users.UpsertUser(ctx, user); err != nil {
		report.fail(o, err)
		return false
	}
	report.succeed(o)

	roleID := role.ID
	o = Outcome{Op: OpRoleConnect, UserID: m.UserID, RoleID: &roleID}
	if err := j.stores.Roles.ConnectUser(ctx, m.UserID, role.ID); err != nil {
		report.fail(o, err)
		return false
	}
	report.succeed(o)
	j.invalidate(ctx, m.UserID, wsID)

	if cur, ok := ranks[m.UserID]; !ok || cur != rank {
		j.writeRank(ctx, report, m.UserID, rank, ranks)
	}
	return true
}

func (j *GroupSyncJob) invalidate(ctx context.Context, userID, workspaceID int64) {
	if j.permissions == nil {
		return
	}
	if err := j.permissions.Invalidate(ctx, userID, workspaceID); err != nil {
		slog.Warn("failed to invalidate permission cache", "user_id", userID, "workspace_id", workspaceID, "error", err)
	}
}

func ownerHolders(memberships []repositories.RoleMembership) map[int64]bool {
	owners := make(map[int64]bool)
	for _, m := range memberships {
		if m.IsOwnerRole {
			owners[m.UserID] = true
		}
	}
	return owners
}

func userIDs(users map[int64]*models.User) []int64 {
	ids := make([]int64, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}
