package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/orbit-workspaces/orbit/internal/db/models"
	"github.com/orbit-workspaces/orbit/internal/db/repositories"
	"github.com/orbit-workspaces/orbit/internal/roblox"
)

// fakeGroups is an in-memory group service.
type fakeGroups struct {
	name        string
	roles       []roblox.GroupRole
	members     map[int64][]roblox.GroupMember
	memberErrs  map[int64]error
	rolesErr    error
	groupErr    error
	userRanks   map[rankKey]int64
	headshotErr error
	memberCalls int
	rankLookups int
}

func newFakeGroups(roles ...roblox.GroupRole) *fakeGroups {
	return &fakeGroups{
		name:       "Orbit Labs",
		roles:      roles,
		members:    map[int64][]roblox.GroupMember{},
		memberErrs: map[int64]error{},
		userRanks:  map[rankKey]int64{},
	}
}

func (f *fakeGroups) setMembers(groupRoleID int64, userIDs ...int64) {
	var ms []roblox.GroupMember
	for _, id := range userIDs {
		ms = append(ms, roblox.GroupMember{UserID: id, Username: fmt.Sprintf("user%d", id)})
	}
	f.members[groupRoleID] = ms
}

func (f *fakeGroups) GetGroup(_ context.Context, groupID int64) (*roblox.Group, error) {
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	return &roblox.Group{ID: groupID, Name: f.name, IconURL: "https://cdn.example/icon.png"}, nil
}

func (f *fakeGroups) ListGroupRoles(context.Context, int64) ([]roblox.GroupRole, error) {
	if f.rolesErr != nil {
		return nil, f.rolesErr
	}
	return f.roles, nil
}

func (f *fakeGroups) ListRoleMembers(_ context.Context, _ int64, roleID int64) ([]roblox.GroupMember, error) {
	f.memberCalls++
	if err := f.memberErrs[roleID]; err != nil {
		return nil, err
	}
	return f.members[roleID], nil
}

func (f *fakeGroups) GetUserRank(_ context.Context, userID, groupID int64) (int64, error) {
	f.rankLookups++
	return f.userRanks[rankKey{userID, groupID}], nil
}

func (f *fakeGroups) GetRoleByRank(_ context.Context, _ int64, rank int64) (*roblox.GroupRole, error) {
	for i := range f.roles {
		if f.roles[i].Rank == rank {
			return &f.roles[i], nil
		}
	}
	return nil, roblox.ErrNotFound
}

func (f *fakeGroups) GetUsername(_ context.Context, userID int64) (string, error) {
	return fmt.Sprintf("user%d", userID), nil
}

func (f *fakeGroups) GetHeadshotURL(_ context.Context, userID int64) (string, error) {
	if f.headshotErr != nil {
		return "", f.headshotErr
	}
	return fmt.Sprintf("https://cdn.example/%d.png", userID), nil
}

type membershipKey struct {
	userID int64
	roleID uuid.UUID
}

type rankKey struct {
	userID, workspaceID int64
}

// fakeStore implements every store interface over maps.
type fakeStore struct {
	mu         sync.Mutex
	workspaces map[int64]*models.Workspace
	roles      []*models.Role
	userRoles  map[membershipKey]bool
	users      map[int64]*models.User
	ranks      map[rankKey]int64
	minRank    int64

	runs        []*models.SyncRun
	connects    int
	disconnects int
	rankWrites  int
	invalidated []int64

	connectErr error
}

func newFakeStore(workspaceIDs ...int64) *fakeStore {
	s := &fakeStore{
		workspaces: map[int64]*models.Workspace{},
		userRoles:  map[membershipKey]bool{},
		users:      map[int64]*models.User{},
		ranks:      map[rankKey]int64{},
	}
	for _, id := range workspaceIDs {
		s.workspaces[id] = &models.Workspace{GroupID: id}
	}
	return s
}

func (s *fakeStore) stores() Stores {
	return Stores{Workspaces: s, Roles: s, Users: s, Ranks: s, Configs: s, SyncRuns: s}
}

func (s *fakeStore) addRole(workspaceID int64, name string, owner bool, groupRoles ...int64) *models.Role {
	r := &models.Role{
		ID:               uuid.New(),
		WorkspaceGroupID: workspaceID,
		Name:             name,
		GroupRoles:       pq.Int64Array(groupRoles),
		IsOwnerRole:      owner,
	}
	s.roles = append(s.roles, r)
	return r
}

func (s *fakeStore) addUser(id int64, roles ...*models.Role) {
	name := fmt.Sprintf("user%d", id)
	s.users[id] = &models.User{UserID: id, Username: &name}
	for _, r := range roles {
		s.userRoles[membershipKey{id, r.ID}] = true
	}
}

func (s *fakeStore) holds(userID int64, r *models.Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userRoles[membershipKey{userID, r.ID}]
}

func (s *fakeStore) rankOf(userID, workspaceID int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ranks[rankKey{userID, workspaceID}]
	return r, ok
}

func (s *fakeStore) roleByID(id uuid.UUID) *models.Role {
	for _, r := range s.roles {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// WorkspaceStore

func (s *fakeStore) ListWorkspaces(context.Context) ([]*models.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Workspace
	for _, ws := range s.workspaces {
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

func (s *fakeStore) GetWorkspace(_ context.Context, groupID int64) (*models.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspaces[groupID], nil
}

func (s *fakeStore) UpdateWorkspaceMetadata(_ context.Context, groupID int64, name, logo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.workspaces[groupID]
	ws.GroupName = &name
	ws.GroupLogo = &logo
	return nil
}

func (s *fakeStore) MarkSynced(_ context.Context, groupID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[groupID].LastSynced = &at
	return nil
}

// RoleStore

func (s *fakeStore) ListWorkspaceRoles(_ context.Context, workspaceID int64) ([]*models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Role
	for _, r := range s.roles {
		if r.WorkspaceGroupID == workspaceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) SetOwnerRolePermissions(_ context.Context, workspaceID int64, permissions []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.roles {
		if r.WorkspaceGroupID == workspaceID && r.IsOwnerRole {
			r.Permissions = pq.StringArray(permissions)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListWorkspaceMemberships(_ context.Context, workspaceID int64) ([]repositories.RoleMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repositories.RoleMembership
	for k := range s.userRoles {
		r := s.roleByID(k.roleID)
		if r == nil || r.WorkspaceGroupID != workspaceID {
			continue
		}
		out = append(out, repositories.RoleMembership{UserID: k.userID, RoleID: k.roleID, IsOwnerRole: r.IsOwnerRole})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].RoleID.String() < out[j].RoleID.String()
	})
	return out, nil
}

func (s *fakeStore) ConnectUser(_ context.Context, userID int64, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	if s.users[userID] == nil {
		return errors.New("foreign key violation: user does not exist")
	}
	s.userRoles[membershipKey{userID, roleID}] = true
	s.connects++
	return nil
}

func (s *fakeStore) DisconnectUser(_ context.Context, userID int64, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userRoles, membershipKey{userID, roleID})
	s.disconnects++
	return nil
}

// UserStore

func (s *fakeStore) GetUsersByIDs(_ context.Context, userIDs []int64) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.User
	for _, id := range userIDs {
		if u := s.users[id]; u != nil {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) GetUserWithRoles(_ context.Context, userID, workspaceID int64) (*models.UserWithRoles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	if u == nil {
		return nil, nil
	}
	res := &models.UserWithRoles{User: *u}
	for k := range s.userRoles {
		if k.userID != userID {
			continue
		}
		if r := s.roleByID(k.roleID); r != nil && r.WorkspaceGroupID == workspaceID {
			res.Roles = append(res.Roles, r)
		}
	}
	return res, nil
}

func (s *fakeStore) UpsertUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.users[user.UserID]
	if existing == nil {
		cp := *user
		s.users[user.UserID] = &cp
		return nil
	}
	if user.Username != nil {
		existing.Username = user.Username
	}
	if user.Picture != nil {
		existing.Picture = user.Picture
	}
	return nil
}

// RankStore

func (s *fakeStore) GetWorkspaceRanks(_ context.Context, workspaceID int64, userIDs []int64) (map[int64]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]int64{}
	for _, id := range userIDs {
		if r, ok := s.ranks[rankKey{id, workspaceID}]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertRank(_ context.Context, userID, workspaceID, rankID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranks[rankKey{userID, workspaceID}] = rankID
	s.rankWrites++
	return nil
}

// ConfigStore

func (s *fakeStore) GetMinTrackedRole(context.Context, int64) (int64, error) {
	return s.minRank, nil
}

// SyncRunStore

func (s *fakeStore) CreateSyncRun(_ context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = uuid.New()
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) CompleteSyncRun(context.Context, *models.SyncRun) error {
	return nil
}

// PermissionInvalidator

func (s *fakeStore) Invalidate(_ context.Context, userID, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, userID)
	return nil
}

func (s *fakeStore) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func (s *fakeStore) resetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects, s.disconnects, s.rankWrites = 0, 0, 0
	s.invalidated = nil
}
