package workspaces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit-workspaces/orbit/internal/db/models"
	"github.com/orbit-workspaces/orbit/internal/guard"
	"github.com/orbit-workspaces/orbit/internal/jobs"
	"github.com/orbit-workspaces/orbit/internal/middleware"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeMemberships struct {
	m   *guard.Membership
	err error
}

func (f *fakeMemberships) Resolve(context.Context, int64, int64) (*guard.Membership, error) {
	return f.m, f.err
}

type fakeBackend struct {
	workspaces map[int64]*models.Workspace
	roles      []*models.Role
	minRank    int64
	runs       []*models.SyncRun
	lastLimit  int
	err        error

	inProgress bool
	syncCalls  chan int64
	userResult *jobs.UserSyncResult
	userErr    error
	userBlock  chan struct{}
}

func newFakeBackend() *fakeBackend {
	name := "Orbit Labs"
	return &fakeBackend{
		workspaces: map[int64]*models.Workspace{100: {GroupID: 100, GroupName: &name}},
		syncCalls:  make(chan int64, 1),
	}
}

func (f *fakeBackend) GetWorkspace(_ context.Context, id int64) (*models.Workspace, error) {
	return f.workspaces[id], f.err
}

func (f *fakeBackend) ListWorkspaceRoles(context.Context, int64) ([]*models.Role, error) {
	return f.roles, f.err
}

func (f *fakeBackend) GetMinTrackedRole(context.Context, int64) (int64, error) {
	return f.minRank, f.err
}

func (f *fakeBackend) SetMinTrackedRole(_ context.Context, _ int64, rank int64) error {
	if f.err != nil {
		return f.err
	}
	f.minRank = rank
	return nil
}

func (f *fakeBackend) ListSyncRuns(_ context.Context, _ int64, limit int) ([]*models.SyncRun, error) {
	f.lastLimit = limit
	return f.runs, f.err
}

func (f *fakeBackend) Run(_ context.Context, workspaceID int64, _ string) (*jobs.SyncReport, error) {
	f.syncCalls <- workspaceID
	return &jobs.SyncReport{WorkspaceID: workspaceID}, nil
}

func (f *fakeBackend) InProgress(int64) bool {
	return f.inProgress
}

func (f *fakeBackend) CheckSpecificUser(_ context.Context, userID int64) (*jobs.UserSyncResult, error) {
	if f.userBlock != nil {
		<-f.userBlock
	}
	if f.userErr != nil {
		return nil, f.userErr
	}
	if f.userResult != nil {
		return f.userResult, nil
	}
	return &jobs.UserSyncResult{UserID: userID}, nil
}

// ---------------------------------------------------------------------------
// Router helper
// ---------------------------------------------------------------------------

func newTestRouter(h *Handlers, userID int64) *gin.Engine {
	r := gin.New()
	r.SetHTMLTemplate(PageTemplate())
	r.Use(func(c *gin.Context) {
		if userID != 0 {
			c.Set(middleware.UserIDKey, userID)
		}
		c.Next()
	})
	r.GET("/api/workspace/:id/me", h.GetMeHandler())
	r.GET("/api/workspace/:id/roles", h.ListRolesHandler())
	r.GET("/api/workspace/:id/config/min-tracked-role", h.GetMinTrackedRoleHandler())
	r.PUT("/api/workspace/:id/config/min-tracked-role", h.UpdateMinTrackedRoleHandler())
	r.POST("/api/workspace/:id/sync", h.TriggerSyncHandler())
	r.GET("/api/workspace/:id/sync/runs", h.ListSyncRunsHandler())
	r.POST("/api/me/refresh-roles", h.RefreshMyRolesHandler())
	r.GET("/workspace/:id", h.WorkspacePageHandler())
	return r
}

func newHandlers(m *fakeMemberships, b *fakeBackend) *Handlers {
	return NewHandlers(m, b, b, b, b, b)
}

func do(r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// ---------------------------------------------------------------------------
// GetMeHandler
// ---------------------------------------------------------------------------

func TestGetMe_ReturnsTopRole(t *testing.T) {
	m := &fakeMemberships{m: &guard.Membership{
		UserExists: true,
		TopRole:    &guard.CachedRole{ID: uuid.New(), Name: "Staff", Permissions: []string{"view_wall"}},
	}}
	r := newTestRouter(newHandlers(m, newFakeBackend()), 42)

	w := do(r, http.MethodGet, "/api/workspace/100/me", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "42", body["userId"])
	assert.Equal(t, []interface{}{"view_wall"}, body["permissions"])
	assert.Equal(t, false, body["isOwner"])
}

func TestGetMe_NoSession(t *testing.T) {
	r := newTestRouter(newHandlers(&fakeMemberships{}, newFakeBackend()), 0)
	w := do(r, http.MethodGet, "/api/workspace/100/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetMe_NoRole(t *testing.T) {
	m := &fakeMemberships{m: &guard.Membership{UserExists: true}}
	r := newTestRouter(newHandlers(m, newFakeBackend()), 42)
	w := do(r, http.MethodGet, "/api/workspace/100/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetMe_ResolveError(t *testing.T) {
	m := &fakeMemberships{err: errors.New("db down")}
	r := newTestRouter(newHandlers(m, newFakeBackend()), 42)
	w := do(r, http.MethodGet, "/api/workspace/100/me", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// ---------------------------------------------------------------------------
// Roles and configuration
// ---------------------------------------------------------------------------

func TestListRoles_EmptyIsArray(t *testing.T) {
	r := newTestRouter(newHandlers(&fakeMemberships{}, newFakeBackend()), 42)
	w := do(r, http.MethodGet, "/api/workspace/100/roles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decode(t, w)["roles"])
}

func TestListRoles_InvalidWorkspace(t *testing.T) {
	r := newTestRouter(newHandlers(&fakeMemberships{}, newFakeBackend()), 42)
	w := do(r, http.MethodGet, "/api/workspace/abc/roles", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMinTrackedRole_GetAndUpdate(t *testing.T) {
	b := newFakeBackend()
	r := newTestRouter(newHandlers(&fakeMemberships{}, b), 42)

	w := do(r, http.MethodPut, "/api/workspace/100/config/min-tracked-role", []byte(`{"minTrackedRole": 50}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(50), b.minRank)

	w = do(r, http.MethodGet, "/api/workspace/100/config/min-tracked-role", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(50), decode(t, w)["minTrackedRole"])
}

func TestMinTrackedRole_UpdateValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing", `{}`},
		{"negative", `{"minTrackedRole": -1}`},
		{"above max rank", `{"minTrackedRole": 256}`},
		{"not a number", `{"minTrackedRole": "ten"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			r := newTestRouter(newHandlers(&fakeMemberships{}, b), 42)
			w := do(r, http.MethodPut, "/api/workspace/100/config/min-tracked-role", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, int64(0), b.minRank)
		})
	}
}

func TestMinTrackedRole_ZeroIsAccepted(t *testing.T) {
	b := newFakeBackend()
	b.minRank = 10
	r := newTestRouter(newHandlers(&fakeMemberships{}, b), 42)
	w := do(r, http.MethodPut, "/api/workspace/100/config/min-tracked-role", []byte(`{"minTrackedRole": 0}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), b.minRank)
}

// ---------------------------------------------------------------------------
// Sync
// ---------------------------------------------------------------------------

func TestTriggerSync_Accepted(t *testing.T) {
	b := newFakeBackend()
	r := newTestRouter(newHandlers(&fakeMemberships{}, b), 42)

	w := do(r, http.MethodPost, "/api/workspace/100/sync", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case id := <-b.syncCalls:
		assert.Equal(t, int64(100), id)
	case <-time.After(2 * time.Second):
		t.Fatal("sync was not started")
	}
}

func TestTriggerSync_UnknownWorkspace(t *testing.T) {
	r := newTestRouter(newHandlers(&fakeMemberships{}, newFakeBackend()), 42)
	w := do(r, http.MethodPost, "/api/workspace/999/sync", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerSync_InProgress(t *testing.T) {
	b := newFakeBackend()
	b.inProgress = true
	r := newTestRouter(newHandlers(&fakeMemberships{}, b), 42)

	w := do(r, http.MethodPost, "/api/workspace/100/sync", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, b.syncCalls)
}

func TestListSyncRuns_Limit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"?limit=5", 5},
		{"?limit=0", 20},
		{"?limit=1000", 20},
		{"?limit=abc", 20},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			b := newFakeBackend()
			r := newTestRouter(newHandlers(&fakeMemberships{}, b), 42)
			w := do(r, http.MethodGet, "/api/workspace/100/sync/runs"+tt.query, nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, b.lastLimit)
		})
	}
}

func TestRefreshMyRoles(t *testing.T) {
	roleID := uuid.New()
	b := newFakeBackend()
	b.userResult = &jobs.UserSyncResult{UserID: 42, Assigned: true, WorkspaceID: 100, RoleID: &roleID, RoleName: "Member", Checked: 1}
	r := newTestRouter(newHandlers(&fakeMemberships{}, b), 42)

	w := do(r, http.MethodPost, "/api/me/refresh-roles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w)["result"].(map[string]interface{})
	assert.Equal(t, true, result["assigned"])
	assert.Equal(t, "Member", result["roleName"])
}

func TestRefreshMyRoles_Errors(t *testing.T) {
	r := newTestRouter(newHandlers(&fakeMemberships{}, newFakeBackend()), 0)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/api/me/refresh-roles", nil).Code)

	b := newFakeBackend()
	b.userErr = errors.New("upstream down")
	r = newTestRouter(newHandlers(&fakeMemberships{}, b), 42)
	assert.Equal(t, http.StatusBadGateway, do(r, http.MethodPost, "/api/me/refresh-roles", nil).Code)
}

func TestRefreshMyRoles_SlowRefreshContinuesInBackground(t *testing.T) {
	b := newFakeBackend()
	b.userBlock = make(chan struct{})
	defer close(b.userBlock)

	h := newHandlers(&fakeMemberships{}, b)
	h.RefreshWait = 20 * time.Millisecond
	r := newTestRouter(h, 42)

	w := do(r, http.MethodPost, "/api/me/refresh-roles", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])
}

// ---------------------------------------------------------------------------
// Page
// ---------------------------------------------------------------------------

func TestWorkspacePage(t *testing.T) {
	r := newTestRouter(newHandlers(&fakeMemberships{}, newFakeBackend()), 42)

	w := do(r, http.MethodGet, "/workspace/100", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>Orbit Labs</h1>")

	w = do(r, http.MethodGet, "/workspace/999", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}
