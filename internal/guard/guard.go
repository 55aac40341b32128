// Package guard decides whether a session user may reach a workspace route.
//
// A decision needs the user's top role in the workspace. That membership is
// read from the database at most once per TTL per (user, workspace) pair and
// kept in a Cache; concurrent cold loads of the same pair share one query.
package guard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/orbit-workspaces/orbit/internal/auth"
	"github.com/orbit-workspaces/orbit/internal/cache"
	"github.com/orbit-workspaces/orbit/internal/db/models"
	"github.com/orbit-workspaces/orbit/internal/telemetry"
)

// DefaultTTL is how long a loaded membership is trusted.
const DefaultTTL = 120 * time.Second

// loadTimeout bounds a shared cold load. The load is detached from the
// caller's context because other requests may be waiting on it.
const loadTimeout = 5 * time.Second

// UserRoleLookup loads a user and their roles in one workspace. It returns
// nil, nil when the user does not exist.
type UserRoleLookup interface {
	GetUserWithRoles(ctx context.Context, userID, workspaceID int64) (*models.UserWithRoles, error)
}

// CachedRole is the part of a role a permission decision needs.
type CachedRole struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	IsOwnerRole bool      `json:"isOwnerRole"`
}

// Membership is the resolved view of a user in a workspace, as cached.
type Membership struct {
	UserExists bool        `json:"userExists"`
	TopRole    *CachedRole `json:"topRole,omitempty"`
	LoadedAt   time.Time   `json:"loadedAt"`
}

// Allows applies the decision rules to an already resolved membership.
func (m *Membership) Allows(req auth.Requirement) bool {
	if m == nil || !m.UserExists || m.TopRole == nil {
		return false
	}
	if m.TopRole.IsOwnerRole {
		return true
	}
	return req.SatisfiedBy(m.TopRole.Permissions)
}

// Options configures a Guard.
type Options struct {
	// TTL defaults to DefaultTTL.
	TTL time.Duration
	// The service bypass is honoured only when both are set.
	ServiceBaseURL string
	ServiceKey     string
}

// Guard evaluates permission requirements against cached memberships.
type Guard struct {
	lookup UserRoleLookup
	cache  cache.Cache
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group

	serviceBaseURL string
	serviceKey     string
}

// New creates a Guard backed by lookup and c.
func New(lookup UserRoleLookup, c cache.Cache, opts Options) *Guard {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		lookup:         lookup,
		cache:          c,
		ttl:            ttl,
		now:            time.Now,
		serviceBaseURL: opts.ServiceBaseURL,
		serviceKey:     opts.ServiceKey,
	}
}

// CacheKey returns the cache key of a (user, workspace) pair.
func CacheKey(userID, workspaceID int64) string {
	return "permissions_" + strconv.FormatInt(userID, 10) + "_" + strconv.FormatInt(workspaceID, 10)
}

// Bypass reports whether the presented service key grants access without a
// session. An empty presented value never matches.
func (g *Guard) Bypass(presented string) bool {
	if g.serviceBaseURL == "" || g.serviceKey == "" || presented == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(g.serviceKey)) == 1 {
		telemetry.PermissionChecksTotal.WithLabelValues("bypassed").Inc()
		return true
	}
	return false
}

// Check reports whether the user may access the workspace under req. Errors
// from the database are returned together with a deny.
func (g *Guard) Check(ctx context.Context, userID, workspaceID int64, req auth.Requirement) (bool, error) {
	m, err := g.Resolve(ctx, userID, workspaceID)
	if err != nil {
		telemetry.PermissionChecksTotal.WithLabelValues("denied").Inc()
		return false, err
	}
	allowed := m.Allows(req)
	if allowed {
		telemetry.PermissionChecksTotal.WithLabelValues("allowed").Inc()
	} else {
		telemetry.PermissionChecksTotal.WithLabelValues("denied").Inc()
	}
	return allowed, nil
}

// Resolve returns the user's membership in the workspace, from the cache when
// the entry is younger than the TTL and from the database otherwise.
func (g *Guard) Resolve(ctx context.Context, userID, workspaceID int64) (*Membership, error) {
	key := CacheKey(userID, workspaceID)
	if m, ok := g.cached(ctx, key); ok {
		telemetry.PermissionCacheRequestsTotal.WithLabelValues("hit").Inc()
		return m, nil
	}
	telemetry.PermissionCacheRequestsTotal.WithLabelValues("miss").Inc()

	v, err, _ := g.group.Do(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return g.load(loadCtx, key, userID, workspaceID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Membership), nil
}

// Invalidate drops the cached membership so the next check reloads it.
func (g *Guard) Invalidate(ctx context.Context, userID, workspaceID int64) error {
	if err := g.cache.Delete(ctx, CacheKey(userID, workspaceID)); err != nil {
		return fmt.Errorf("failed to invalidate permission cache: %w", err)
	}
	return nil
}

func (g *Guard) cached(ctx context.Context, key string) (*Membership, bool) {
	raw, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("permission cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var m Membership
	if err := json.Unmarshal(raw, &m); err != nil {
		slog.Warn("discarding malformed permission cache entry", "key", key, "error", err)
		return nil, false
	}
	if g.now().Sub(m.LoadedAt) >= g.ttl {
		return nil, false
	}
	return &m, true
}

func (g *Guard) load(ctx context.Context, key string, userID, workspaceID int64) (*Membership, error) {
	u, err := g.lookup.GetUserWithRoles(ctx, userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}

	// Unknown users are cached too, so a missing account costs one query per TTL.
	m := &Membership{LoadedAt: g.now()}
	if u != nil {
		m.UserExists = true
		if top := u.TopRole(); top != nil {
			m.TopRole = &CachedRole{
				ID:          top.ID,
				Name:        top.Name,
				Permissions: append([]string(nil), top.Permissions...),
				IsOwnerRole: top.IsOwnerRole,
			}
		}
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode permission cache entry: %w", err)
	}
	if err := g.cache.Set(ctx, key, raw, g.ttl); err != nil {
		slog.Warn("permission cache write failed", "key", key, "error", err)
	}
	return m, nil
}
