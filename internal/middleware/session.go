package middleware

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orbit-workspaces/orbit/internal/auth"
)

// Context keys set by SessionMiddleware and the permission guards.
const (
	UserIDKey      = "user_id"
	WorkspaceIDKey = "workspace_id"
	AuthMethodKey  = "auth_method"
)

// SessionParser validates a session token.
type SessionParser interface {
	Parse(token string) (*auth.SessionClaims, error)
}

// SessionMiddleware resolves the session user from the session cookie or a
// Bearer token and stores the id under UserIDKey. It never rejects a request:
// routes that need a user are protected by the permission guards, which deny
// when no user is present.
func SessionMiddleware(parser SessionParser, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c, cookieName)
		if token == "" {
			c.Next()
			return
		}
		claims, err := parser.Parse(token)
		if err != nil {
			slog.Debug("ignoring invalid session", "error", err, "request_id", RequestID(c))
			c.Next()
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Set(AuthMethodKey, "session")
		c.Next()
	}
}

func sessionToken(c *gin.Context, cookieName string) string {
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil && v != "" {
			return v
		}
	}
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// UserIDFromContext returns the session user id, if any.
func UserIDFromContext(c *gin.Context) (int64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

// WorkspaceIDFromContext returns the workspace id validated by a permission guard.
func WorkspaceIDFromContext(c *gin.Context) (int64, bool) {
	v, ok := c.Get(WorkspaceIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
