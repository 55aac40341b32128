// audit.go records workspace mutations in the audit log.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orbit-workspaces/orbit/internal/config"
	"github.com/orbit-workspaces/orbit/internal/db/models"
	"github.com/orbit-workspaces/orbit/internal/safego"
)

// AuditWriter persists audit entries. *repositories.AuditRepository implements it.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditMiddleware writes an entry for every mutating request once the handler
// has run. Reads are never logged; failed mutations only when
// cfg.LogFailedRequests is set. The write happens off the request path.
func AuditMiddleware(writer AuditWriter, cfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if writer == nil || (cfg != nil && !cfg.Enabled) {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		status := c.Writer.Status()
		if status >= 400 && (cfg == nil || !cfg.LogFailedRequests) {
			return
		}

		entry := buildAuditLog(c, status)
		safego.Go("audit-log", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := writer.CreateAuditLog(ctx, entry); err != nil {
				slog.Error("failed to write audit log", "action", entry.Action, "error", err)
			}
		})
	}
}

func buildAuditLog(c *gin.Context, status int) *models.AuditLog {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	ip := c.ClientIP()
	entry := &models.AuditLog{
		Action:    c.Request.Method + " " + route,
		IPAddress: &ip,
		Metadata: map[string]interface{}{
			"status_code": status,
			"request_id":  RequestID(c),
		},
	}
	if method, ok := c.Get(AuthMethodKey); ok {
		entry.Metadata["auth_method"] = method
	}
	if uid, ok := UserIDFromContext(c); ok {
		entry.UserID = &uid
	}
	if wsID, ok := WorkspaceIDFromContext(c); ok {
		entry.WorkspaceGroupID = &wsID
		resourceID := strconv.FormatInt(wsID, 10)
		entry.ResourceID = &resourceID
	}
	resourceType := auditResourceType(route)
	entry.ResourceType = &resourceType
	return entry
}

func auditResourceType(route string) string {
	switch {
	case strings.HasSuffix(route, "/sync"):
		return "sync"
	case strings.Contains(route, "/config/"):
		return "config"
	case strings.HasSuffix(route, "/refresh-roles"):
		return "roles"
	default:
		return "workspace"
	}
}
