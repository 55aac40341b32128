// Package api wires together all HTTP routes for Orbit.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated.
//   - /api/workspace/:id/... routes pass the permission guard with a per-route
//     requirement; denial is a 401 JSON body.
//   - /workspace/:id is the page surface of the same guard; denial redirects to /.
//   - Mutating /api routes are written to the audit log.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orbit-workspaces/orbit/internal/api/workspaces"
	"github.com/orbit-workspaces/orbit/internal/auth"
	"github.com/orbit-workspaces/orbit/internal/config"
	"github.com/orbit-workspaces/orbit/internal/jobs"
	"github.com/orbit-workspaces/orbit/internal/middleware"
)

// Version is the server version reported by /version.
var Version = "0.1.0"

// BackgroundServices holds references to background jobs that must be
// stopped during graceful shutdown. The caller (cmd/server) is responsible
// for calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	scheduler *jobs.Scheduler
}

// Reschedule applies a new sync schedule to the running scheduler.
func (bg *BackgroundServices) Reschedule(schedule string) {
	if bg == nil || bg.scheduler == nil {
		return
	}
	if err := bg.scheduler.Reschedule(schedule); err != nil {
		slog.Error("failed to apply new sync schedule", "schedule", schedule, "error", err)
	}
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.scheduler != nil {
		bg.scheduler.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router and starts the sync
// scheduler when enabled.
func NewRouter(cfg *config.Config, svc *Services) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	router.SetHTMLTemplate(workspaces.PageTemplate())

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.DefaultSecurityHeadersConfig()))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS, cfg.Auth.ServiceHeader))
	router.Use(middleware.SessionMiddleware(svc.Sessions, cfg.Auth.SessionCookie))

	router.GET("/health", healthCheckHandler(svc))
	router.GET("/ready", readinessHandler(svc))
	router.GET("/version", versionHandler())

	h := workspaces.NewHandlers(svc.Guard, svc.Workspaces, svc.Roles, svc.Configs, svc.SyncRuns, svc.SyncJob)
	audit := middleware.AuditMiddleware(svc.Auditor, &cfg.Audit)
	guarded := func(req auth.Requirement) gin.HandlerFunc {
		return middleware.RequireWorkspacePermission(svc.Guard, cfg.Auth.ServiceHeader, req)
	}
	admin := auth.Any(auth.PermissionAdmin)

	apiGroup := router.Group("/api")
	if cfg.Security.RateLimiting.Enabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
			BurstSize:         cfg.Security.RateLimiting.Burst,
		})
		apiGroup.Use(middleware.RateLimitMiddleware(limiter))
	}
	syncLimiter := middleware.NewRateLimiter(middleware.SyncRateLimitConfig())

	ws := apiGroup.Group("/workspace/:" + middleware.WorkspaceParam)
	{
		ws.GET("/me", guarded(auth.None()), h.GetMeHandler())
		ws.GET("/roles", guarded(auth.None()), h.ListRolesHandler())

		ws.GET("/config/min-tracked-role", guarded(admin), h.GetMinTrackedRoleHandler())
		ws.PUT("/config/min-tracked-role", guarded(admin), audit, h.UpdateMinTrackedRoleHandler())

		ws.POST("/sync", guarded(admin), middleware.RateLimitMiddleware(syncLimiter), audit, h.TriggerSyncHandler())
		ws.GET("/sync/runs", guarded(admin), h.ListSyncRunsHandler())
	}
	apiGroup.POST("/me/refresh-roles", middleware.RateLimitMiddleware(syncLimiter), audit, h.RefreshMyRolesHandler())

	router.GET("/workspace/:"+middleware.WorkspaceParam,
		middleware.RequireWorkspacePage(svc.Guard, cfg.Auth.ServiceHeader, auth.None()),
		h.WorkspacePageHandler())

	bg := &BackgroundServices{}
	if cfg.Sync.Enabled {
		bg.scheduler = jobs.NewScheduler(svc.SyncJob)
		if err := bg.scheduler.Start(cfg.Sync.Schedule); err != nil {
			return nil, nil, err
		}
	}
	return router, bg, nil
}

// @Summary      Health check
// @Description  Returns the health status of the service. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
func healthCheckHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks redis when a
// permission cache or pacing driver depends on it.
func readinessHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := svc.DB.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if svc.Redis != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := svc.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
