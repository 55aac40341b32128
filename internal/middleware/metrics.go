// Package middleware provides the Gin middleware of the Orbit HTTP server:
// request ids, metrics, request logging, security headers and CORS, inbound
// rate limiting, session resolution, workspace permission checks and audit
// logging.
//
// router.go registers them in this order:
//
//	Recovery → RequestID → Metrics → Logger → Security → CORS → Session → RateLimit → (per route) Permission → Audit → Handler
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orbit-workspaces/orbit/internal/telemetry"
)

// MetricsMiddleware records http_requests_total and
// http_request_duration_seconds. The path label is the matched route
// template, or "<no-route>" for unmatched requests, to bound cardinality.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method
		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
