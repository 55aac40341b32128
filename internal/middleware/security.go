// security.go adds protective response headers and answers CORS preflights.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orbit-workspaces/orbit/internal/config"
)

// SecurityHeadersConfig holds the values of the security response headers.
// Empty string fields suppress the header.
type SecurityHeadersConfig struct {
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	FrameOptions          string
	ContentSecurityPolicy string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

// DefaultSecurityHeadersConfig is used for the JSON API and the workspace page.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:            true,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		FrameOptions:          "DENY",
		ContentSecurityPolicy: "default-src 'self'; img-src 'self' https: data:; style-src 'self' 'unsafe-inline'; frame-ancestors 'none'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		PermissionsPolicy:     "geolocation=(), microphone=(), camera=()",
	}
}

// SecurityHeadersMiddleware sets the configured headers on every response.
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) gin.HandlerFunc {
	hsts := ""
	if cfg.EnableHSTS {
		hsts = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge)
		if cfg.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}
	return func(c *gin.Context) {
		setIf(c, "Strict-Transport-Security", hsts)
		setIf(c, "X-Frame-Options", cfg.FrameOptions)
		setIf(c, "Content-Security-Policy", cfg.ContentSecurityPolicy)
		setIf(c, "Referrer-Policy", cfg.ReferrerPolicy)
		setIf(c, "Permissions-Policy", cfg.PermissionsPolicy)
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Next()
	}
}

func setIf(c *gin.Context, name, value string) {
	if value != "" {
		c.Header(name, value)
	}
}

// CORSMiddleware allows the configured origins. Credentials are allowed so
// the session cookie travels with cross-origin API calls, which is why a
// wildcard is answered with the request's own origin.
func CORSMiddleware(cfg config.CORSConfig, serviceHeader string) gin.HandlerFunc {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	headers := "Origin, Content-Type, Accept, Authorization, X-Requested-With, " + RequestIDHeader
	if serviceHeader != "" {
		headers += ", " + serviceHeader
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(cfg.AllowedOrigins, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
