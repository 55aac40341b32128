// ratelimit.go enforces a per-client token bucket on inbound requests and
// answers 429 when a client's bucket is empty.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
	// IdleTTL is how long an unused client bucket is kept.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns the limits for the JSON API.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 120,
		BurstSize:         20,
		IdleTTL:           10 * time.Minute,
	}
}

// SyncRateLimitConfig returns the stricter limits for manual sync triggers,
// each of which fans out into many external API calls.
func SyncRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 2,
		BurstSize:         1,
		IdleTTL:           10 * time.Minute,
	}
}

// RateLimiter keeps one token bucket per client key. Buckets idle for longer
// than IdleTTL are dropped.
type RateLimiter struct {
	config  RateLimitConfig
	limit   rate.Limit
	mu      sync.Mutex
	clients *gocache.Cache
}

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	if config.BurstSize < 1 {
		config.BurstSize = 1
	}
	return &RateLimiter{
		config:  config,
		limit:   rate.Limit(float64(config.RequestsPerMinute) / 60.0),
		clients: gocache.New(config.IdleTTL, config.IdleTTL),
	}
}

func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.clients.Get(key)
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.config.BurstSize)
	}
	// refresh the idle deadline
	rl.clients.SetDefault(key, lim)
	return lim.(*rate.Limiter)
}

// Allow reports whether a request from key may proceed, consuming a token.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.bucket(key).Allow()
}

// RemainingTokens returns how many whole tokens key has left.
func (rl *RateLimiter) RemainingTokens(key string) int {
	return int(math.Max(0, math.Floor(rl.bucket(key).Tokens())))
}

func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.config.RequestsPerMinute <= 0 {
		return 60
	}
	return int(math.Ceil(60.0 / float64(rl.config.RequestsPerMinute)))
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		if !limiter.Allow(key) {
			retryAfter := limiter.retryAfterSeconds()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":     false,
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.RemainingTokens(key)))
		c.Next()
	}
}

// getRateLimitKey prefers the session user over the client IP.
func getRateLimitKey(c *gin.Context) string {
	if uid, ok := UserIDFromContext(c); ok {
		return "user:" + strconv.FormatInt(uid, 10)
	}
	return "ip:" + c.ClientIP()
}
