package http

import (
	"math"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/weathercards/internal/infra/config"
)

func errorHandlingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		httpErr := asHTTPError(c.Errors.Last().Err)
		message := httpErr.Message
		if message == "" {
			message = httpErr.Error()
		}

		if httpErr.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "code", httpErr.Code, "status", httpErr.Status, "path", c.Request.URL.Path, "error", httpErr.Err)
		} else {
			logger.Warn("request failed", "code", httpErr.Code, "status", httpErr.Status, "path", c.Request.URL.Path, "error", httpErr.Err)
		}

		c.JSON(httpErr.Status, gin.H{
			"error": gin.H{
				"code":    httpErr.Code,
				"message": message,
			},
		})
	}
}

// deviceHeader identifies a widget install. Requests without it are keyed by
// client IP.
const deviceHeader = "X-Device-Id"

// rateLimitRule is one token bucket policy applied per caller.
type rateLimitRule struct {
	scope     string
	perMinute int
	burst     int
}

func crudRule(cfg config.RateLimitConfig) rateLimitRule {
	return rateLimitRule{scope: "api", perMinute: cfg.RequestsPerMinute, burst: cfg.Burst}
}

// generationRule governs the routes that call the card generator.
func generationRule(cfg config.RateLimitConfig) rateLimitRule {
	return rateLimitRule{scope: "generation", perMinute: cfg.GenerationPerMinute, burst: cfg.GenerationBurst}
}

func rateLimitMiddleware(enabled bool, rule rateLimitRule, logger *slog.Logger) gin.HandlerFunc {
	if !enabled || rule.perMinute <= 0 || rule.burst <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := newCallerRateLimiter(rule)
	return func(c *gin.Context) {
		key := callerKey(c)
		if limiter.allow(key) {
			c.Next()
			return
		}
		logger.Warn("rate limit exceeded", "scope", rule.scope, "caller", key, "path", c.FullPath())
		abortWithError(c, NewHTTPError(http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests", nil))
	}
}

func callerKey(c *gin.Context) string {
	if device := strings.TrimSpace(c.GetHeader(deviceHeader)); device != "" {
		return "device:" + device
	}
	return "ip:" + c.ClientIP()
}

type callerRateLimiter struct {
	buckets       map[string]*bucket
	mu            sync.Mutex
	ratePerMinute float64
	burst         float64
	ttl           time.Duration
	now           func() time.Time
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

func newCallerRateLimiter(rule rateLimitRule) *callerRateLimiter {
	return &callerRateLimiter{
		buckets:       make(map[string]*bucket),
		ratePerMinute: float64(rule.perMinute),
		burst:         float64(rule.burst),
		ttl:           5 * time.Minute,
		now:           time.Now,
	}
}

func (l *callerRateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastSeen: now}
		l.buckets[key] = b
	} else {
		if elapsed := now.Sub(b.lastSeen).Minutes(); elapsed > 0 {
			b.tokens = math.Min(l.burst, b.tokens+elapsed*l.ratePerMinute)
		}
		b.lastSeen = now
	}
	l.evictIdleLocked(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *callerRateLimiter) evictIdleLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, key)
		}
	}
}
