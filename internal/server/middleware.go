package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"workpulse/internal/apierr"
	"workpulse/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const claimsKey = "claims"

// AuthRequired verifies the x-auth-token header and stores the claims.
func AuthRequired(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := tokens.Verify(c.GetHeader(auth.HeaderName))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *auth.Claims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*auth.Claims)
	return claims
}

// callerID is the authenticated user. AuthRequired guarantees it parses.
func callerID(c *gin.Context) uuid.UUID {
	id, _ := claimsFrom(c).UserUUID()
	return id
}

// requireSelfOrAdmin allows the request when the path user is the caller,
// or the caller is an admin. The parsed id is stored under param.
func requireSelfOrAdmin(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		target, err := uuid.Parse(c.Param(param))
		if err != nil {
			abortWithError(c, apierr.Validation("%s is not a valid id", param))
			return
		}
		claims := claimsFrom(c)
		if !claims.IsAdmin() && callerID(c) != target {
			abortWithError(c, apierr.New(apierr.CodeForbidden, "not allowed for this user"))
			return
		}
		c.Set(param, target)
		c.Next()
	}
}

func pathUser(c *gin.Context, param string) uuid.UUID {
	v, _ := c.Get(param)
	id, _ := v.(uuid.UUID)
	return id
}

func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// limiterIdleTTL is how long an unused per-IP bucket is kept. Entries are
// never dropped before their bucket would have refilled.
const limiterIdleTTL = 10 * time.Minute

// ipLimiter is a token bucket per client IP. Idle buckets are swept when a
// new IP is seen.
type ipLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipBucket
	rate      rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 5
	}
	refill := time.Duration(float64(burst) / perSecond * float64(time.Second))
	return &ipLimiter{
		limiters: map[string]*ipBucket{},
		rate:     rate.Limit(perSecond),
		burst:    burst,
		ttl:      max(limiterIdleTTL, refill),
		now:      time.Now,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	now := l.now()
	l.mu.Lock()
	b, ok := l.limiters[ip]
	if !ok {
		l.sweep(now)
		b = &ipBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for longer than the ttl, at most once per ttl.
// l.mu must be held.
func (l *ipLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.ttl {
		return
	}
	l.lastSweep = now
	for ip, b := range l.limiters {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.limiters, ip)
		}
	}
}

func (l *ipLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *ipLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			abortWithError(c, apierr.New(apierr.CodeRateLimited, "too many login attempts"))
			return
		}
		c.Next()
	}
}
