package httpapi

import (
	"net"
	"sync"
	"time"

	"github.com/daehyunko/roomchat/internal/auth"
	"github.com/daehyunko/roomchat/internal/service"
	"github.com/daehyunko/roomchat/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const ctxUserID = "userID"

// Auth validates the bearer token and exposes the caller's user id to
// handlers. The profile row is upserted from token claims so message author
// joins always resolve; nickname management itself is external.
func Auth(secret string, db *store.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.FromBearer(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(401, Envelope{OK: false, Error: service.ErrUnauthorized("missing credentials")})
			return
		}
		claims, err := auth.VerifyToken(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(401, Envelope{OK: false, Error: service.ErrUnauthorized("invalid token")})
			return
		}
		if err := db.UpsertUser(&store.User{ID: claims.UserID, Nickname: claims.Nickname}); err != nil {
			respondErr(c, err)
			c.Abort()
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// RequestLogger logs one line per request with zap.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

type rateLimiter struct {
	mu  sync.Mutex
	m   map[string]*keyLimiter
	r   rate.Limit
	b   int
	ttl time.Duration
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	// Opportunistic cleanup of idle keys.
	for k, v := range rl.m {
		if now.Sub(v.ts) > rl.ttl {
			delete(rl.m, k)
		}
	}
	kl, ok := rl.m[key]
	if ok {
		kl.ts = now
		return kl.lim
	}
	lim := rate.NewLimiter(rl.r, rl.b)
	rl.m[key] = &keyLimiter{lim: lim, ts: now}
	return lim
}

// RateLimit is a token-bucket limit keyed by client IP + route. Polling
// clients run at ~1 rps per room, so the default burst leaves headroom.
func RateLimit(r rate.Limit, burst int) gin.HandlerFunc {
	rl := &rateLimiter{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: 2 * time.Minute}
	return func(c *gin.Context) {
		ip := clientIP(c.Request.RemoteAddr)
		key := ip + "|" + c.FullPath()
		if !rl.get(key).Allow() {
			c.AbortWithStatusJSON(429, Envelope{OK: false, Error: &service.Error{
				Code: "RATE_LIMITED", StatusCode: 429, Message: "too many requests",
			}})
			return
		}
		c.Next()
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
