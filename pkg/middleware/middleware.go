package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-confirm/pkg/response"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TokenValidator resolves a bearer token to the client it was issued to
type TokenValidator interface {
	ClientID(token string) (string, error)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Configure limits per endpoint type
var (
	authLimit     = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	ledgerLimit   = rate.Limit(100.0 / 60.0)  // 100 requests per minute
	internalLimit = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	readLimit     = rate.Limit(1000.0 / 60.0) // 1000 requests per minute
)

// Limiter rate limits requests per client and route
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	burst    int
}

func NewLimiter(burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		visitors: make(map[string]*visitor),
		burst:    burst,
	}
}

func limitFor(method, path string) rate.Limit {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"):
		return authLimit
	case strings.HasPrefix(path, "/api/v1/internal"):
		return internalLimit
	case strings.HasPrefix(path, "/api/v1/ledger") && method == "GET":
		return readLimit
	case strings.HasPrefix(path, "/api/v1/ledger"):
		return ledgerLimit
	}
	return rate.Inf
}

func (l *Limiter) get(method, path, client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := client + ":" + method + ":" + path
	v, exists := l.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(limitFor(method, path), l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup forgets visitors idle for longer than maxIdle
func (l *Limiter) Cleanup(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if time.Since(v.lastSeen) > maxIdle {
			delete(l.visitors, key)
		}
	}
}

// Run cleans up idle visitors every minute until ctx is done
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup(3 * time.Minute)
		}
	}
}

func (l *Limiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		if !l.get(c.Request.Method, c.FullPath(), clientID).Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth requires a valid bearer token and stores its client id as "clientID"
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.Fields(c.GetHeader("Authorization"))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		clientID, err := validator.ClientID(parts[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set("clientID", clientID)
		c.Next()
	}
}

// RequestLogger logs every request with its latency
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_id", c.GetString("clientID")).
			Msg("request")
	}
}
