package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig sets per-client budgets. Writes publish to the ledger, so
// they draw from a separate, usually smaller, bucket than reads.
type RateLimitConfig struct {
	ReadRPS  int
	WriteRPS int
	// IdleTTL is how long a client's buckets survive without requests.
	IdleTTL time.Duration
}

// clientBuckets holds the read and write token buckets of one client IP.
type clientBuckets struct {
	read     *rate.Limiter
	write    *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware enforcing per-IP token buckets, burst
// twice the steady rate. A zero WriteRPS gives writes the read budget. Idle
// clients are evicted every IdleTTL/2 until ctx is done.
func RateLimiter(ctx context.Context, cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.WriteRPS <= 0 {
		cfg.WriteRPS = cfg.ReadRPS
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}

	var mu sync.Mutex
	clients := make(map[string]*clientBuckets)

	go func() {
		ticker := time.NewTicker(cfg.IdleTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				mu.Lock()
				evictIdle(clients, now, cfg.IdleTTL)
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		b, ok := clients[ip]
		if !ok {
			b = &clientBuckets{
				read:  rate.NewLimiter(rate.Limit(cfg.ReadRPS), cfg.ReadRPS*2),
				write: rate.NewLimiter(rate.Limit(cfg.WriteRPS), cfg.WriteRPS*2),
			}
			clients[ip] = b
		}
		b.lastSeen = time.Now()
		mu.Unlock()

		class, limiter := "read", b.read
		if isWrite(c.Request.Method) {
			class, limiter = "write", b.write
		}
		if !limiter.Allow() {
			integrityRateLimitedTotal.WithLabelValues(class).Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// evictIdle drops clients not seen within ttl of now.
func evictIdle(clients map[string]*clientBuckets, now time.Time, ttl time.Duration) {
	for ip, b := range clients {
		if now.Sub(b.lastSeen) > ttl {
			delete(clients, ip)
		}
	}
}
