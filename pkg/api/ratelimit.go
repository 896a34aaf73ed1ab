package api

import (
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter is a per-client-IP token bucket guarding the federation
// endpoints, reused from the teacher's go-trust API surface and grounded
// on pkg/httpfetch's own use of golang.org/x/time/rate for outbound
// fetches — the same library, applied to inbound requests instead.
type RateLimiter struct {
	mu       sync.Mutex
	rps      int
	burst    int
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds a RateLimiter allowing rps requests per second per
// IP, with the given burst.
func NewRateLimiter(rps, burst int) *RateLimiter {
	return &RateLimiter{
		rps:      rps,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(rl.rps), rl.burst)
		rl.limiters[ip] = limiter
	}
	return limiter
}

// Middleware returns a gin middleware rejecting requests over the
// per-IP rate with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := rl.getLimiter(c.ClientIP())
		if !limiter.Allow() {
			c.JSON(429, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CleanupOldLimiters is a placeholder maintenance hook for evicting
// long-idle per-IP limiters from the map; not yet needed at the request
// volumes this core is expected to serve.
func (rl *RateLimiter) CleanupOldLimiters() {
}
