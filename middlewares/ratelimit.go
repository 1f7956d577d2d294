package middlewares

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// RateLimiterConfig holds the configuration for the rate limiter
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	// MaxClients bounds how many per-client limiters are remembered.
	MaxClients int
}

// clientLimiters hands out one token bucket per client IP. The least
// recently seen clients are forgotten once MaxClients is reached.
type clientLimiters struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func (l *clientLimiters) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters.Get(key); ok {
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(key, limiter)
	return limiter
}

// NewRateLimiterMiddleware creates a per-client rate limiter middleware
func NewRateLimiterMiddleware(config RateLimiterConfig) gin.HandlerFunc {
	if config.MaxClients <= 0 {
		config.MaxClients = 10000
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	cache, _ := lru.New[string, *rate.Limiter](config.MaxClients)
	limiters := &clientLimiters{
		limiters: cache,
		limit:    rate.Limit(config.RequestsPerSecond),
		burst:    config.Burst,
	}

	return func(c *gin.Context) {
		if config.RequestsPerSecond <= 0 {
			c.Next()
			return
		}
		if !limiters.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
