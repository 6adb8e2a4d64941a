package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit keeps one token bucket per value of the key function.
type RateLimit struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
	key     func(c *gin.Context) string
}

func NewRateLimit(perSecond float64, burst int, key func(c *gin.Context) string) *RateLimit {
	if burst <= 0 {
		burst = 1
	}
	if key == nil {
		key = func(c *gin.Context) string { return c.ClientIP() }
	}
	return &RateLimit{
		buckets: map[string]*rate.Limiter{},
		limit:   rate.Limit(perSecond),
		burst:   burst,
		key:     key,
	}
}

func (r *RateLimit) limiter(k string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.buckets[k]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.buckets[k] = l
	}
	return l
}

func (r *RateLimit) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.limit <= 0 {
			c.Next()
			return
		}
		if !r.limiter(r.key(c)).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}
