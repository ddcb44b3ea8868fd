package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

const maxTrackedClients = 10000

// RateLimiter keeps one token bucket per client IP. Idle buckets expire after ClientTTL.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter creates a limiter from config.
func NewRateLimiter(config domain.RateLimitConfig) *RateLimiter {
	ttl := config.ClientTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(config.RequestsPerSecond),
		burst:   burst,
		clients: expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, ttl),
	}
}

func (l *RateLimiter) limiterFor(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.clients.Get(client); ok {
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.clients.Add(client, limiter)
	return limiter
}

// Allow reports whether client may make a request now.
func (l *RateLimiter) Allow(client string) bool {
	return l.limiterFor(client).Allow()
}

// Middleware rejects requests over the limit with 429 and a Retry-After header.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Allow(c.ClientIP()) {
			c.Next()
			return
		}

		retry := 1
		if l.limit > 0 {
			retry = int(math.Ceil(1 / float64(l.limit)))
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, domain.NewAPIError(
			domain.CodeRateLimit,
			"rate limit exceeded",
			"",
			c.GetString(CorrelationIDKey),
		))
	}
}
