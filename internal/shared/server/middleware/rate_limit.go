package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"medsnap-backend/internal/shared/server/respond"
	"medsnap-backend/internal/shared/telemetry"
)

// maxBuckets bounds memory when many anonymous clients hit limited routes.
const maxBuckets = 10000

// RateRule is a token bucket: PerSecond refill, Burst capacity.
type RateRule struct {
	PerSecond float64
	Burst     int
}

// RateLimitOptions maps route groups to rules. GroupFor names the group of
// a request; requests whose group has no rule are not limited.
type RateLimitOptions struct {
	Rules    map[string]RateRule
	GroupFor func(*gin.Context) string
	Limiter  *Limiter
}

// Limiter keeps one bucket per user (or client IP) and group.
type Limiter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]*rate.Limiter
}

func NewLimiter(now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{now: now, buckets: make(map[string]*rate.Limiter)}
}

func (l *Limiter) bucket(key string, rule RateRule) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	if len(l.buckets) >= maxBuckets {
		l.buckets = make(map[string]*rate.Limiter)
	}
	b := rate.NewLimiter(rate.Limit(rule.PerSecond), rule.Burst)
	l.buckets[key] = b
	return b
}

// Take spends one token for key. When the bucket is empty it reports how
// long until the next token and leaves the bucket untouched.
func (l *Limiter) Take(key string, rule RateRule) (bool, time.Duration) {
	if l == nil || rule.PerSecond <= 0 || rule.Burst <= 0 {
		return true, 0
	}
	now := l.now()
	res := l.bucket(key, rule).ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	wait := res.DelayFrom(now)
	if wait <= 0 {
		return true, 0
	}
	res.CancelAt(now)
	return false, wait
}

// RateLimit rejects requests over their group's rule with 429 and Retry-After.
func RateLimit(opts RateLimitOptions) gin.HandlerFunc {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewLimiter(nil)
	}
	return func(c *gin.Context) {
		if opts.GroupFor == nil {
			c.Next()
			return
		}
		group := opts.GroupFor(c)
		rule, ok := opts.Rules[group]
		if !ok {
			c.Next()
			return
		}

		who := UserIDFromContext(c)
		if who == "" {
			who = "ip:" + c.ClientIP()
		}
		allowed, wait := limiter.Take(group+"/"+who, rule)
		if allowed {
			c.Next()
			return
		}

		retryMs := wait.Milliseconds()
		if retryMs < 1 {
			retryMs = 1
		}
		telemetry.Warn("http.rate_limited", map[string]any{
			"group":          group,
			"user_id":        UserIDFromContext(c),
			"retry_after_ms": retryMs,
		})
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(float64(retryMs)/1000))))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "Too many requests, retry later", gin.H{
			"group":        group,
			"retryAfterMs": retryMs,
		})
	}
}
