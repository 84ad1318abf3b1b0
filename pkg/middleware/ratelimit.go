package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/assessly/pkg/contextkeys"
	"github.com/platinummonkey/assessly/pkg/httputil"
	"github.com/platinummonkey/assessly/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate (memory limiter only)
	BurstSize int
}

// DefaultRateLimitConfig returns per-caller defaults for the API
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Duration
}

// Limiter decides whether the caller identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// MemoryLimiter is a per-process token bucket limiter
type MemoryLimiter struct {
	config RateLimitConfig
	clock  clockwork.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewMemoryLimiter creates a token bucket limiter. A nil clock uses the real clock.
func NewMemoryLimiter(config RateLimitConfig, clock clockwork.Clock) *MemoryLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryLimiter{
		config:  config,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

func (l *MemoryLimiter) capacity() float64 {
	return float64(l.config.RequestsPerWindow + l.config.BurstSize)
}

// Allow takes one token from the caller's bucket
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity(), lastUpdate: now}
		l.buckets[key] = b
	}

	rate := float64(l.config.RequestsPerWindow) / l.config.WindowDuration.Seconds()
	b.tokens += now.Sub(b.lastUpdate).Seconds() * rate
	if b.tokens > l.capacity() {
		b.tokens = l.capacity()
	}
	b.lastUpdate = now

	decision := Decision{Limit: l.config.RequestsPerWindow, Reset: l.config.WindowDuration}
	if b.tokens >= 1 {
		b.tokens--
		decision.Allowed = true
	}
	// burst tokens are headroom, not advertised quota
	decision.Remaining = min(int(b.tokens), decision.Limit)
	return decision, nil
}

// Cleanup drops buckets idle for two windows
func (l *MemoryLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	now := l.clock.Now()
	for key, b := range l.buckets {
		if now.Sub(b.lastUpdate) > 2*l.config.WindowDuration {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// RedisLimiter is a fixed-window limiter shared by every instance behind the same Redis
type RedisLimiter struct {
	client *redis.Client
	config RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, config: config, prefix: prefix}
}

// Allow increments the caller's window counter
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	// first hit in a window starts the expiry clock
	reset := ttl.Val()
	if reset <= 0 {
		reset = l.config.WindowDuration
		if err := l.client.PExpire(ctx, redisKey, reset).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
		}
	}

	count := int(incr.Val())
	remaining := l.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= l.config.RequestsPerWindow,
		Limit:     l.config.RequestsPerWindow,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}

// RateLimitMiddleware throttles callers by user ID, or by client IP when anonymous.
// Limiter errors let the request through and are logged.
func RateLimitMiddleware(limiter Limiter, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)

			decision, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).WithField("key", key).Warn("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(decision.Reset).Unix(), 10))

			if !decision.Allowed {
				h.Set("Retry-After", strconv.Itoa(int(decision.Reset.Round(time.Second).Seconds())))
				httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if userID := contextkeys.GetUserID(r.Context()); userID != "" {
		return "user:" + userID
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
