// Package ratelimit provides per-client rate limiting middleware.
//
// Each replica keeps an in-process token bucket per client. When a Redis
// client is configured, replicas share a per-minute counter instead and the
// local bucket only serves as a fallback while Redis is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/mbd888/fraudgate/internal/metrics"
)

const redisKeyPrefix = "fraudgate:ratelimit:"

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the sustained rate per client.
	RequestsPerMinute int
	// BurstSize allows brief bursts above the sustained rate (local bucket only).
	BurstSize int
	// CleanupInterval is how often idle local buckets are evicted.
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 600,
		BurstSize:         50,
		CleanupInterval:   time.Minute,
	}
}

type clientState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks rate limits by key
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*clientState
	stop    chan struct{}
	once    sync.Once

	redis  *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithRedis shares limits across replicas through client.
func WithRedis(client *redis.Client) Option {
	return func(l *Limiter) { l.redis = client }
}

// WithLogger sets the logger used when Redis is unavailable.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func withClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a rate limiter and starts its cleanup loop. Call Stop when done.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		stop:    make(chan struct{}),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.cleanup()
	return l
}

// cleanup removes idle buckets periodically
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(2 * time.Minute)
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle(idle time.Duration) {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, state := range l.clients {
		if state.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow reports whether a request for key may proceed.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l.redis != nil {
		allowed, err := l.allowShared(ctx, key)
		if err == nil {
			return allowed
		}
		l.logger.Warn("shared rate limit unavailable, using local bucket", "error", err)
	}
	return l.allowLocal(key)
}

func (l *Limiter) allowLocal(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.clients[key]
	if !ok {
		state = &clientState{
			limiter: rate.NewLimiter(rate.Limit(float64(l.cfg.RequestsPerMinute)/60), l.cfg.BurstSize),
		}
		l.clients[key] = state
	}
	now := l.now()
	state.lastSeen = now
	return state.limiter.AllowN(now, 1)
}

// allowShared counts the request in a fixed one-minute window in Redis.
func (l *Limiter) allowShared(ctx context.Context, key string) (bool, error) {
	window := l.now().Unix() / 60
	redisKey := redisKeyPrefix + key + ":" + strconv.FormatInt(window, 10)

	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, 2*time.Minute)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= int64(l.cfg.RequestsPerMinute), nil
}

// Middleware returns a Gin middleware that rate limits by client IP
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Headers are caller-controlled, so only the peer address names a client.
		if !l.Allow(c.Request.Context(), "ip:"+c.ClientIP()) {
			metrics.RateLimitedTotal.Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			return
		}

		c.Next()
	}
}
