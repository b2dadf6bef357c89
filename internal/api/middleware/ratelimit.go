package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aegislabs/aegis/pkg/logger"
)

// Limit defines a fixed-window rate limit.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitConfig holds per-endpoint limits.
type RateLimitConfig struct {
	Chat    Limit
	Upload  Limit
	Default Limit

	// GracefulDegradation lets traffic through when the backing store is
	// unavailable instead of rejecting everything with 503.
	GracefulDegradation bool
}

// DefaultRateLimitConfig returns production defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Chat:                Limit{Requests: 20, Window: time.Minute},
		Upload:              Limit{Requests: 30, Window: time.Hour},
		Default:             Limit{Requests: 100, Window: time.Minute},
		GracefulDegradation: true,
	}
}

// RateLimitStore counts requests per key within a window.
type RateLimitStore interface {
	// Increment bumps the counter for key, creating it with the window's
	// expiry on first use, and returns the new count.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// IsHealthy reports whether the store is operational.
	IsHealthy() bool
}

// MemoryRateLimitStore is an in-process RateLimitStore for single-instance
// deployments.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryRateLimitStore creates an in-memory store and starts its expiry
// sweep.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	store := &MemoryRateLimitStore{entries: make(map[string]*memoryEntry)}
	go store.sweep()
	return store
}

func (s *MemoryRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		s.entries[key] = &memoryEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

func (s *MemoryRateLimitStore) IsHealthy() bool {
	return true
}

func (s *MemoryRateLimitStore) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for key, entry := range s.entries {
			if now.After(entry.expiresAt) {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}

// CounterClient is the Redis surface the Redis-backed store needs.
type CounterClient interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Ping(ctx context.Context) error
}

// RedisRateLimitStore is a RateLimitStore backed by Redis, shared across
// instances.
type RedisRateLimitStore struct {
	client  CounterClient
	prefix  string
	healthy bool
	log     *logger.Logger
}

// NewRedisRateLimitStore creates a Redis-backed store. A failed initial ping
// marks it unhealthy so the limiter can degrade gracefully.
func NewRedisRateLimitStore(client CounterClient, prefix string, log *logger.Logger) *RedisRateLimitStore {
	if log == nil {
		log = logger.Default()
	}
	store := &RedisRateLimitStore{
		client:  client,
		prefix:  prefix,
		healthy: client != nil,
		log:     log.WithComponent("ratelimit"),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			store.log.WithError(err).Warn("redis unavailable for rate limiting")
			store.healthy = false
		}
	}

	return store
}

func (s *RedisRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if !s.IsHealthy() {
		return 0, fmt.Errorf("redis not available")
	}

	fullKey := s.prefix + ":" + key
	count, err := s.client.Incr(ctx, fullKey)
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, fullKey, window); err != nil {
			s.log.WithError(err).Warn("failed to set rate limit expiry", "key", fullKey)
		}
	}
	return count, nil
}

func (s *RedisRateLimitStore) IsHealthy() bool {
	return s.healthy && s.client != nil
}

// RateLimiter provides per-client rate limiting middleware.
type RateLimiter struct {
	store  RateLimitStore
	config RateLimitConfig
	log    *logger.Logger
}

// NewRateLimiter creates a RateLimiter over the given store.
func NewRateLimiter(store RateLimitStore, config RateLimitConfig, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.Default()
	}
	return &RateLimiter{
		store:  store,
		config: config,
		log:    log.WithComponent("ratelimit"),
	}
}

// Middleware returns a limiting middleware for the named limit type
// ("chat", "upload", or anything else for the default limit).
func (rl *RateLimiter) Middleware(limitType string) func(next http.Handler) http.Handler {
	limit := rl.limitFor(limitType)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.store.IsHealthy() {
				rl.degradeOrReject(w, r, next)
				return
			}

			key := limitType + ":" + clientID(r)
			count, err := rl.store.Increment(r.Context(), key, limit.Window)
			if err != nil {
				rl.log.WithError(err).Error("rate limit check failed", "key", key)
				rl.degradeOrReject(w, r, next)
				return
			}

			remaining := limit.Requests - int(count)
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", int(limit.Window.Seconds())))

			if count > int64(limit.Requests) {
				rl.log.Warn("rate limit exceeded",
					"client_id", clientID(r),
					"limit_type", limitType,
					"count", count,
					"limit", limit.Requests,
				)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limit.Window.Seconds())))
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) degradeOrReject(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if rl.config.GracefulDegradation {
		next.ServeHTTP(w, r)
		return
	}
	http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
}

func (rl *RateLimiter) limitFor(limitType string) Limit {
	switch limitType {
	case "chat":
		return rl.config.Chat
	case "upload":
		return rl.config.Upload
	default:
		return rl.config.Default
	}
}

// clientID identifies the caller for limiting: proxy headers first, then the
// remote address.
func clientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
