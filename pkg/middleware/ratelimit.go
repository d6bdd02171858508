package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lumenchat/lumenchat/pkg/observability"
)

// RateLimitConfig configures a fixed-window rate limit
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig limits anonymous clients
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 60,
		WindowDuration:    time.Minute,
	}
}

// PerUserRateLimitConfig limits authenticated users
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 300,
		WindowDuration:    time.Minute,
	}
}

// RateLimit is a Redis-backed fixed-window rate limiter shared across
// instances. Redis errors fail open: chat availability beats strict limits.
type RateLimit struct {
	redis     *redis.Client
	userCfg   *RateLimitConfig
	anonCfg   *RateLimitConfig
	keyPrefix string
	logger    *observability.Logger
}

// NewRateLimit creates a rate limiting middleware
func NewRateLimit(redisClient *redis.Client, logger *observability.Logger) *RateLimit {
	return &RateLimit{
		redis:     redisClient,
		userCfg:   PerUserRateLimitConfig(),
		anonCfg:   DefaultRateLimitConfig(),
		keyPrefix: "lumenchat:ratelimit",
		logger:    logger,
	}
}

// Handler wraps an HTTP handler with rate limiting. Authenticated requests
// are keyed by user ID, anonymous ones by client IP.
func (m *RateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		cfg := m.anonCfg
		key := "ip:" + clientIP(r)
		if userID, ok := UserID(r.Context()); ok {
			cfg = m.userCfg
			key = "user:" + userID
		}
		redisKey := fmt.Sprintf("%s:%s", m.keyPrefix, key)

		pipe := m.redis.Pipeline()
		incr := pipe.Incr(r.Context(), redisKey)
		pipe.Expire(r.Context(), redisKey, cfg.WindowDuration)
		if _, err := pipe.Exec(r.Context()); err != nil {
			m.logger.WithError(err).Warn("Rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		count := incr.Val()
		remaining := int64(cfg.RequestsPerWindow) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if count > int64(cfg.RequestsPerWindow) {
			retryAfter := cfg.WindowDuration
			if ttl, err := m.redis.TTL(r.Context(), redisKey).Result(); err == nil && ttl > 0 {
				retryAfter = ttl
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the leftmost X-Forwarded-For entry, falling back to the
// connection's remote address
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
