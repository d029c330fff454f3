package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window request counter kept in Redis, so that every
// server instance shares the same budget per key
type RateLimiter struct {
	rdb     redis.Cmdable
	window  time.Duration
	maxReqs int
	logger  *slog.Logger
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing maxReqs requests per window
func NewRateLimiter(rdb redis.Cmdable, window time.Duration, maxReqs int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:     rdb,
		window:  window,
		maxReqs: maxReqs,
		logger:  logger,
		now:     time.Now,
	}
}

// Allow counts a request for key and reports whether it fits in the current window
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := fmt.Sprintf("ip_rl:%s:%d", key, rl.now().Unix()/int64(rl.window.Seconds()))

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("count request: %w", err)
	}
	return incr.Val() <= int64(rl.maxReqs), nil
}

// RateLimitMiddleware creates a rate limiting middleware. If Redis is
// unreachable the request is let through; the auth operations behind it
// report the outage themselves.
func RateLimitMiddleware(limiter *RateLimiter, keyFunc func(*http.Request) string, onLimited func(*http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			ok, err := limiter.Allow(r.Context(), key)
			if err != nil {
				limiter.logger.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				if onLimited != nil {
					onLimited(r)
				}
				respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the request's remote host without the port. chi's RealIP
// middleware has already replaced RemoteAddr from proxy headers when present.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
