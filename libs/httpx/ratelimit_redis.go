package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window limiter shared by every replica of a
// service. Keys are per tenant when the request carries one.
type RedisRateLimiter struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
}

// Returns {count, remaining window in ms}.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

func NewRedisRateLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window < time.Millisecond {
		window = time.Minute
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "schoolsync:rl"
	}
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

// Middleware rejects over-limit callers with 429 and a Retry-After hint. When
// Redis is unreachable, failOpen decides between serving and 503.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, ttl, err := rl.hit(r.Context(), rl.key(clientKey(r), time.Now()))
			if err != nil {
				logger.Warn("redis rate limiter error", "err", err, "fail_open", failOpen)
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, http.StatusServiceUnavailable, "rate_limiter_unavailable", "")
				return
			}
			remaining := rl.limit - int(count)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
			if remaining < 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int((ttl+time.Second-1)/time.Second)))
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RedisRateLimiter) key(client string, now time.Time) string {
	window := now.UnixMilli() / rl.window.Milliseconds()
	return rl.prefix + ":" + client + ":" + strconv.FormatInt(window, 10)
}

func (rl *RedisRateLimiter) hit(ctx context.Context, key string) (int64, time.Duration, error) {
	vals, err := fixedWindow.Run(ctx, rl.rdb, []string{key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("rate limiter script returned %d values", len(vals))
	}
	ttl := time.Duration(vals[1]) * time.Millisecond
	if ttl < 0 {
		ttl = rl.window
	}
	return vals[0], ttl, nil
}

func (rl *RedisRateLimiter) ReadyCheck() func(context.Context) error {
	return func(ctx context.Context) error {
		p, ok := rl.rdb.(interface {
			Ping(context.Context) *redis.StatusCmd
		})
		if !ok {
			return nil
		}
		return p.Ping(ctx).Err()
	}
}
