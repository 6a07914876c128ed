package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/logging"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/middleware"
)

type LimiterConfig struct {
	RPS   int
	Burst int
}

type RateLimiter struct {
	rdb    redis.Scripter
	prefix string
	cfg    LimiterConfig
	log    *slog.Logger
	now    func() time.Time
}

// tokenBucket refills ARGV[2] tokens per second up to ARGV[1] and takes one.
// Tokens are kept in thousandths so partial refills carry over between
// calls. Returns 1 when the request is allowed.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local max_milli = tonumber(ARGV[1]) * 1000
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local bucket = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(bucket[1]) or max_milli
local last = tonumber(bucket[2]) or now
local elapsed = math.max(0, now - last)
tokens = math.min(max_milli, tokens + elapsed * refill_rate)
local allowed = 0
if tokens >= 1000 then
  tokens = tokens - 1000
  allowed = 1
end
redis.call('HSET', key, 'tokens', tokens, 'last', now)
redis.call('EXPIRE', key, math.ceil(tonumber(ARGV[1]) / math.max(refill_rate, 1)) + 1)
return allowed
`)

func New(rdb redis.Scripter, prefix string, cfg LimiterConfig) *RateLimiter {
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RPS
	}
	return &RateLimiter{rdb: rdb, prefix: prefix, cfg: cfg, log: logging.Named("ratelimit"), now: time.Now}
}

// Middleware rejects requests over the limit with 429. Redis failures let
// the request through.
func (rl *RateLimiter) Middleware(keyFunc func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.prefix + ":" + keyFunc(r)
			allowed, err := rl.allow(r.Context(), key)
			if err != nil {
				rl.log.Warn("rate limiter unavailable", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string) (bool, error) {
	now := rl.now().UnixMilli()
	n, err := tokenBucket.Run(ctx, rl.rdb, []string{key}, rl.cfg.Burst, rl.cfg.RPS, now).Int64()
	if err != nil {
		return false, err
	}
	rl.log.Debug("token bucket", "key", key, "allowed", n, "max", rl.cfg.Burst, "rps", rl.cfg.RPS)
	return n == 1, nil
}

func KeyByIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// KeyByUserOrIP uses the JWT subject when the request is authenticated.
func KeyByUserOrIP(r *http.Request) string {
	if claims := middleware.GetClaims(r); claims != nil && claims.Subject != "" {
		return "user:" + claims.Subject
	}
	return "ip:" + KeyByIP(r)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","code":` + strconv.Itoa(status) + `}`))
}
