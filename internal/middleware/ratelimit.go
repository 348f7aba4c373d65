package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// 1回の判定結果
type RateDecision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// キーごとのトークンバケット
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateDecision, error)
	Limit() int
}

var errUnexpectedScriptResult = errors.New("unexpected rate limit script result")

// KEYS[1]=key ARGV=now_ms, capacity, interval_ms, ttl_s
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
  tokens = capacity
  last_refill = now_ms
end

if interval_ms > 0 then
  local elapsed = math.max(0, now_ms - last_refill)
  local intervals = math.floor(elapsed / interval_ms)
  if intervals > 0 then
    tokens = math.min(capacity, tokens + intervals)
    last_refill = last_refill + (intervals * interval_ms)
  end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  retry_after_ms = interval_ms - (now_ms - last_refill)
  if retry_after_ms < 0 then retry_after_ms = 0 end
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// 複数インスタンスで共有するRedis版
type RedisRateLimiter struct {
	rdb    redis.Scripter
	prefix string
	burst  int
	every  time.Duration
	now    func() time.Time
}

func NewRedisRateLimiter(rdb redis.Scripter, prefix string, burst int, every time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb, prefix: prefix, burst: burst, every: every, now: time.Now}
}

func (l *RedisRateLimiter) Limit() int { return l.burst }

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (RateDecision, error) {
	// 満タンに戻るまで保持
	ttl := int64(math.Ceil((time.Duration(l.burst) * l.every).Seconds()))
	if ttl < 1 {
		ttl = 1
	}

	vals, err := tokenBucketScript.Run(ctx, l.rdb, []string{l.prefix + key},
		l.now().UnixMilli(), l.burst, l.every.Milliseconds(), ttl,
	).Int64Slice()
	if err != nil {
		return RateDecision{}, err
	}
	if len(vals) != 3 {
		return RateDecision{}, errUnexpectedScriptResult
	}

	return RateDecision{
		Allowed:    vals[0] == 1,
		Remaining:  vals[1],
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// Redisがないとき用（プロセス内）
type MemoryRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*memoryEntry
	burst    int
	every    time.Duration
	now      func() time.Time
}

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const memoryLimiterMaxKeys = 10000

func NewMemoryRateLimiter(burst int, every time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limiters: make(map[string]*memoryEntry),
		burst:    burst,
		every:    every,
		now:      time.Now,
	}
}

func (l *MemoryRateLimiter) Limit() int { return l.burst }

func (l *MemoryRateLimiter) Allow(ctx context.Context, key string) (RateDecision, error) {
	now := l.now()

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= memoryLimiterMaxKeys {
			l.evictLocked(now)
		}
		e = &memoryEntry{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return RateDecision{Allowed: false, RetryAfter: l.every}, nil
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return RateDecision{Allowed: false, RetryAfter: d}, nil
	}

	remaining := int64(e.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return RateDecision{Allowed: true, Remaining: remaining}, nil
}

// バケットが満タンに戻ったキーを捨てる
func (l *MemoryRateLimiter) evictLocked(now time.Time) {
	idle := time.Duration(l.burst) * l.every
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > idle {
			delete(l.limiters, k)
		}
	}
}

// クライアントIPごとに制限する。Redisエラー時は通す
func RateLimit(limiter RateLimiter, log *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			key := "ip:" + ip

			d, err := limiter.Allow(c.Request().Context(), key)
			if err != nil {
				log.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))

			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				log.WithFields(logrus.Fields{
					"key":    key,
					"path":   c.Path(),
					"method": c.Request().Method,
				}).Info("rate limit exceeded")
				return c.JSON(http.StatusTooManyRequests, errorJSON("too many requests"))
			}
			return next(c)
		}
	}
}
