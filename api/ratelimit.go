package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// =============================================================================
// RATE LIMITING - Per-caller limits on the money-moving endpoints
// =============================================================================

// Limiter decides whether subject may make another call in scope.
type Limiter interface {
	Allow(ctx context.Context, scope, subject string) (ok bool, retryAfter time.Duration, err error)
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter is a fixed-window counter shared by all replicas.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, perMinute int) *RedisLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "ledger:rate_limit"
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: perMinute, window: time.Minute}
}

func (l *RedisLimiter) Allow(ctx context.Context, scope, subject string) (bool, time.Duration, error) {
	if l.limit <= 0 {
		return true, 0, nil
	}

	key := fmt.Sprintf("%s:%s:%s", l.prefix, scope, subject)
	raw, err := fixedWindowScript.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}

	if int(count) <= l.limit {
		return true, 0, nil
	}
	secs := math.Ceil(float64(ttlMs) / 1000.0)
	if secs < 1 {
		secs = 1
	}
	return false, time.Duration(secs) * time.Second, nil
}

// LocalLimiter keeps one token bucket per scope and subject in process.
// Counts are per instance; use RedisLimiter behind more than one replica.
// A bucket idle for a full refill window is back at burst, so it is
// dropped and recreated on the next call.
type LocalLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	every     time.Duration
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalLimiter(perMinute int) *LocalLimiter {
	l := &LocalLimiter{visitors: make(map[string]*visitor), burst: perMinute, now: time.Now}
	if perMinute > 0 {
		l.every = time.Minute / time.Duration(perMinute)
		l.idle = l.every * time.Duration(perMinute)
	}
	return l
}

func (l *LocalLimiter) Allow(_ context.Context, scope, subject string) (bool, time.Duration, error) {
	if l.burst <= 0 {
		return true, 0, nil
	}

	key := scope + ":" + subject
	l.mu.Lock()
	now := l.now()
	l.sweepLocked(now)
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	res := v.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

// sweepLocked drops idle buckets at most once per idle window.
func (l *LocalLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) >= l.idle {
			delete(l.visitors, key)
		}
	}
	l.lastSweep = now
}

// RateLimit applies l to a route group. The subject is the authenticated
// user, or the remote address for anonymous calls. Limiter failures let the
// request through.
func RateLimit(l Limiter, scope string, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := r.RemoteAddr
			if p, ok := principalFrom(r.Context()); ok {
				subject = string(p.UserID)
			}

			ok, retryAfter, err := l.Allow(r.Context(), scope, subject)
			if err != nil {
				log.WithError(err).WithField("scope", scope).Warn("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				secs := int(math.Ceil(retryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
