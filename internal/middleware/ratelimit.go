package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting configuration.
// Valid values:
//   - RequestsPerWindow: must be > 0
//   - WindowDuration: must be > 0
type RateLimitConfig struct {
	// RequestsPerWindow is the sustained request budget per window and
	// also the burst size.
	RequestsPerWindow int
	// WindowDuration is the time window for the rate limit.
	WindowDuration time.Duration
}

// Validate checks that the RateLimitConfig has valid values.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// limit converts the window budget into a token refill rate.
func (c RateLimitConfig) limit() rate.Limit {
	return rate.Limit(float64(c.RequestsPerWindow) / c.WindowDuration.Seconds())
}

// DefaultPublicLimit is applied to ranking and feedback routes.
func DefaultPublicLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 60, WindowDuration: time.Minute}
}

// DefaultAdminLimit is applied to admin routes.
func DefaultAdminLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}
}

// RateLimitStore decides whether a request for key may proceed. When it
// refuses, retryAfter says how long until a request would be allowed.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, retryAfter time.Duration, err error)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// InMemoryRateLimitStore keeps one token bucket per key. It is local to a
// process; use RedisRateLimitStore to share limits across replicas.
type InMemoryRateLimitStore struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	now      func() time.Time
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

// Allow takes one token from key's bucket.
func (s *InMemoryRateLimitStore) Allow(_ context.Context, key string, config RateLimitConfig) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(config.limit(), config.RequestsPerWindow)}
		s.limiters[key] = e
	}
	e.lastSeen = now

	if e.limiter.AllowN(now, 1) {
		return true, 0, nil
	}
	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, config.WindowDuration, nil
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay, nil
}

// Cleanup drops buckets idle for longer than idle. A dropped bucket is
// recreated full, so idle should exceed the longest window in use.
func (s *InMemoryRateLimitStore) Cleanup(idle time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	for key, e := range s.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(s.limiters, key)
		}
	}
}

// RedisRateLimitStore counts requests in fixed windows shared by all replicas.
type RedisRateLimitStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisRateLimitStore creates a Redis-backed store.
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, prefix: "lostfound:ratelimit:", now: time.Now}
}

// Allow increments the counter for the current window.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, time.Duration, error) {
	now := s.now()
	window := now.Truncate(config.WindowDuration)
	windowKey := s.prefix + key + ":" + strconv.FormatInt(window.Unix(), 10)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, windowKey)
		pipe.Expire(ctx, windowKey, config.WindowDuration+time.Second)
		return nil
	})
	if err != nil {
		return true, 0, fmt.Errorf("rate limit counter: %w", err)
	}
	if incr.Val() <= int64(config.RequestsPerWindow) {
		return true, 0, nil
	}
	return false, window.Add(config.WindowDuration).Sub(now), nil
}

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc returns a KeyFunc that uses the client's IP address.
func IPKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// First hop is the client.
			if idx := strings.Index(xff, ","); idx != -1 {
				return "ip:" + strings.TrimSpace(xff[:idx])
			}
			return "ip:" + strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return "ip:" + strings.TrimSpace(xri)
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr
		}
		return "ip:" + host
	}
}

// UserKeyFunc keys authenticated requests by user id and falls back to IP.
func UserKeyFunc() KeyFunc {
	ipFunc := IPKeyFunc()
	return func(r *http.Request) string {
		if id := GetUserID(r.Context()); id != "" {
			return "user:" + id
		}
		return ipFunc(r)
	}
}

func keyType(key string) string {
	if i := strings.Index(key, ":"); i > 0 {
		return key[:i]
	}
	return "other"
}

// RateLimiter rejects requests over the limit with 429 and a Retry-After
// header. Store errors are logged and the request is let through.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			endpoint := normalizePath(r.URL.Path)
			kt := keyType(key)
			metrics.IncRateLimitRequests(endpoint, kt)

			allowed, retryAfter, err := store.Allow(r.Context(), key, config)
			if err != nil {
				metrics.IncRateLimitStoreErrors()
				slog.WarnContext(r.Context(), "rate limit store unavailable, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				metrics.IncRateLimitBlocked(endpoint, kt)
				secs := int(math.Ceil(retryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(secs)*time.Second).Unix(), 10))
				writeJSONError(w, r.Context(), http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
