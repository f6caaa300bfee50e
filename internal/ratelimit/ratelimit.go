// Package ratelimit implements a fixed-window, per-client request limit
// stored in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/diewo77/go-partners/httpx"
	"github.com/diewo77/go-partners/internal/logging"
)

// Store is the subset of the Redis API the limiter needs. *redis.Client
// satisfies it.
type Store interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// Limiter allows Limit requests per Window for each client.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	prefix string
	log    *zap.Logger
}

// New returns a limiter allowing limit requests per window. Keys are
// namespaced with prefix so several routes can share one Redis.
func New(store Store, limit int, window time.Duration, prefix string, log *zap.Logger) *Limiter {
	return &Limiter{store: store, limit: limit, window: window, prefix: prefix, log: logging.OrNop(log).Named("ratelimit")}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Duration
}

// Allow counts one request for client.
func (l *Limiter) Allow(ctx context.Context, client string) (Decision, error) {
	key := l.prefix + ":" + client
	count, err := l.store.Incr(ctx, key).Result()
	if err != nil {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}, err
	}
	// A counter without expiry (new, or a failed Expire earlier) gets the
	// window here so it cannot block the client forever.
	ttl, err := l.store.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		if err := l.store.Expire(ctx, key, l.window).Err(); err != nil {
			l.log.Warn("set window expiry", zap.String("key", key), zap.Error(err))
		}
		ttl = l.window
	}
	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     ttl,
	}, nil
}

// Middleware enforces the limit per client IP. Store errors let the request
// through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		d, err := l.Allow(r.Context(), "ip:"+ip)
		if err != nil {
			l.log.Warn("rate limit store unavailable, allowing request", zap.String("ip", ip), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		reset := strconv.Itoa(int(d.Reset.Seconds()))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", reset)

		if !d.Allowed {
			w.Header().Set("Retry-After", reset)
			l.log.Info("rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
			httpx.Fail(w, http.StatusTooManyRequests, "Too many requests. Please slow down.", map[string]any{
				"limit":      d.Limit,
				"retryAfter": int(d.Reset.Seconds()),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of RemoteAddr. chi's RealIP middleware
// rewrites RemoteAddr from proxy headers upstream of this.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
