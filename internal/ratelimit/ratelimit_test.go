package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeStore struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
	// expireErr fails Expire calls while set.
	expireErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeStore) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeStore) Expire(_ context.Context, key string, d time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expireErr != nil {
		return redis.NewBoolResult(false, f.expireErr)
	}
	f.expires[key] = d
	return redis.NewBoolResult(true, nil)
}

func (f *fakeStore) TTL(_ context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.expires[key]
	if !ok {
		return redis.NewDurationResult(-1, nil)
	}
	return redis.NewDurationResult(d, nil)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/onboarding/chat", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareLimitsPerIP(t *testing.T) {
	store := newFakeStore()
	h := New(store, 2, time.Minute, "chat", nil).Middleware(okHandler())

	rec := doRequest(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, time.Minute, store.expires["chat:ip:10.0.0.1"])

	rec = doRequest(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = doRequest(h, "10.0.0.1:5678")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])

	// Another client has its own window.
	rec = doRequest(h, "10.0.0.2:1234")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	core, logs := observer.New(zapcore.WarnLevel)
	h := New(store, 1, time.Minute, "chat", zap.New(core)).Middleware(okHandler())

	for range 3 {
		rec := doRequest(h, "10.0.0.1:1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, 3, logs.FilterMessage("rate limit store unavailable, allowing request").Len())
}

func TestAllowWithoutTTLUsesWindow(t *testing.T) {
	store := newFakeStore()
	l := New(store, 5, 30*time.Second, "x", nil)
	store.counts["x:c"] = 3 // counter exists without expiry
	d, err := l.Allow(context.Background(), "c")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, 30*time.Second, d.Reset)
	assert.Equal(t, 30*time.Second, store.expires["x:c"])
}

func TestAllowRecoversFromFailedExpire(t *testing.T) {
	store := newFakeStore()
	store.expireErr = errors.New("i/o timeout")
	l := New(store, 5, time.Minute, "chat", nil)

	_, err := l.Allow(context.Background(), "ip:10.0.0.9")
	require.NoError(t, err)
	assert.NotContains(t, store.expires, "chat:ip:10.0.0.9")

	store.expireErr = nil
	d, err := l.Allow(context.Background(), "ip:10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Remaining)
	assert.Equal(t, time.Minute, store.expires["chat:ip:10.0.0.9"])
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:443"
	assert.Equal(t, "192.0.2.7", ClientIP(req))
	req.RemoteAddr = "192.0.2.8"
	assert.Equal(t, "192.0.2.8", ClientIP(req))
}
