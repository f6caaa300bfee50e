package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedResolver memoizes profiles for a fixed TTL. Concurrent misses for the
// same subject share a single call to the inner resolver.
type CachedResolver[U comparable] struct {
	inner ProfileResolver[U]
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[U]cachedProfile
	group   singleflight.Group
}

type cachedProfile struct {
	profile Profile
	expires time.Time
}

func NewCachedResolver[U comparable](inner ProfileResolver[U], ttl time.Duration) *CachedResolver[U] {
	return &CachedResolver[U]{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[U]cachedProfile),
	}
}

func (r *CachedResolver[U]) Resolve(ctx context.Context, user U) (Profile, error) {
	r.mu.RLock()
	e, ok := r.entries[user]
	r.mu.RUnlock()
	if ok && r.now().Before(e.expires) {
		return e.profile, nil
	}

	v, err, _ := r.group.Do(fmt.Sprint(user), func() (any, error) {
		p, err := r.inner.Resolve(ctx, user)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.entries[user] = cachedProfile{profile: p, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p, _ := v.(Profile)
	return p, nil
}

// Invalidate drops the cached profile of one subject, e.g. after the
// subject was assigned another profile.
func (r *CachedResolver[U]) Invalidate(user U) {
	r.mu.Lock()
	delete(r.entries, user)
	r.mu.Unlock()
}

// InvalidateAll drops every cached profile, e.g. after a profile's
// permissions changed.
func (r *CachedResolver[U]) InvalidateAll() {
	r.mu.Lock()
	clear(r.entries)
	r.mu.Unlock()
}

// Len returns the number of cached subjects, expired ones included.
func (r *CachedResolver[U]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
