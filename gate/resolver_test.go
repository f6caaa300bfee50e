package gate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diewo77/go-partners/gate"
)

func TestCachedResolver_CachesUntilInvalidated(t *testing.T) {
	inner := gate.NewStaticResolver[uint]()
	inner.Set(1, gate.NewStaticProfile("partner"))
	cached := gate.NewCachedResolver[uint](inner, time.Minute)
	ctx := context.Background()

	p, err := cached.Resolve(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "partner" {
		t.Fatalf("expected partner, got %s", p.Name())
	}

	inner.Set(1, gate.NewStaticProfile("admin"))
	if p, _ := cached.Resolve(ctx, 1); p.Name() != "partner" {
		t.Errorf("expected cached partner, got %s", p.Name())
	}

	cached.Invalidate(1)
	if p, _ := cached.Resolve(ctx, 1); p.Name() != "admin" {
		t.Errorf("expected admin after Invalidate, got %s", p.Name())
	}

	inner.Set(1, gate.NewStaticProfile("support"))
	cached.InvalidateAll()
	if cached.Len() != 0 {
		t.Errorf("expected empty cache, got %d", cached.Len())
	}
	if p, _ := cached.Resolve(ctx, 1); p.Name() != "support" {
		t.Errorf("expected support after InvalidateAll, got %s", p.Name())
	}
}

func TestCachedResolver_ExpiresAfterTTL(t *testing.T) {
	inner := gate.NewStaticResolver[uint]()
	inner.Set(1, gate.NewStaticProfile("partner"))
	cached := gate.NewCachedResolver[uint](inner, 10*time.Millisecond)
	ctx := context.Background()

	_, _ = cached.Resolve(ctx, 1)
	inner.Set(1, gate.NewStaticProfile("admin"))
	time.Sleep(20 * time.Millisecond)

	if p, _ := cached.Resolve(ctx, 1); p.Name() != "admin" {
		t.Errorf("expected refreshed profile after TTL, got %s", p.Name())
	}
}

func TestCachedResolver_DoesNotCacheErrors(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("db down")
	inner := gate.ResolverFunc[uint](func(context.Context, uint) (gate.Profile, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return gate.NewStaticProfile("partner"), nil
	})
	cached := gate.NewCachedResolver[uint](inner, time.Minute)

	if _, err := cached.Resolve(context.Background(), 1); !errors.Is(err, boom) {
		t.Fatalf("expected inner error, got %v", err)
	}
	p, err := cached.Resolve(context.Background(), 1)
	if err != nil || p.Name() != "partner" {
		t.Fatalf("expected retry to succeed, got %v, %v", p, err)
	}
}

func TestCachedResolver_CoalescesConcurrentMisses(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	inner := gate.ResolverFunc[uint](func(context.Context, uint) (gate.Profile, error) {
		calls.Add(1)
		<-release
		return gate.NewStaticProfile("partner"), nil
	})
	cached := gate.NewCachedResolver[uint](inner, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cached.Resolve(context.Background(), 42)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("expected a single inner call, got %d", n)
	}
}
