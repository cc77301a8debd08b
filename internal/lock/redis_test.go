package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestProvider(t *testing.T, ttl time.Duration) (*RedisProvider, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewRedisProviderWithClient(client, ttl), s
}

func TestAcquireAndRelease(t *testing.T) {
	provider, s := setupTestProvider(t, 10*time.Second)
	defer provider.Close()
	defer s.Close()

	ctx := context.Background()
	handle, ok, err := provider.Acquire(ctx, "cvs_1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !ok {
		t.Fatal("expected free lock to be acquired")
	}

	if err := handle.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if s.Exists("canvas-lock:cvs_1") {
		t.Fatal("lock key should be deleted after release")
	}
}

func TestAcquireHeldLockFailsImmediately(t *testing.T) {
	provider, s := setupTestProvider(t, 10*time.Second)
	defer provider.Close()
	defer s.Close()

	ctx := context.Background()
	first, ok, err := provider.Acquire(ctx, "cvs_1")
	if err != nil || !ok {
		t.Fatalf("first Acquire failed: ok=%v err=%v", ok, err)
	}

	_, ok, err = provider.Acquire(ctx, "cvs_1")
	if err != nil {
		t.Fatalf("second Acquire errored: %v", err)
	}
	if ok {
		t.Fatal("held lock must not be acquired twice")
	}

	_ = first.Release(ctx)
}

func TestLocksAreScopedPerCanvas(t *testing.T) {
	provider, s := setupTestProvider(t, 10*time.Second)
	defer provider.Close()
	defer s.Close()

	ctx := context.Background()
	_, ok, err := provider.Acquire(ctx, "cvs_1")
	if err != nil || !ok {
		t.Fatalf("Acquire cvs_1 failed: ok=%v err=%v", ok, err)
	}

	_, ok, err = provider.Acquire(ctx, "cvs_2")
	if err != nil {
		t.Fatalf("Acquire cvs_2 errored: %v", err)
	}
	if !ok {
		t.Fatal("lock on one canvas must not block another")
	}
}

func TestTTLFreesCrashedHolder(t *testing.T) {
	provider, s := setupTestProvider(t, time.Second)
	defer provider.Close()
	defer s.Close()

	ctx := context.Background()
	_, ok, err := provider.Acquire(ctx, "cvs_1")
	if err != nil || !ok {
		t.Fatalf("Acquire failed: ok=%v err=%v", ok, err)
	}

	// the holder never releases; TTL expiry must unblock the canvas
	s.FastForward(2 * time.Second)

	_, ok, err = provider.Acquire(ctx, "cvs_1")
	if err != nil {
		t.Fatalf("Acquire after expiry errored: %v", err)
	}
	if !ok {
		t.Fatal("expected lock to be acquirable after TTL expiry")
	}
}

func TestStaleReleaseDoesNotUnlockNewHolder(t *testing.T) {
	provider, s := setupTestProvider(t, time.Second)
	defer provider.Close()
	defer s.Close()

	ctx := context.Background()
	stale, ok, err := provider.Acquire(ctx, "cvs_1")
	if err != nil || !ok {
		t.Fatalf("first Acquire failed: ok=%v err=%v", ok, err)
	}

	s.FastForward(2 * time.Second)

	_, ok, err = provider.Acquire(ctx, "cvs_1")
	if err != nil || !ok {
		t.Fatalf("second Acquire failed: ok=%v err=%v", ok, err)
	}

	// the expired handle's token no longer matches; release must not
	// delete the new holder's lock
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale Release errored: %v", err)
	}
	if !s.Exists("canvas-lock:cvs_1") {
		t.Fatal("stale release removed the new holder's lock")
	}
}
