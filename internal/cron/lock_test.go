package cron

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/escrow-settlement/pkg/redis"
)

func newLockClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return redis.FromRaw(raw), srv
}

func TestRedisLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	client, _ := newLockClient(t)
	first, err := NewRedisLock(client, "lock:escrow-sweep:test", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, _ := NewRedisLock(client, "lock:escrow-sweep:test", time.Minute)

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected first acquire, ok=%v err=%v", ok, err)
	}
	if ok, err := second.Acquire(ctx); err != nil || ok {
		t.Fatalf("expected second acquire to fail, ok=%v err=%v", ok, err)
	}
	// a non-owner release must not free the lock
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("lock freed by non-owner")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := second.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected acquire after release, ok=%v err=%v", ok, err)
	}
}

func TestRedisLockDoesNotDeleteForeignOwnerAfterExpiry(t *testing.T) {
	ctx := context.Background()
	client, srv := newLockClient(t)
	stale, _ := NewRedisLock(client, "lock:sweep", time.Minute)
	fresh, _ := NewRedisLock(client, "lock:sweep", time.Minute)

	if ok, _ := stale.Acquire(ctx); !ok {
		t.Fatal("expected stale acquire")
	}
	srv.FastForward(2 * time.Minute)
	if ok, _ := fresh.Acquire(ctx); !ok {
		t.Fatal("expected fresh acquire after expiry")
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if !srv.Exists("lock:sweep") {
		t.Fatal("stale owner deleted the fresh lock")
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", 0); err == nil {
		t.Fatal("expected error for nil client")
	}
	client, _ := newLockClient(t)
	if _, err := NewRedisLock(client, "", 0); err == nil {
		t.Fatal("expected error for empty key")
	}
	lock, err := NewRedisLock(client, "k", 0)
	if err != nil || lock.ttl != defaultLockTTL {
		t.Fatalf("expected default ttl, got %v (%v)", lock.ttl, err)
	}
}
