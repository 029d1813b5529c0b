package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/escrow-settlement/pkg/redis"
)

type fakeStore struct {
	setNXResult bool
	setNXError  error
	lastKey     string
	lastTTL     time.Duration
	lastDeleted string
}

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	f.lastKey = key
	f.lastTTL = ttl
	return f.setNXResult, f.setNXError
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "escrow:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	if len(keys) > 0 {
		f.lastDeleted = keys[0]
	}
	return nil
}

func TestCheckAndMarkProcessedFirstTime(t *testing.T) {
	store := &fakeStore{setNXResult: true}
	manager, err := NewManager(store, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	already, err := manager.CheckAndMarkProcessed(context.Background(), "notifications", "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if already {
		t.Fatalf("first delivery must not be marked processed")
	}
	if store.lastKey != "escrow:idempotency:processed:notifications:msg-1" {
		t.Fatalf("unexpected key %q", store.lastKey)
	}
	if store.lastTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl %v", store.lastTTL)
	}
}

func TestCheckAndMarkProcessedPropagatesErrors(t *testing.T) {
	manager, _ := NewManager(&fakeStore{setNXError: errors.New("down")}, time.Hour)
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "notifications", "msg-1"); err == nil {
		t.Fatalf("expected store error")
	}
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "", "msg-1"); err == nil {
		t.Fatalf("expected consumer validation error")
	}
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "notifications", " "); err == nil {
		t.Fatalf("expected id validation error")
	}
}

func TestManagerAgainstRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	defer raw.Close()

	manager, err := NewManager(redis.FromRaw(raw), time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()

	already, err := manager.CheckAndMarkProcessed(ctx, "vnpay-callback", "txn-1")
	if err != nil || already {
		t.Fatalf("first call: already=%v err=%v", already, err)
	}
	already, err = manager.CheckAndMarkProcessed(ctx, "vnpay-callback", "txn-1")
	if err != nil || !already {
		t.Fatalf("replay should be detected: already=%v err=%v", already, err)
	}

	if err := manager.Delete(ctx, "vnpay-callback", "txn-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	already, err = manager.CheckAndMarkProcessed(ctx, "vnpay-callback", "txn-1")
	if err != nil || already {
		t.Fatalf("after delete: already=%v err=%v", already, err)
	}
}
