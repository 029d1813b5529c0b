package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/angelmondragon/escrow-settlement/pkg/config"
	goredis "github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return FromRaw(raw), srv
}

func TestSetNXOnlyFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)
	key := client.IdempotencyKey("vnpay", "txn-1")

	ok, err := client.SetNX(ctx, key, "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to win, ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, key, "1", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second SetNX to lose, ok=%v err=%v", ok, err)
	}

	srv.FastForward(2 * time.Minute)
	ok, err = client.SetNX(ctx, key, "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected SetNX after expiry to win, ok=%v err=%v", ok, err)
	}
}

func TestDelIfEqualsChecksOwner(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	key := client.LockKey("cron-worker", "dev")

	if ok, err := client.SetNX(ctx, key, "owner-a", time.Minute); err != nil || !ok {
		t.Fatalf("setnx: ok=%v err=%v", ok, err)
	}
	deleted, err := client.DelIfEquals(ctx, key, "owner-b")
	if err != nil || deleted {
		t.Fatalf("foreign owner must not release, deleted=%v err=%v", deleted, err)
	}
	deleted, err = client.DelIfEquals(ctx, key, "owner-a")
	if err != nil || !deleted {
		t.Fatalf("owner should release, deleted=%v err=%v", deleted, err)
	}
	if _, err := client.Get(ctx, key); !errors.Is(err, ErrNil) {
		t.Fatalf("expected key gone, got %v", err)
	}
}

func TestKeysAreNamespaced(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("momo", " abc "); got != "escrow:idempotency:momo:abc" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := client.LockKey("cron-worker", ""); got != "escrow:lock:cron-worker" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on nil raw should be a no-op: %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatalf("expected error without url or address")
	}
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 2 || opts.PoolSize != 7 {
		t.Fatalf("unexpected options %+v", opts)
	}
}
