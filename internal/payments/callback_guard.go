package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/escrow-settlement/pkg/redis"
)

const callbackScope = "gateway-callback"

// CallbackGuard remembers gateway callbacks that were already applied so a
// provider retry is acknowledged without touching the payment again.
type CallbackGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewCallbackGuard(store redis.IdempotencyStore, ttl time.Duration) (*CallbackGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &CallbackGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark reports whether ref was seen before and marks it otherwise.
func (g *CallbackGuard) CheckAndMark(ctx context.Context, ref string) (bool, error) {
	if ref == "" {
		return false, errors.New("callback reference is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(callbackScope, ref), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete forgets ref so a failed callback can be retried by the provider.
func (g *CallbackGuard) Delete(ctx context.Context, ref string) error {
	if ref == "" {
		return errors.New("callback reference is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(callbackScope, ref))
}
