package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/escrow-settlement/internal/bootstrap"
	"github.com/angelmondragon/escrow-settlement/internal/notifications"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox/idempotency"
)

func main() {
	rt := bootstrap.Must(bootstrap.Start(context.Background(), "worker", bootstrap.Needs{Redis: true, PubSub: true}))
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	ctx, stop := rt.SignalContext()
	defer stop()

	manager, err := idempotency.NewManager(rt.Redis, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		rt.Fatal(ctx, "failed to create idempotency manager", err)
	}

	notificationConsumer, err := notifications.NewConsumer(
		notifications.NewRepository(rt.DB.DB()),
		rt.PubSub.NotificationSubscription(),
		manager,
		logg,
	)
	if err != nil {
		rt.Fatal(ctx, "failed to create notification consumer", err)
	}

	service, err := NewService(ServiceParams{
		Logger:    logg,
		DB:        rt.DB,
		Redis:     rt.Redis,
		PubSub:    rt.PubSub,
		Consumers: map[string]consumer{"notifications": notificationConsumer},
	})
	if err != nil {
		rt.Fatal(ctx, "failed to create worker service", err)
	}

	logg.Info(ctx, "starting worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Fatal(ctx, "worker stopped unexpectedly", err)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}
