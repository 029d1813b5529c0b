package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/escrow-settlement/internal/bootstrap"
	"github.com/angelmondragon/escrow-settlement/pkg/metrics"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox/registry"
)

func main() {
	rt := bootstrap.Must(bootstrap.Start(context.Background(), "outbox-publisher", bootstrap.Needs{PubSub: true}))
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	ctx, stop := rt.SignalContext()
	defer stop()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		rt.Fatal(ctx, "failed to build event registry", err)
	}
	gormDB := rt.DB.DB()
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            rt.DB,
		PubSub:        rt.PubSub,
		Repository:    outbox.NewRepository(gormDB),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(gormDB),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		rt.Fatal(ctx, "failed to create outbox publisher", err)
	}

	metrics.Serve(ctx, cfg.App.MetricsPort, logg)
	logg.Info(ctx, "starting outbox publisher")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Fatal(ctx, "outbox publisher stopped unexpectedly", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
