package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/escrow-settlement/api/routes"
	"github.com/angelmondragon/escrow-settlement/internal/bootstrap"
	"github.com/angelmondragon/escrow-settlement/internal/notifications"
	"github.com/angelmondragon/escrow-settlement/internal/payments"
	"github.com/angelmondragon/escrow-settlement/pkg/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	rt := bootstrap.Must(bootstrap.Start(context.Background(), "api", bootstrap.Needs{Redis: true, PubSub: true}))
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	ctx, stop := rt.SignalContext()
	defer stop()

	notifier, err := notifications.NewPubSubNotifier(rt.PubSub.NotificationPublisher(), logg)
	if err != nil {
		rt.Fatal(ctx, "failed to create notifier", err)
	}
	rt.OnClose("notifier", notifier.Wait)

	svcs, err := buildServices(cfg, logg, rt.DB, notifier, metrics.NewEscrowMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		rt.Fatal(ctx, "failed to wire services", err)
	}

	callbackGuard, err := payments.NewCallbackGuard(rt.Redis, cfg.Settlement.CallbackIdempotencyTTL)
	if err != nil {
		rt.Fatal(ctx, "failed to create callback guard", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithField(ctx, "addr", addr)

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			rt.DB,
			rt.Redis,
			rt.Redis,
			svcs.checkout,
			svcs.orders,
			svcs.payments,
			svcs.notifications,
			callbackGuard,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metrics.Serve(ctx, cfg.App.MetricsPort, logg)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		rt.Fatal(ctx, "api server stopped unexpectedly", err)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
