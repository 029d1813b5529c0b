package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/escrow-settlement/internal/bootstrap"
	"github.com/angelmondragon/escrow-settlement/internal/cron"
	"github.com/angelmondragon/escrow-settlement/internal/escrow"
	"github.com/angelmondragon/escrow-settlement/internal/ledger"
	"github.com/angelmondragon/escrow-settlement/internal/notifications"
	"github.com/angelmondragon/escrow-settlement/internal/orders"
	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/db"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
	"github.com/angelmondragon/escrow-settlement/pkg/metrics"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
)

func main() {
	rt := bootstrap.Must(bootstrap.Start(context.Background(), "cron-worker", bootstrap.Needs{Redis: true, PubSub: true}))
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	ctx, stop := rt.SignalContext()
	defer stop()

	notifier, err := notifications.NewPubSubNotifier(rt.PubSub.NotificationPublisher(), logg)
	if err != nil {
		rt.Fatal(ctx, "failed to create notifier", err)
	}
	rt.OnClose("notifier", notifier.Wait)

	registry, err := buildJobs(cfg, logg, rt.DB, notifier)
	if err != nil {
		rt.Fatal(ctx, "failed to build cron jobs", err)
	}

	lock, err := cron.NewRedisLock(rt.Redis, rt.Redis.LockKey("cron-worker", cfg.App.Env), 0)
	if err != nil {
		rt.Fatal(ctx, "failed to create cron lock", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Settlement.SweepInterval,
	})
	if err != nil {
		rt.Fatal(ctx, "failed to create cron service", err)
	}
	scheduler, err := cron.NewScheduler(service)
	if err != nil {
		rt.Fatal(ctx, "failed to create scheduler", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"interval": service.Interval().String(),
		"jobs":     registry.Names(),
	})
	metrics.Serve(ctx, cfg.App.MetricsPort, logg)
	logg.Info(ctx, "starting cron worker")
	scheduler.Start(ctx)

	<-ctx.Done()
	scheduler.Stop()
	logg.Info(context.WithoutCancel(ctx), "cron worker shutting down gracefully")
}

// buildJobs registers the escrow sweep and the housekeeping jobs.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, notifier notifications.Notifier) (*cron.Registry, error) {
	gormDB := dbClient.DB()
	history, err := ledger.NewService(ledger.NewRepository(gormDB))
	if err != nil {
		return nil, err
	}
	escrowRepo := escrow.NewRepository(gormDB)
	engine, err := escrow.NewEngine(escrow.EngineParams{
		Tx:        dbClient,
		Repo:      escrowRepo,
		Ledger:    history,
		Completer: orders.NewCompleter(),
		Outbox:    outbox.NewService(outbox.NewRepository(gormDB), logg),
		Notifier:  notifier,
		Metrics:   metrics.NewEscrowMetrics(prometheus.DefaultRegisterer),
		Logger:    logg,
	})
	if err != nil {
		return nil, err
	}

	sweep, err := cron.NewEscrowReleaseJob(cron.EscrowReleaseJobParams{
		Logger:   logg,
		Escrows:  escrowRepo,
		Releaser: engine,
	})
	if err != nil {
		return nil, err
	}

	notificationsRepo := notifications.NewRepository(gormDB)
	notificationPurge, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      "notification_retention",
		Logger:    logg,
		DB:        dbClient,
		Purger:    cron.PurgerFunc(notificationsRepo.PurgeReadBefore),
		Retention: cron.NotificationRetention,
	})
	if err != nil {
		return nil, err
	}

	outboxRepo := outbox.NewRepository(gormDB)
	outboxPurge, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      "outbox_retention",
		Logger:    logg,
		DB:        dbClient,
		Purger:    cron.PurgerFunc(outboxRepo.PurgePublishedBefore),
		Retention: cron.OutboxRetention,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(sweep, notificationPurge, outboxPurge), nil
}
