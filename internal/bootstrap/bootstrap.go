// Package bootstrap loads config and opens the shared clients every binary
// needs, closing them in reverse order on shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/db"
	"github.com/angelmondragon/escrow-settlement/pkg/instance"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
	"github.com/angelmondragon/escrow-settlement/pkg/migrate"
	"github.com/angelmondragon/escrow-settlement/pkg/pubsub"
	"github.com/angelmondragon/escrow-settlement/pkg/redis"
)

// Needs lists the optional clients a binary opens. The database is always opened.
type Needs struct {
	Redis  bool
	PubSub bool
}

type Runtime struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client
	PubSub *pubsub.Client

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Start loads .env and config, then opens the database (running dev
// migrations) and whatever else needs asks for. On error everything already
// opened is closed again.
func Start(ctx context.Context, kind string, needs Needs) (*Runtime, error) {
	boot := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		boot.Debug(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return &Runtime{Kind: kind, Logger: boot}, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind

	rt := &Runtime{
		Kind:   kind,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: kind,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
			Console:     cfg.App.LogFormat == "console",
		}),
	}
	if err := rt.open(ctx, needs); err != nil {
		rt.Close()
		return rt, err
	}
	return rt, nil
}

func (rt *Runtime) open(ctx context.Context, needs Needs) error {
	dbClient, err := db.New(ctx, rt.Config.DB, rt.Logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	rt.DB = dbClient
	rt.onClose("database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, rt.Config, rt.Logger, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	if needs.Redis {
		redisClient, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		rt.Redis = redisClient
		rt.onClose("redis", redisClient.Close)
	}

	if needs.PubSub {
		psClient, err := pubsub.NewClient(ctx, rt.Config.GCP, rt.Config.PubSub, rt.Logger)
		if err != nil {
			return fmt.Errorf("pubsub: %w", err)
		}
		rt.PubSub = psClient
		rt.onClose("pubsub", psClient.Close)
	}
	return nil
}

// OnClose registers fn to run before the clients opened so far are closed.
func (rt *Runtime) OnClose(name string, fn func()) {
	rt.onClose(name, func() error {
		fn()
		return nil
	})
}

func (rt *Runtime) onClose(name string, fn func() error) {
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

// Close runs every registered closer, last registered first. Failures are
// logged and don't stop the rest.
func (rt *Runtime) Close() {
	ctx := context.Background()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.fn(); err != nil && rt.Logger != nil {
			rt.Logger.Error(rt.Logger.WithField(ctx, "resource", c.name), "error during shutdown", err)
		}
	}
	rt.closers = nil
}

// SignalContext is canceled on SIGINT or SIGTERM and carries the fields
// every log line from this process should have.
func (rt *Runtime) SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	fields := map[string]any{
		"serviceKind": rt.Kind,
		"instance":    instance.GetID(),
	}
	if rt.Config != nil {
		fields["env"] = rt.Config.App.Env
	}
	return rt.Logger.WithFields(ctx, fields), stop
}

// Fatal logs err, closes what was opened and exits non-zero.
func (rt *Runtime) Fatal(ctx context.Context, msg string, err error) {
	rt.Logger.Error(ctx, msg, err)
	rt.Close()
	os.Exit(1)
}

// Must exits through Fatal when Start failed.
func Must(rt *Runtime, err error) *Runtime {
	if err != nil {
		rt.Fatal(context.Background(), "bootstrap failed", err)
	}
	return rt
}
