package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/angelmondragon/escrow-settlement/internal/checkout"
	"github.com/angelmondragon/escrow-settlement/internal/escrow"
	"github.com/angelmondragon/escrow-settlement/internal/gateway"
	"github.com/angelmondragon/escrow-settlement/internal/ledger"
	"github.com/angelmondragon/escrow-settlement/internal/notifications"
	"github.com/angelmondragon/escrow-settlement/internal/orders"
	"github.com/angelmondragon/escrow-settlement/internal/payments"
	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/db"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
	"github.com/angelmondragon/escrow-settlement/pkg/metrics"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
)

const gatewayTimeout = 15 * time.Second

type services struct {
	checkout      checkout.Service
	orders        orders.Service
	payments      payments.Service
	notifications notifications.Service
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, notifier notifications.Notifier, escrowMetrics *metrics.EscrowMetrics) (*services, error) {
	loc, err := cfg.Settlement.Location()
	if err != nil {
		return nil, err
	}
	gormDB := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)

	history, err := ledger.NewService(ledger.NewRepository(gormDB))
	if err != nil {
		return nil, err
	}

	gateways, err := buildGateways(context.Background(), cfg, logg, loc)
	if err != nil {
		return nil, err
	}

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Repo:     payments.NewRepository(gormDB),
		Tx:       dbClient,
		Ledger:   history,
		Outbox:   outboxSvc,
		Gateways: gateways,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	completer := orders.NewCompleter()
	engine, err := escrow.NewEngine(escrow.EngineParams{
		Tx:        dbClient,
		Repo:      escrow.NewRepository(gormDB),
		Ledger:    history,
		Completer: completer,
		Outbox:    outboxSvc,
		Notifier:  notifier,
		Metrics:   escrowMetrics,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("escrow engine: %w", err)
	}

	ordersRepo := orders.NewRepository(gormDB)
	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:      ordersRepo,
		Tx:        dbClient,
		Outbox:    outboxSvc,
		Completer: completer,
		COD:       paymentsSvc,
		Releaser:  engine,
		Notifier:  notifier,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	codes, err := orders.NewCodeGenerator(cfg.Settlement.Brand, loc)
	if err != nil {
		return nil, err
	}
	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		Tx:           dbClient,
		Catalog:      checkout.NewRepository(gormDB),
		Orders:       ordersRepo,
		Payments:     payments.NewRepository(gormDB),
		Initiator:    paymentsSvc,
		Codes:        codes,
		Outbox:       outboxSvc,
		Rates:        payments.RatesFromConfig(cfg.Settlement),
		HoldDuration: cfg.Settlement.HoldDuration,
		Logger:       logg,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	notificationsSvc, err := notifications.NewService(notifications.NewRepository(gormDB))
	if err != nil {
		return nil, err
	}

	return &services{
		checkout:      checkoutSvc,
		orders:        ordersSvc,
		payments:      paymentsSvc,
		notifications: notificationsSvc,
	}, nil
}

// buildGateways registers the offline methods and every hosted gateway that
// has credentials. Checkout with an unregistered method is rejected.
func buildGateways(ctx context.Context, cfg *config.Config, logg *logger.Logger, loc *time.Location) (*gateway.Registry, error) {
	providers := make([]gateway.Provider, 0, 5)
	for _, method := range []enums.PaymentMethod{enums.PaymentMethodCOD, enums.PaymentMethodBank} {
		offline, err := gateway.NewOffline(method)
		if err != nil {
			return nil, err
		}
		providers = append(providers, offline)
	}

	httpClient := &http.Client{Timeout: gatewayTimeout}
	if vnpay, err := gateway.NewVNPay(cfg.VNPay, loc); err == nil {
		providers = append(providers, vnpay)
	} else {
		logg.Warn(ctx, "vnpay disabled: "+err.Error())
	}
	if momo, err := gateway.NewMomo(cfg.Momo, httpClient); err == nil {
		providers = append(providers, momo)
	} else {
		logg.Warn(ctx, "momo disabled: "+err.Error())
	}
	if zalopay, err := gateway.NewZaloPay(cfg.ZaloPay, httpClient, loc); err == nil {
		providers = append(providers, zalopay)
	} else {
		logg.Warn(ctx, "zalopay disabled: "+err.Error())
	}
	return gateway.NewRegistry(providers...), nil
}
