package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/escrow-settlement/api/controllers"
	ordercontrollers "github.com/angelmondragon/escrow-settlement/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/escrow-settlement/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/escrow-settlement/api/controllers/webhooks"
	"github.com/angelmondragon/escrow-settlement/api/middleware"
	checkoutsvc "github.com/angelmondragon/escrow-settlement/internal/checkout"
	"github.com/angelmondragon/escrow-settlement/internal/notifications"
	"github.com/angelmondragon/escrow-settlement/internal/orders"
	"github.com/angelmondragon/escrow-settlement/internal/payments"
	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	idempotencyStore middleware.IdempotencyStore,
	checkoutService checkoutsvc.Service,
	ordersService orders.Service,
	paymentsService payments.Service,
	notificationsService notifications.Service,
	callbackGuard *payments.CallbackGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisP,
		}))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/webhooks", func(r chi.Router) {
			callback := webhookcontrollers.GatewayCallback(paymentsService, guardOrNil(callbackGuard), logg)
			r.Post("/{method}", callback)
			// VNPay delivers its IPN as a GET.
			r.Get("/{method}", callback)
		})
		r.Get("/payments/return/{method}", paymentcontrollers.Return(paymentsService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(idempotencyStore, logg))

			r.With(middleware.RequireRole(logg, enums.ActorRoleBuyer)).
				Post("/checkout", controllers.Checkout(checkoutService, logg))

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordercontrollers.List(ordersService, logg))
				r.Get("/{orderId}", ordercontrollers.Detail(ordersService, logg))
				r.With(middleware.RequireRole(logg, enums.ActorRoleSeller, enums.ActorRoleAdmin)).
					Patch("/{orderId}/status", ordercontrollers.UpdateStatus(ordersService, logg))
				r.Post("/{orderId}/cancel", ordercontrollers.Cancel(ordersService, logg))
				r.With(middleware.RequireRole(logg, enums.ActorRoleBuyer)).
					Post("/{orderId}/confirm-received", ordercontrollers.ConfirmReceived(ordersService, logg))
			})

			r.Get("/payments/{paymentId}", paymentcontrollers.Detail(paymentsService, logg))

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.ListNotifications(notificationsService, logg))
				r.Post("/read-all", controllers.MarkAllNotificationsRead(notificationsService, logg))
				r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notificationsService, logg))
			})
		})
	})

	return r
}

// guardOrNil keeps a nil guard pointer from becoming a non-nil interface.
func guardOrNil(g *payments.CallbackGuard) webhookcontrollers.CallbackGuard {
	if g == nil {
		return nil
	}
	return g
}
